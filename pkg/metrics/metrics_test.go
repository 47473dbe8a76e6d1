package metrics

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	if _, ok := os.LookupEnv("CI"); ok {
		// Because the CI is quite slow, it may take more than a millisecond.
		t.Skip("flaky in CI")
	}
	defer Reset()

	{
		m := Start("counter.init")
		time.Sleep(10 * time.Millisecond)
		m.Done()
	}
	{
		m := Start("counter.init")
		time.Sleep(20 * time.Millisecond)
		m.Done()
	}
	{
		m := Start("counter.init")
		m.AddTag("failed")
		time.Sleep(15 * time.Millisecond)
		m.Done()
	}

	tr := func(d time.Duration) time.Duration { return d.Truncate(time.Millisecond) }

	have := ""
	for _, l := range List() {
		have += fmt.Sprintf("%s\t%s\t%s\t%s\n", l.Tag,
			tr(l.Times.Sum()), tr(l.Times.Min()), tr(l.Times.Max()))
	}

	want := `
counter.init	30ms	10ms	20ms
counter.init·failed	15ms	15ms	15ms
`[1:]

	if want != have {
		t.Errorf("\nwant:\n%shave:\n%s", want, have)
	}
}

func TestPrint(t *testing.T) {
	defer Reset()

	buf := new(bytes.Buffer)
	Print(buf)
	if buf.Len() != 0 {
		t.Errorf("output with no metrics: %q", buf.String())
	}

	Start("counter.persist").Done()
	Start("counter.persist").Done()
	Print(buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrong number of lines:\n%s", buf.String())
	}
	if f := strings.Fields(lines[1]); f[0] != "counter.persist" || f[1] != "2" {
		t.Errorf("wrong line: %q", lines[1])
	}
}
