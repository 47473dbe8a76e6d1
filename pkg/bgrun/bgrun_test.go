package bgrun

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zgo.at/errors"
	"zgo.at/zstd/ztest"
)

func newTest(t *testing.T) (*Runner, *atomic.Int32) {
	t.Helper()
	var i atomic.Int32
	r := NewRunner(func(task string, err error) { t.Errorf("task %q: %s", task, err) })
	r.NewTask("test", 1, func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		i.Add(1)
		return nil
	})
	return r, &i
}

func TestRun(t *testing.T) {
	r, i := newTest(t)

	if err := r.RunTask("test"); err != nil {
		t.Fatal(err)
	}
	r.Wait("test")
	if i.Load() != 1 {
		t.Fatalf("i is %d, not 1", i.Load())
	}

	if err := r.RunTask("test"); err != nil {
		t.Fatal(err)
	}
	r.Wait("test")
	if i.Load() != 2 {
		t.Fatalf("i is %d, not 2", i.Load())
	}

	err := r.RunTask("nope")
	if !ztest.ErrorContains(err, `no task "nope"`) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestTooManyJobs(t *testing.T) {
	r, i := newTest(t)

	if err := r.RunTask("test"); err != nil {
		t.Fatal(err)
	}
	err := r.RunTask("test")
	var tooMany *ErrTooManyJobs
	if !errors.As(err, &tooMany) {
		t.Fatalf("wrong error: %v", err)
	}
	if tooMany.Num != 1 {
		t.Errorf("Num: %d", tooMany.Num)
	}
	if l := len(r.Running()); l != 1 {
		t.Errorf("running: %d", l)
	}

	r.Wait("")
	if i.Load() != 1 {
		t.Fatalf("i is %d, not 1", i.Load())
	}
	if l := len(r.Running()); l != 0 {
		t.Errorf("running: %d", l)
	}
}

func TestWaitAll(t *testing.T) {
	r, i := newTest(t)
	r.NewTask("test2", 2, func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		i.Add(1)
		return nil
	})

	for _, n := range []string{"test", "test2", "test2"} {
		if err := r.RunTask(n); err != nil {
			t.Fatal(err)
		}
	}
	r.Wait("")
	if i.Load() != 3 {
		t.Fatalf("i is %d, not 3", i.Load())
	}
}

func TestWaitFor(t *testing.T) {
	r, _ := newTest(t)
	r.NewTask("test2", 1, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Error("not cancelled")
		}
		return nil
	})
	r.RunTask("test2")

	err := r.WaitFor(2*time.Millisecond, "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error(err)
	}
	if err := r.WaitFor(time.Second, ""); err != nil {
		t.Error(err)
	}
}

func TestHistory(t *testing.T) {
	r, _ := newTest(t)
	r.maxHist = 2
	for range 3 {
		r.RunTask("test")
		r.Wait("")
	}

	h := r.History()
	if len(h) != 2 {
		t.Fatalf("len: %d", len(h))
	}
	for _, j := range h {
		if j.Task != "test" || j.Took < 50*time.Millisecond || !strings.HasPrefix(j.From, "bgrun_test.go:") {
			t.Errorf("%+v", j)
		}
	}
	if !h[0].Started.Before(h[1].Started) {
		t.Errorf("not sorted: %v", h)
	}
}

func TestLog(t *testing.T) {
	var (
		mu   sync.Mutex
		errs []string
	)
	r := NewRunner(func(task string, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, task+": "+err.Error())
	})
	r.NewTask("error", 1, func(context.Context) error { return errors.New("oh noes") })
	r.NewTask("panic", 1, func(context.Context) error { panic("FIRE!") })

	r.RunTask("error")
	r.Wait("")
	r.RunTask("panic")
	r.Wait("")

	mu.Lock()
	defer mu.Unlock()
	want := "error: oh noes\npanic: panic: FIRE!"
	if have := strings.Join(errs, "\n"); have != want {
		t.Errorf("\nhave: %q\nwant: %q", have, want)
	}
}
