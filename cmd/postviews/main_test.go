package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"zgo.at/zli"
)

func runCmdStop(t *testing.T, exit *zli.TestExit, ready chan<- struct{}, stop chan struct{}, cmd string, args ...string) {
	defer exit.Recover()
	cmdMain(zli.NewFlags(append([]string{"postviews", cmd}, args...)), ready, stop)
}

func runCmd(t *testing.T, exit *zli.TestExit, cmd string, args ...string) {
	t.Helper()
	runCmdStop(t, exit, make(chan struct{}, 1), make(chan struct{}), cmd, args...)
	mainDone.Wait()
}

func wantExit(t *testing.T, exit *zli.TestExit, out *bytes.Buffer, want int) {
	t.Helper()
	if int(*exit) != want {
		t.Fatalf("wrong exit: %d; want: %d\n%s", *exit, want, out.String())
	}
}

// writeFiles writes all files to a temporary directory and returns its path.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

const testPage = `<!DOCTYPE html>
<html><head><title>Blog</title></head><body>
<article><h2>Seven</h2><span id="view-count-7">? views</span></article>
<article><h2>Eight</h2><span id="view-count-8">? views</span></article>
</body></html>`

// Make sure usage doesn't contain tabs, as that will mess up formatting in
// terminals.
func TestUsageTabs(t *testing.T) {
	for k, v := range usage {
		if strings.Contains(v, "\t") {
			t.Errorf("%q contains tabs", k)
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	exit, _, out := zli.Test(t)

	runCmd(t, exit, "nope")
	wantExit(t, exit, out, 1)
	if !strings.Contains(out.String(), `unknown command: "nope"`) {
		t.Error(out.String())
	}
}

func TestVersion(t *testing.T) {
	exit, _, out := zli.Test(t)

	runCmd(t, exit, "version")
	wantExit(t, exit, out, 0)
	if !strings.HasPrefix(out.String(), "version=dev; go=") {
		t.Error(out.String())
	}
}
