// Command postviews counts and displays page views for a static blog.
package main

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"zgo.at/errors"
	"zgo.at/postviews/pkg/log"
	"zgo.at/zli"
	"zgo.at/zvalidate"
)

var version = "dev"

const usageTop = `
postviews counts page views for posts on a static blog.

Every post has a counter element with the id "view-count-<post>"; when a page is
opened with "#post-<post>" in the URL the view count for that post is
incremented once per session. The current counts are loaded from a JSON
snapshot:

    {"7": 5, "hello-world": 1200}

The browser version is in cmd/postviews-wasm; this command runs the same logic
outside a browser.

Commands:

  help         Show help; use "help <topic>" or "help all" for more details.
  version      Show version and build information and exit.

  view         Simulate a single page view.
  render       Display the counts from the snapshot in HTML files.
  serve        Serve a directory, with counters displayed in all HTML pages.

Extra help topics:

  store        Documentation on the -store and -session flags.

All flags can also be set from the environment as $POSTVIEWS_«FLAG», where
«FLAG» is the flag name in upper case with dashes replaced by underscores. A
.env file in the current directory is loaded first, if it exists.

See "help <topic>" for more details for the command.
`

const usageVersion = `
Show version and build information and exit.
`

var usage = map[string]string{
	"":        usageTop,
	"help":    usageHelp,
	"version": usageVersion,
	"view":    usageView,
	"render":  usageRender,
	"serve":   usageServe,
	"store":   helpStore,
}

// errExit exits with 1 without printing anything; the command already
// reported the problem.
var errExit = errors.New("exit 1")

// Used in tests to wait until main() is done.
var mainDone sync.WaitGroup

func main() {
	var (
		f     = zli.NewFlags(os.Args)
		ready = make(chan struct{}, 1)
		stop  = make(chan struct{})
	)
	cmdMain(f, ready, stop)
}

func cmdMain(f zli.Flags, ready chan<- struct{}, stop chan struct{}) {
	mainDone.Add(1)
	defer mainDone.Done()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zli.Fatalf("loading .env: %s", err)
	}

	var (
		cmd = f.Shift()
		run func(zli.Flags, chan<- struct{}, chan struct{}) error
	)
	switch cmd {
	default:
		printHelp(usage[""])
		zli.Errorf("unknown command: %q", cmd)
		zli.Exit(1)
		return
	case "", "help", "-h", "-help", "--help":
		run = cmdHelp
	case "version", "-version", "--version":
		run = cmdVersion
	case "view":
		run = cmdView
	case "render":
		run = cmdRender
	case "serve":
		run = cmdServe
	}

	if err := run(f, ready, stop); err != nil {
		if !errors.Is(err, errExit) {
			zli.Errorf(err)
		}
		zli.Exit(1)
		return
	}
	zli.Exit(0)
}

func cmdVersion(f zli.Flags, ready chan<- struct{}, stop chan struct{}) error {
	fmt.Fprintf(zli.Stdout, "version=%s; go=%s", version, goVersion())
	if b, ok := debug.ReadBuildInfo(); ok {
		for _, s := range b.Settings {
			if s.Key == "vcs.revision" || s.Key == "vcs.time" {
				fmt.Fprintf(zli.Stdout, "; %s=%s", s.Key, s.Value)
			}
		}
	}
	fmt.Fprintln(zli.Stdout)
	return nil
}

func goVersion() string {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	return b.GoVersion
}

func setupLog(asJSON bool, debug []string) {
	log.Setup(zli.Stderr, asJSON, zli.WantColor, debug)
}

// parseFlags parses the flags, ignoring environment variables that don't
// match a flag.
func parseFlags(f zli.Flags) error {
	err := f.Parse(zli.FromEnv("POSTVIEWS"))
	if err != nil && !errors.As(err, &zli.ErrUnknownEnv{}) {
		return err
	}
	return nil
}

func parseLocale(v *zvalidate.Validator, locale string) language.Tag {
	tag, err := language.Parse(locale)
	if err != nil {
		v.Append("-locale", err.Error())
		return language.English
	}
	return tag
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
