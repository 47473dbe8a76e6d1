package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"zgo.at/errors"
	"zgo.at/zli"
)

const usageHelp = `
Show help; use "help <command>" to display detailed help for a command, or "help
all" to display everything.
`

func printHelp(t string) {
	fmt.Fprint(zli.Stdout, zli.Usage(zli.UsageTrim|zli.UsageHeaders, t))
}

func cmdHelp(f zli.Flags, ready chan<- struct{}, stop chan struct{}) error {
	if err := f.Parse(); err != nil {
		return err
	}
	if len(f.Args) == 0 {
		printHelp(usage[""])
		return nil
	}

	if f.Args[0] == "all" {
		printHelp(usage[""])
		fmt.Fprintln(zli.Stdout)
		for _, h := range []string{"help", "version", "view", "render", "serve", "store"} {
			head := fmt.Sprintf("─── Help for %q ", h)
			fmt.Fprintf(zli.Stdout, "%s%s\n\n",
				zli.Colorf(head, zli.Bold),
				strings.Repeat("─", 80-utf8.RuneCountInString(head)))
			printHelp(usage[h])
			fmt.Fprintln(zli.Stdout)
		}
		return nil
	}

	t, ok := usage[f.Args[0]]
	if !ok {
		return errors.Errorf("no help topic for %q", f.Args[0])
	}
	printHelp(t)
	return nil
}

const helpStore = `
The -store flag sets where the view counts are written after every counted
view; the -session flag sets where the posts that were already counted in this
session are remembered. Both accept the same connection strings:

    memory                  In memory; lost when the command exits.

    memory+<duration>       In memory, with keys that expire after the
                            duration; for example memory+30m. Only useful
                            with "serve".

    file+<path>             JSON object in a file; for example
                            file+./postviews-local.json. The file is created
                            if it doesn't exist.

    sqlite+<path>           Table "kv" in a SQLite database; for example
                            sqlite+./postviews.sqlite3. The database is
                            created if it doesn't exist.

    redis+<url>             Redis server; for example
                            redis+redis://localhost:6379/0. Add ?ttl=30m to
                            expire keys.

The view counts are stored under the key "blog-views"; counted posts are stored
as "viewed-<post>" with the value "true".

Several sessions can share one session store: all keys are prefixed with the
-session-id, which is a new random UUID by default. Use the same -session-id to
continue a session:

    postviews view -session sqlite+./sessions.sqlite3 -session-id alice ...

The counts in the -store are never read back; the snapshot is always the
source of truth.
`
