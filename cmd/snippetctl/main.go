// Command snippetctl reads one owner's snippets straight from the store,
// through the same cache and query engine the server uses.
//
// USAGE:
//
//	snippetctl list   --owner ID [--query q] [--language l] [--favorites] [--json]
//	snippetctl facets --owner ID
//	snippetctl export --owner ID [--out snippets-export.json]
//
// Store selection uses the server's configuration: --config, --store, --db
// and --database-url, then the same environment variables.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

func main() {
	os.Exit(run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]))
}

func run(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	commands := []*command{listCommand(), facetsCommand(), exportCommand()}

	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout, commands)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	for _, c := range commands {
		if c.name() == args[0] {
			return c.run(ctx, stdout, stderr, args[1:])
		}
	}

	fmt.Fprintf(stderr, "error: unknown command %q\n\n", args[0])
	printUsage(stderr, commands)
	return 1
}

func printUsage(w io.Writer, commands []*command) {
	fmt.Fprintln(w, "Usage: snippetctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-58s %s\n", c.usage, c.short)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.TrimSpace(`
Run "snippetctl <command> --help" for the flags of a command.`))
}
