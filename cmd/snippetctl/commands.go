package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/natefinch/atomic"
	flag "github.com/spf13/pflag"

	"github.com/sakif/snippet-vault/internal/cache"
	"github.com/sakif/snippet-vault/internal/config"
	"github.com/sakif/snippet-vault/internal/query"
	"github.com/sakif/snippet-vault/internal/server"
	"github.com/sakif/snippet-vault/internal/service"
)

// command is one snippetctl subcommand.
type command struct {
	flags *flag.FlagSet
	// usage starts with the command name.
	usage string
	short string
	exec  func(ctx context.Context, stdout io.Writer, svc *service.SnippetService) error

	store storeFlags
	owner string
}

func newCommand(name, usage, short string) *command {
	c := &command{
		flags: flag.NewFlagSet(name, flag.ContinueOnError),
		usage: usage,
		short: short,
	}
	c.flags.StringVar(&c.owner, "owner", "", "owner (user) ID whose snippets to read")
	c.store.register(c.flags)
	return c
}

func (c *command) name() string {
	name, _, _ := strings.Cut(c.usage, " ")
	return name
}

func (c *command) printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: snippetctl", c.usage)
	fmt.Fprintln(w)
	fmt.Fprintln(w, c.short)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	c.flags.SetOutput(w)
	c.flags.PrintDefaults()
}

// run parses flags, opens the store and executes the command. It returns
// the process exit code.
func (c *command) run(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	c.flags.SetOutput(io.Discard)
	if err := c.flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.printHelp(stdout)
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		fmt.Fprintln(stderr)
		c.printHelp(stderr)
		return 1
	}
	if c.owner == "" {
		fmt.Fprintln(stderr, "error: --owner is required")
		return 1
	}

	if err := c.execute(ctx, stdout, stderr); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func (c *command) execute(ctx context.Context, stdout, stderr io.Writer) error {
	cfg, err := config.Load(c.store.args(c.flags), config.Environ())
	if err != nil {
		return err
	}

	stores, err := server.OpenStores(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}
	if stores.Close != nil {
		defer stores.Close()
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := service.NewSnippetService(stores.Snippets, cache.New(stores.Snippets, cache.WithLogger(logger)), logger)
	return c.exec(ctx, stdout, svc)
}

// storeFlags are the config flags snippetctl forwards to config.Load.
type storeFlags struct {
	configPath string
	driver     string
	dbPath     string
	dsn        string
}

func (s *storeFlags) register(fs *flag.FlagSet) {
	fs.StringVarP(&s.configPath, "config", "c", "", "path to the server's JSONC config file")
	fs.StringVar(&s.driver, "store", "", "snippet store: sqlite, postgres or memory")
	fs.StringVar(&s.dbPath, "db", "", "sqlite database path")
	fs.StringVar(&s.dsn, "database-url", "", "postgres connection string")
}

// args rebuilds the flags the user actually set, so config.Load applies
// them with the usual precedence.
func (s *storeFlags) args(fs *flag.FlagSet) []string {
	var out []string
	for _, f := range []struct{ name, value string }{
		{"config", s.configPath},
		{"store", s.driver},
		{"db", s.dbPath},
		{"database-url", s.dsn},
	} {
		if fs.Changed(f.name) {
			out = append(out, "--"+f.name, f.value)
		}
	}
	return out
}

func listCommand() *command {
	c := newCommand("list",
		"list --owner ID [--query q] [--language l] [--favorites] [--json]",
		"List snippets, most recently updated first.")

	text := c.flags.StringP("query", "q", "", "case-insensitive text in title, description or tags")
	language := c.flags.StringP("language", "l", "", "only this language")
	favorites := c.flags.Bool("favorites", false, "only favorites")
	asJSON := c.flags.Bool("json", false, "print the view as JSON")

	c.exec = func(ctx context.Context, stdout io.Writer, svc *service.SnippetService) error {
		p := query.ParsePredicate(*text, *language, strconv.FormatBool(*favorites))
		view, err := svc.View(ctx, c.owner, p)
		if err != nil {
			return err
		}

		if *asJSON {
			enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tLANGUAGE\tFAV\tUPDATED\tTITLE\tTAGS")
		for _, s := range view.Snippets {
			fav := ""
			if s.IsFavorite {
				fav = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				s.ID, s.Language.Label(), fav, s.UpdatedAt.Local().Format(time.DateTime),
				s.Title, strings.Join(s.Tags, ","))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "\n%d of %d snippets\n", view.Count, view.Total)
		return err
	}
	return c
}

func facetsCommand() *command {
	c := newCommand("facets",
		"facets --owner ID",
		"Show totals, favorites and per-language counts.")

	c.exec = func(ctx context.Context, stdout io.Writer, svc *service.SnippetService) error {
		f, err := svc.Facets(ctx, c.owner)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "Total\t%d\n", f.Total)
		fmt.Fprintf(tw, "Favorites\t%d\n", f.Favorites)
		for _, lc := range f.Languages {
			fmt.Fprintf(tw, "%s\t%d\n", lc.Label, lc.Count)
		}
		return tw.Flush()
	}
	return c
}

func exportCommand() *command {
	c := newCommand("export",
		"export --owner ID [--out file]",
		"Write the whole collection as an indented JSON array.")

	out := c.flags.StringP("out", "o", service.ExportFileName, `output file, or "-" for stdout`)

	c.exec = func(ctx context.Context, stdout io.Writer, svc *service.SnippetService) error {
		var buf bytes.Buffer
		if err := svc.Export(ctx, c.owner, &buf); err != nil {
			return err
		}

		if *out == "-" {
			_, err := buf.WriteTo(stdout)
			return err
		}

		// A crash mid-write leaves the previous export intact.
		if err := atomic.WriteFile(*out, &buf); err != nil {
			return fmt.Errorf("writing %s: %w", *out, err)
		}
		_, err := fmt.Fprintf(stdout, "exported to %s\n", *out)
		return err
	}
	return c
}
