// Package main is the entry point for the csvdb command line tool.
//
// csvdb reads and edits CSV tables kept in a versioned blob store: a local
// directory, a git repository or a GitHub repository. Configuration is read
// from a YAML file, a .env file next to it (for GitHub credentials) and CLI
// flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/maruel/csvdb/internal/config"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "csvdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	return run(ctx, os.Args[1:], os.Stdout)
}

const usage = `usage: csvdb [flags] <command> [args]

commands:
  create <table> <field>...      create a table, failing if it exists
  ensure <table> <field>...      create a table unless it exists
  select <table> [flags]         print rows (-where, -fields, -order, -desc,
                                 -offset, -limit, -one, -format csv|json)
  insert <table> k=v... [-- k=v...]
                                 append rows, one per group of assignments
  update <table> -set k=v [-where expr]... [-all]
  delete <table> [-where expr]... [-all]
  drop <table>                   delete a table
  tables                         list tables
  ls [path]                      list objects in the store
  history <table> [-n N] [-rev R]
                                 show commits, or the table as of commit R
  watch <table> [select flags]   print rows every time the table changes
  schema                         print the JSON schema of the config file
  version                        print version information

where expressions: f=v f!=v f>v f>=v f<v f<=v f~pattern f@a|b f!@a|b

flags:
`

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("csvdb", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	configPath := fs.String("config", "csvdb.yaml", "Configuration file")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	backend := fs.String("backend", "", "Override the configured backend (dir, git, github, memory)")
	root := fs.String("root", "", "Override the store root of the dir and git backends")
	version := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		printVersion(out)
		return nil
	}
	if err := setupLogging(*logLevel); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	switch cmd {
	case "version":
		printVersion(out)
		return nil
	case "schema":
		data, err := config.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\n", data)
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *root != "" {
		cfg.Dir.Root = *root
		cfg.Git.Root = *root
	}
	db, err := cfg.Open(ctx)
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	a := &app{db: db, cmp: opts.Comparator, out: out}
	slog.DebugContext(ctx, "Opened store", "backend", cfg.Backend, "base", cfg.BasePath, "concurrency", cfg.Concurrency)

	switch cmd {
	case "create":
		return a.create(ctx, cmdArgs, false)
	case "ensure":
		return a.create(ctx, cmdArgs, true)
	case "select":
		return a.selectRows(ctx, cmdArgs)
	case "insert":
		return a.insert(ctx, cmdArgs)
	case "update":
		return a.update(ctx, cmdArgs)
	case "delete":
		return a.delete(ctx, cmdArgs)
	case "drop":
		return a.drop(ctx, cmdArgs)
	case "tables":
		return a.tables(ctx)
	case "ls":
		return a.ls(ctx, cmdArgs)
	case "history":
		return a.history(ctx, cmdArgs)
	case "watch":
		return a.watch(ctx, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func setupLogging(level string) error {
	ll := &slog.LevelVar{}
	switch level {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
		ll.Set(slog.LevelInfo)
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", level)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			val := a.Value.Any()
			skip := false
			switch t := val.(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)
	return nil
}

func printVersion(w io.Writer) {
	version, goVersion, revision, dirty := getBuildInfo()
	_, _ = fmt.Fprintf(w, "csvdb %s\n", version)
	_, _ = fmt.Fprintf(w, "  Go version: %s\n", goVersion)
	_, _ = fmt.Fprintf(w, "  Revision:   %s\n", revision)
	if dirty {
		_, _ = fmt.Fprintf(w, "  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
