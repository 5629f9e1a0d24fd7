package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/maruel/csvdb/internal/blob"
	"github.com/maruel/csvdb/internal/csvdb"
	"github.com/maruel/csvdb/internal/storage"
)

type app struct {
	db  *storage.DB
	cmp *csvdb.Comparator
	out io.Writer
}

// tableArgs splits "<table> [flags]" and parses the flags with fs.
func tableArgs(fs *flag.FlagSet, args []string) (string, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "", fmt.Errorf("%s: missing table name", fs.Name())
	}
	if err := fs.Parse(args[1:]); err != nil {
		return "", err
	}
	if fs.NArg() != 0 {
		return "", fmt.Errorf("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return args[0], nil
}

func (a *app) predicates(wheres []string) ([]csvdb.Predicate, error) {
	preds := make([]csvdb.Predicate, 0, len(wheres))
	for _, w := range wheres {
		p, err := parseWhere(w, a.cmp)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

func (a *app) create(ctx context.Context, args []string, ifNotExist bool) error {
	if len(args) < 2 {
		return errors.New("usage: create <table> <field>...")
	}
	t := a.db.Table(args[0])
	if !ifNotExist {
		if err := t.Create(ctx, args[1:]...); err != nil {
			return err
		}
		_, err := fmt.Fprintf(a.out, "created %s\n", t.Path())
		return err
	}
	created, err := t.CreateIfNotExist(ctx, args[1:]...)
	if err != nil {
		return err
	}
	state := "exists"
	if created {
		state = "created"
	}
	_, err = fmt.Fprintf(a.out, "%s %s\n", state, t.Path())
	return err
}

// selectFlags are shared by select and watch.
type selectFlags struct {
	wheres multiFlag
	fields string
	order  string
	desc   bool
	offset int
	limit  int
	one    bool
	format string
}

func (s *selectFlags) register(fs *flag.FlagSet) {
	fs.Var(&s.wheres, "where", "Filter expression, repeatable; all must match")
	fs.StringVar(&s.fields, "fields", "", "Comma separated fields to print (default: all)")
	fs.StringVar(&s.order, "order", "", "Field to sort by")
	fs.BoolVar(&s.desc, "desc", false, "Sort descending")
	fs.IntVar(&s.offset, "offset", 0, "Number of matching rows to skip")
	fs.IntVar(&s.limit, "limit", 0, "Maximum number of rows to print (default: all)")
	fs.BoolVar(&s.one, "one", false, "Print only the first row")
	fs.StringVar(&s.format, "format", "csv", "Output format (csv, json)")
}

func (a *app) builder(t *storage.Table, fs *flag.FlagSet, s *selectFlags) (storage.SelectBuilder, error) {
	preds, err := a.predicates(s.wheres)
	if err != nil {
		return storage.SelectBuilder{}, err
	}
	b := t.Select().Where(preds...).Offset(s.offset)
	if s.fields != "" {
		b = b.Fields(strings.Split(s.fields, ",")...)
	}
	if s.order != "" {
		if s.desc {
			b = b.OrderByDesc(s.order)
		} else {
			b = b.OrderBy(s.order)
		}
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "limit" {
			b = b.Limit(s.limit)
		}
	})
	if s.format != "csv" && s.format != "json" {
		return b, fmt.Errorf("unknown format %q", s.format)
	}
	return b, nil
}

func (a *app) selectRows(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("select", flag.ContinueOnError)
	var s selectFlags
	s.register(fs)
	name, err := tableArgs(fs, args)
	if err != nil {
		return err
	}
	t := a.db.Table(name)
	b, err := a.builder(t, fs, &s)
	if err != nil {
		return err
	}
	return a.printSelect(ctx, t, b, &s)
}

func (a *app) printSelect(ctx context.Context, t *storage.Table, b storage.SelectBuilder, s *selectFlags) error {
	var rows []csvdb.Record
	if s.one {
		row, ok, err := b.FetchOne(ctx)
		if err != nil {
			return err
		}
		if ok {
			rows = []csvdb.Record{row}
		}
	} else {
		var err error
		if rows, err = b.Execute(ctx); err != nil {
			return err
		}
	}
	if s.format == "json" {
		if rows == nil {
			rows = []csvdb.Record{}
		}
		e := json.NewEncoder(a.out)
		e.SetIndent("", "  ")
		return e.Encode(rows)
	}
	header := b.Query().Fields
	if header == nil {
		var err error
		if header, err = t.Header(ctx); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(a.out, "%s\n", csvdb.Encode(header, rows))
	return err
}

func (a *app) insert(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: insert <table> k=v... [-- k=v...]")
	}
	var rows []csvdb.Record
	cur := csvdb.Record{}
	for _, arg := range args[1:] {
		if arg == "--" {
			if len(cur) != 0 {
				rows = append(rows, cur)
			}
			cur = csvdb.Record{}
			continue
		}
		k, v, err := parseAssign(arg)
		if err != nil {
			return err
		}
		cur[k] = v
	}
	if len(cur) != 0 {
		rows = append(rows, cur)
	}
	n, err := a.db.Table(args[0]).InsertInto().Values(rows...).Execute(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%d\n", n)
	return err
}

func (a *app) update(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	var wheres, sets multiFlag
	fs.Var(&wheres, "where", "Filter expression, repeatable")
	fs.Var(&sets, "set", "Assignment field=value, repeatable; an empty value clears the field")
	all := fs.Bool("all", false, "Update every row when no -where is given")
	name, err := tableArgs(fs, args)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		return errors.New("update: at least one -set is required")
	}
	if len(wheres) == 0 && !*all {
		return errors.New("update: refusing to update every row without -all")
	}
	preds, err := a.predicates(wheres)
	if err != nil {
		return err
	}
	b := a.db.Table(name).Update().Where(preds...)
	for _, s := range sets {
		k, v, err := parseAssign(s)
		if err != nil {
			return err
		}
		b = b.Set(k, v)
	}
	n, err := b.Execute(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%d\n", n)
	return err
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	var wheres multiFlag
	fs.Var(&wheres, "where", "Filter expression, repeatable")
	all := fs.Bool("all", false, "Delete every row when no -where is given")
	name, err := tableArgs(fs, args)
	if err != nil {
		return err
	}
	if len(wheres) == 0 && !*all {
		return errors.New("delete: refusing to delete every row without -all")
	}
	preds, err := a.predicates(wheres)
	if err != nil {
		return err
	}
	n, err := a.db.Table(name).Delete().Where(preds...).Execute(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.out, "%d\n", n)
	return err
}

func (a *app) drop(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: drop <table>")
	}
	return a.db.Table(args[0]).Drop(ctx)
}

func (a *app) tables(ctx context.Context) error {
	names, err := a.db.Tables(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if _, err := fmt.Fprintln(a.out, n); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) ls(ctx context.Context, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: ls [path]")
	}
	p := ""
	if len(args) == 1 {
		p = args[0]
	}
	infos, err := a.db.Store().List(ctx, p)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, i := range infos {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", i.Path, i.Size, i.Version)
	}
	return w.Flush()
}

func (a *app) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Number of commits to show")
	rev := fs.String("rev", "", "Print the table as of this commit instead")
	name, err := tableArgs(fs, args)
	if err != nil {
		return err
	}
	h, ok := a.db.Store().(blob.Historian)
	if !ok {
		return errors.New("history: the configured backend keeps no history")
	}
	t := a.db.Table(name)
	if *rev != "" {
		obj, err := h.ReadAt(ctx, t.Path(), *rev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(a.out, "%s\n", obj.Content)
		return err
	}
	commits, err := h.History(ctx, t.Path(), *n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, c := range commits {
		_, _ = fmt.Fprintf(w, "%.12s\t%s\t%s\t%s\n", c.Hash, c.CommitDate.Format("2006-01-02 15:04:05"), c.Author, c.Message)
	}
	return w.Flush()
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var s selectFlags
	s.register(fs)
	name, err := tableArgs(fs, args)
	if err != nil {
		return err
	}
	d, ok := a.db.Store().(*blob.Dir)
	if !ok {
		return errors.New("watch: only the dir backend can be watched")
	}
	t := a.db.Table(name)
	b, err := a.builder(t, fs, &s)
	if err != nil {
		return err
	}
	if err := a.printSelect(ctx, t, b, &s); err != nil {
		return err
	}
	return d.Watch(ctx, t.Path(), func(ctx context.Context) {
		_, _ = fmt.Fprintln(a.out, "---")
		if err := a.printSelect(ctx, t, b, &s); err != nil {
			slog.WarnContext(ctx, "Failed to read table", "table", name, "err", err)
		}
	})
}
