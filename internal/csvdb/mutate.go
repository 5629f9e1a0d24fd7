// Write path: per-row transform plus appends, producing a complete new body.

package csvdb

import (
	"bytes"
)

// RowProcessor drives Mutate.
//
// This is a sealed interface: the implementations are [Update],
// [UpdateByKey], [Delete] and [Insert].
type RowProcessor interface {
	// ShouldProcess reports whether r is affected.
	ShouldProcess(r Record) bool
	// Transform returns the replacement for an affected row, or false to
	// drop it. r is a private copy.
	Transform(r Record) (Record, bool)
	// Appended returns the rows to add after the scan.
	Appended() []Record

	mutation()
}

// Mutate decodes body, runs p over every row and returns the new body and
// the number of affected rows.
//
// Affected rows are transformed or dropped, untouched rows are written back
// from their parsed values, and appended rows follow. Every row is written in
// header order with missing fields empty.
func Mutate(body []byte, p RowProcessor) ([]byte, int, error) {
	t, err := Decode(body)
	if err != nil {
		return nil, 0, err
	}
	affected := 0
	var b bytes.Buffer
	writeFields(&b, t.Header)
	for _, r := range t.Rows {
		if p.ShouldProcess(r) {
			affected++
			out, keep := p.Transform(r.Clone())
			if !keep {
				continue
			}
			r = out
		}
		b.WriteByte('\n')
		writeRow(&b, t.Header, r)
	}
	for _, r := range p.Appended() {
		affected++
		b.WriteByte('\n')
		writeRow(&b, t.Header, r)
	}
	return b.Bytes(), affected, nil
}

// Update assigns values to the named fields of every row matching Filter.
// A nil value clears the field.
type Update struct {
	Filter Filter
	Set    map[string]any
}

func (u *Update) ShouldProcess(r Record) bool { return u.Filter.Test(r) }

func (u *Update) Transform(r Record) (Record, bool) {
	for k, v := range u.Set {
		r[k] = Text(v)
	}
	return r, true
}

func (u *Update) Appended() []Record { return nil }

func (*Update) mutation() {}

// UpdateByKey replaces whole rows: a row whose Field value is a key of Rows
// becomes that record verbatim. Keys that match no row are not inserted.
type UpdateByKey struct {
	Field string
	Rows  map[string]Record
}

func (u *UpdateByKey) ShouldProcess(r Record) bool {
	_, ok := u.Rows[r[u.Field]]
	return ok
}

func (u *UpdateByKey) Transform(r Record) (Record, bool) {
	return u.Rows[r[u.Field]].Clone(), true
}

func (u *UpdateByKey) Appended() []Record { return nil }

func (*UpdateByKey) mutation() {}

// Delete drops every row matching Filter.
type Delete struct {
	Filter Filter
}

func (d *Delete) ShouldProcess(r Record) bool { return d.Filter.Test(r) }

func (d *Delete) Transform(Record) (Record, bool) { return nil, false }

func (d *Delete) Appended() []Record { return nil }

func (*Delete) mutation() {}

// Insert appends Rows after the existing rows.
type Insert struct {
	Rows []Record
}

func (*Insert) ShouldProcess(Record) bool { return false }

func (*Insert) Transform(r Record) (Record, bool) { return r, true }

func (i *Insert) Appended() []Record { return i.Rows }

func (*Insert) mutation() {}
