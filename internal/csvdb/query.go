// Read path: filter, sort, paginate, project.

package csvdb

import (
	"slices"

	dberr "github.com/maruel/csvdb/internal/errors"
)

// SortDirection selects ascending or descending order.
type SortDirection int

const (
	// SortAsc sorts from lowest to highest.
	SortAsc SortDirection = iota
	// SortDesc sorts from highest to lowest.
	SortDesc
)

// Query describes a read over one table.
type Query struct {
	// Filter selects rows. The zero value keeps every row.
	Filter Filter
	// Fields is the projection. nil returns whole rows.
	Fields []string
	// SortField is the field to order by. Empty keeps file order.
	SortField string
	// Direction applies when SortField is set.
	Direction SortDirection
	// Offset is the number of matching rows to skip.
	Offset int
	// Limit caps the number of returned rows when HasLimit is set.
	Limit    int
	HasLimit bool
	// Comparator orders SortField. nil uses Default.
	Comparator *Comparator
}

// Validate checks the pagination bounds.
func (q *Query) Validate() error {
	if q.Offset < 0 {
		return dberr.Validation("offset must be non-negative").WithDetail("offset", q.Offset)
	}
	if q.HasLimit && q.Limit < 0 {
		return dberr.Validation("limit must be non-negative").WithDetail("limit", q.Limit)
	}
	return nil
}

// Execute decodes body and runs q over its rows.
func Execute(body []byte, q *Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	t, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return q.Apply(t.Rows)
}

// Apply runs q over already decoded rows. rows is not modified and the
// returned records are fresh copies.
func (q *Query) Apply(rows []Record) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	kept := make([]Record, 0, len(rows))
	for _, r := range rows {
		if q.Filter.Test(r) {
			kept = append(kept, r)
		}
	}

	if q.SortField != "" {
		c := q.Comparator
		if c == nil {
			c = Default
		}
		slices.SortStableFunc(kept, func(a, b Record) int {
			n := c.Compare(a[q.SortField], b[q.SortField])
			if q.Direction == SortDesc {
				return -n
			}
			return n
		})
	}

	start := min(q.Offset, len(kept))
	end := len(kept)
	if q.HasLimit && q.Limit < end-start {
		end = start + q.Limit
	}
	kept = kept[start:end]

	out := make([]Record, len(kept))
	for i, r := range kept {
		if q.Fields == nil {
			out[i] = r.Clone()
			continue
		}
		p := make(Record, len(q.Fields))
		for _, f := range q.Fields {
			if v, ok := r[f]; ok {
				p[f] = v
			}
		}
		out[i] = p
	}
	return out, nil
}
