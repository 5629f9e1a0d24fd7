// Composable row predicates and their conjunction.

package csvdb

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Predicate is a pure row test.
type Predicate func(r Record) bool

// Filter is a conjunction of predicates. The zero value matches every row.
//
// Filter is a value: And returns a new Filter and never mutates the receiver.
type Filter struct {
	preds []Predicate
}

// Where returns a Filter holding preds.
func Where(preds ...Predicate) Filter {
	return Filter{}.And(preds...)
}

// And returns a Filter that additionally requires every one of preds.
func (f Filter) And(preds ...Predicate) Filter {
	out := make([]Predicate, 0, len(f.preds)+len(preds))
	out = append(out, f.preds...)
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return Filter{preds: out}
}

// Len returns the number of predicates in the conjunction.
func (f Filter) Len() int {
	return len(f.preds)
}

// Test reports whether r satisfies every predicate.
func (f Filter) Test(r Record) bool {
	for _, p := range f.preds {
		if !p(r) {
			return false
		}
	}
	return true
}

// Eq matches rows whose field equals v. A nil or empty v matches absent and
// empty fields.
func Eq(field string, v any) Predicate {
	want, ok := nullable(v)
	return func(r Record) bool {
		got, has := r.Get(field)
		return has == ok && got == want
	}
}

// NotEq is the negation of Eq.
func NotEq(field string, v any) Predicate {
	eq := Eq(field, v)
	return func(r Record) bool { return !eq(r) }
}

// In matches rows whose field equals any of vs. A nil or empty member
// matches absent and empty fields.
func In(field string, vs ...any) Predicate {
	set := make(map[string]struct{}, len(vs))
	hasNull := false
	for _, v := range vs {
		s, ok := nullable(v)
		if !ok {
			hasNull = true
			continue
		}
		set[s] = struct{}{}
	}
	return func(r Record) bool {
		got, has := r.Get(field)
		if !has {
			return hasNull
		}
		_, found := set[got]
		return found
	}
}

// NotIn is the negation of In.
func NotIn(field string, vs ...any) Predicate {
	in := In(field, vs...)
	return func(r Record) bool { return !in(r) }
}

// Like matches the whole field value against an SQL pattern where % matches
// any run of characters and _ any single character. Absent fields are tested
// as the empty string.
func Like(field, pattern string) Predicate {
	re := likeRegexp(pattern)
	return func(r Record) bool {
		return re.MatchString(r[field])
	}
}

// Gt matches rows whose non-null field orders after v.
func Gt(field string, v any) Predicate { return Default.Gt(field, v) }

// Ge matches rows whose non-null field orders after or equal to v.
func Ge(field string, v any) Predicate { return Default.Ge(field, v) }

// Lt matches rows whose non-null field orders before v.
func Lt(field string, v any) Predicate { return Default.Lt(field, v) }

// Le matches rows whose non-null field orders before or equal to v.
func Le(field string, v any) Predicate { return Default.Le(field, v) }

// Gt is like the package-level Gt using c.
func (c *Comparator) Gt(field string, v any) Predicate {
	return c.ordering(field, v, func(n int) bool { return n > 0 })
}

// Ge is like the package-level Ge using c.
func (c *Comparator) Ge(field string, v any) Predicate {
	return c.ordering(field, v, func(n int) bool { return n >= 0 })
}

// Lt is like the package-level Lt using c.
func (c *Comparator) Lt(field string, v any) Predicate {
	return c.ordering(field, v, func(n int) bool { return n < 0 })
}

// Le is like the package-level Le using c.
func (c *Comparator) Le(field string, v any) Predicate {
	return c.ordering(field, v, func(n int) bool { return n <= 0 })
}

func (c *Comparator) ordering(field string, v any, accept func(int) bool) Predicate {
	want, ok := nullable(v)
	return func(r Record) bool {
		if !ok {
			return false
		}
		got, has := r.Get(field)
		if !has {
			return false
		}
		return accept(c.Compare(got, want))
	}
}

// likeRegexp translates an SQL LIKE pattern into an anchored regexp.
func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for _, c := range pattern {
		switch c {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

// nullable converts v to its stored text, reporting false for null.
func nullable(v any) (string, bool) {
	s := Text(v)
	return s, s != ""
}

// Text converts a Go value to its stored text form. nil becomes "".
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case *string:
		if t == nil {
			return ""
		}
		return *t
	case []byte:
		return string(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case uint32:
		return strconv.FormatUint(uint64(t), 10)
	case float32:
		return formatFloat(float64(t), 32)
	case float64:
		return formatFloat(t, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// formatFloat drops the fraction of whole numbers.
func formatFloat(f float64, bits int) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}
