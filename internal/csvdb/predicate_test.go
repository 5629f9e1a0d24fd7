package csvdb

import (
	"testing"

	"golang.org/x/text/language"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"10", "9", 1},
		{"9", "10", -1},
		{"1.5", "1.50", 0},
		{"-3", "2", -1},
		{"a10", "a2", 1},
		{"a2", "a10", -1},
		{"b", "a", 1},
		{"a", "a", 0},
		{"file9.txt", "file10.txt", -1},
		{"10", "x", -1},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			got := Compare(tt.a, tt.b)
			if sign(got) != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want sign %d", tt.a, tt.b, got, tt.want)
			}
		})
	}

	t.Run("locale", func(t *testing.T) {
		c, err := ParseComparator("sv")
		if err != nil {
			t.Fatal(err)
		}
		// Swedish sorts ö after z.
		if c.Compare("ö", "z") <= 0 {
			t.Error("expected ö > z in Swedish")
		}
		if NewComparator(language.German).Compare("ö", "z") >= 0 {
			t.Error("expected ö < z in German")
		}
		if _, err := ParseComparator("not a locale!"); err == nil {
			t.Error("expected error for invalid locale")
		}
	})
}

func TestPredicates(t *testing.T) {
	full := Record{"name": "Alice", "age": "30", "city": ""}
	missing := Record{"name": "Bob", "age": "9"}

	tests := []struct {
		name string
		p    Predicate
		r    Record
		want bool
	}{
		{"eq match", Eq("name", "Alice"), full, true},
		{"eq mismatch", Eq("name", "Bob"), full, false},
		{"eq number coerced", Eq("age", 30), full, true},
		{"eq nil on empty", Eq("city", nil), full, true},
		{"eq nil on absent", Eq("city", nil), missing, true},
		{"eq empty on absent", Eq("city", ""), missing, true},
		{"eq value on absent", Eq("city", "Paris"), missing, false},
		{"noteq value", NotEq("name", "Bob"), full, true},
		{"noteq nil on absent", NotEq("city", nil), missing, false},
		{"noteq nil on set", NotEq("name", nil), missing, true},
		{"in match", In("name", "Carol", "Alice"), full, true},
		{"in no match", In("name", "Carol"), full, false},
		{"in null member on absent", In("city", "x", nil), missing, true},
		{"in empty member on empty", In("city", ""), full, true},
		{"in without null on absent", In("city", "x"), missing, false},
		{"notin", NotIn("name", "Carol"), full, true},
		{"notin null member on absent", NotIn("city", nil), missing, false},
		{"like prefix", Like("name", "Al%"), full, true},
		{"like single char", Like("name", "B_b"), missing, true},
		{"like anchored", Like("name", "lic"), full, false},
		{"like literal dot", Like("name", "A.ice"), full, false},
		{"like all on absent", Like("city", "%"), missing, true},
		{"gt numeric", Gt("age", 10), full, true},
		{"gt numeric not lexicographic", Gt("age", 10), missing, false},
		{"ge equal", Ge("age", "30"), full, true},
		{"lt", Lt("age", 10), missing, true},
		{"le", Le("age", 9), missing, true},
		{"gt null field", Gt("city", "a"), full, false},
		{"lt null field", Lt("city", "z"), missing, false},
		{"gt null value", Gt("age", nil), full, false},
		{"lt null value", Lt("age", ""), full, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p(tt.r); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	rows := []Record{
		{"a": "1", "b": "x"},
		{"a": "2", "b": "y"},
		{"a": "3"},
	}
	preds := []Predicate{Gt("a", 1), NotEq("b", "y")}

	t.Run("conjunction law", func(t *testing.T) {
		f := Where(preds...)
		for _, r := range rows {
			want := true
			for _, p := range preds {
				want = want && p(r)
			}
			if got := f.Test(r); got != want {
				t.Errorf("Test(%v) = %v, want %v", r, got, want)
			}
		}
	})

	t.Run("order independent", func(t *testing.T) {
		f1 := Where(preds[0], preds[1])
		f2 := Where(preds[1], preds[0])
		for _, r := range rows {
			if f1.Test(r) != f2.Test(r) {
				t.Errorf("order changed result for %v", r)
			}
		}
	})

	t.Run("empty matches all", func(t *testing.T) {
		var f Filter
		for _, r := range rows {
			if !f.Test(r) {
				t.Errorf("empty filter rejected %v", r)
			}
		}
	})

	t.Run("And does not alias", func(t *testing.T) {
		base := Where(Eq("a", "1"))
		x := base.And(Eq("b", "x"))
		y := base.And(Eq("b", "nope"))
		if base.Len() != 1 || x.Len() != 2 || y.Len() != 2 {
			t.Fatalf("lengths = %d, %d, %d", base.Len(), x.Len(), y.Len())
		}
		if !x.Test(rows[0]) {
			t.Error("x should match first row")
		}
		if y.Test(rows[0]) {
			t.Error("y should not match first row")
		}
	})
}

func TestText(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"s", "s"},
		{42, "42"},
		{int64(-7), "-7"},
		{3.0, "3"},
		{2.5, "2.5"},
		{true, "true"},
		{[]byte("b"), "b"},
	}
	for _, tt := range tests {
		if got := Text(tt.in); got != tt.want {
			t.Errorf("Text(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	default:
		return 0
	}
}
