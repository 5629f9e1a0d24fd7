package csvdb

import (
	"fmt"
	"strings"
	"testing"

	dberr "github.com/maruel/csvdb/internal/errors"
)

const people = `name,age,city
Alice,30,Paris
Bob,9,Berlin
Carol,10,
Dave,30,Rome
Eve,100,Paris`

func names(rows []Record) string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r["name"]
	}
	return strings.Join(out, ",")
}

func TestExecute(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name string
			q    Query
			want string
		}{
			{"all rows in file order", Query{}, "Alice,Bob,Carol,Dave,Eve"},
			{"filter", Query{Filter: Where(Eq("city", "Paris"))}, "Alice,Eve"},
			{"null filter", Query{Filter: Where(Eq("city", nil))}, "Carol"},
			{"sort numeric asc", Query{SortField: "age"}, "Bob,Carol,Alice,Dave,Eve"},
			{"sort desc stable", Query{SortField: "age", Direction: SortDesc}, "Eve,Alice,Dave,Carol,Bob"},
			{"offset", Query{SortField: "age", Offset: 3}, "Dave,Eve"},
			{"offset and limit", Query{SortField: "age", Offset: 1, Limit: 2, HasLimit: true}, "Carol,Alice"},
			{"limit zero", Query{Limit: 0, HasLimit: true}, ""},
			{"offset past end", Query{Offset: 10}, ""},
			{"limit clamped", Query{Offset: 4, Limit: 10, HasLimit: true}, "Eve"},
			{"filter then page", Query{Filter: Where(Ge("age", 10)), SortField: "name", Direction: SortDesc, Limit: 2, HasLimit: true}, "Eve,Dave"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := Execute([]byte(people), &tt.q)
				if err != nil {
					t.Fatalf("Execute() error: %v", err)
				}
				if n := names(got); n != tt.want {
					t.Errorf("got %q, want %q", n, tt.want)
				}
			})
		}
	})

	t.Run("projection", func(t *testing.T) {
		got, err := Execute([]byte("a,b,c\n1,2\n"), &Query{Fields: []string{"c", "a"}})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 row, got %d", len(got))
		}
		if len(got[0]) != 1 || got[0]["a"] != "1" {
			t.Errorf("got %v, want only a=1", got[0])
		}
		if _, ok := got[0]["c"]; ok {
			t.Error("absent field must stay absent")
		}
	})

	t.Run("pagination matches ranks", func(t *testing.T) {
		var b strings.Builder
		b.WriteString("id,group")
		for i := range 25 {
			fmt.Fprintf(&b, "\n%d,%d", 25-i, i%2)
		}
		body := []byte(b.String())
		all, err := Execute(body, &Query{Filter: Where(Eq("group", "0")), SortField: "id"})
		if err != nil {
			t.Fatal(err)
		}
		n := len(all)
		for k := 0; k <= n+1; k++ {
			for m := 0; m <= 4; m++ {
				got, err := Execute(body, &Query{Filter: Where(Eq("group", "0")), SortField: "id", Offset: k, Limit: m, HasLimit: true})
				if err != nil {
					t.Fatal(err)
				}
				lo, hi := min(k, n), min(k+m, n)
				if len(got) != hi-lo {
					t.Fatalf("k=%d m=%d: got %d rows, want %d", k, m, len(got), hi-lo)
				}
				for i := range got {
					if got[i]["id"] != all[lo+i]["id"] {
						t.Fatalf("k=%d m=%d: row %d = %s, want %s", k, m, i, got[i]["id"], all[lo+i]["id"])
					}
				}
			}
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			body string
			q    Query
			code dberr.ErrorCode
		}{
			{"negative offset", people, Query{Offset: -1}, dberr.ErrValidationFailed},
			{"negative limit", people, Query{Limit: -1, HasLimit: true}, dberr.ErrValidationFailed},
			{"no header", "", Query{}, dberr.ErrFormat},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Execute([]byte(tt.body), &tt.q)
				if got := dberr.CodeOf(err); got != tt.code {
					t.Errorf("code = %q, want %q (err %v)", got, tt.code, err)
				}
			})
		}
	})

	t.Run("Apply does not alias input", func(t *testing.T) {
		rows := []Record{{"a": "1"}}
		got, err := (&Query{}).Apply(rows)
		if err != nil {
			t.Fatal(err)
		}
		got[0]["a"] = "changed"
		if rows[0]["a"] != "1" {
			t.Error("Apply returned a shared record")
		}
	})
}
