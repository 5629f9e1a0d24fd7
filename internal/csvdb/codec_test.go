package csvdb

import (
	"maps"
	"slices"
	"testing"

	dberr "github.com/maruel/csvdb/internal/errors"
)

func TestDecode(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			name   string
			body   string
			header []string
			rows   []Record
		}{
			{
				"header only",
				"a,b",
				[]string{"a", "b"},
				[]Record{},
			},
			{
				"plain rows",
				"a,b\n1,2\n3,4",
				[]string{"a", "b"},
				[]Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}},
			},
			{
				"blank lines skipped",
				"a,b\n\n1,2\r\n\r\n3,4\n",
				[]string{"a", "b"},
				[]Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}},
			},
			{
				"whitespace-only lines skipped",
				"a,b\n1,2\n   \n\t\n3,4",
				[]string{"a", "b"},
				[]Record{{"a": "1", "b": "2"}, {"a": "3", "b": "4"}},
			},
			{
				"quoted spaces kept",
				"a\n\"   \"\n x",
				[]string{"a"},
				[]Record{{"a": "   "}, {"a": " x"}},
			},
			{
				"quoted comma and doubled quote",
				"a,b\n\"x,y\",\"say \"\"hi\"\"\"",
				[]string{"a", "b"},
				[]Record{{"a": "x,y", "b": `say "hi"`}},
			},
			{
				"quoted newline",
				"a,b\n\"line1\nline2\",z",
				[]string{"a", "b"},
				[]Record{{"a": "line1\nline2", "b": "z"}},
			},
			{
				"backslash escapes outside quotes",
				"a,b\nx\\,y,\\\"q\\\"",
				[]string{"a", "b"},
				[]Record{{"a": "x,y", "b": `"q"`}},
			},
			{
				"backslash kept inside quotes",
				"a\n\"c:\\dir\"",
				[]string{"a"},
				[]Record{{"a": `c:\dir`}},
			},
			{
				"short row leaves fields absent",
				"a,b,c\n1",
				[]string{"a", "b", "c"},
				[]Record{{"a": "1"}},
			},
			{
				"extra fields ignored",
				"a\n1,2,3",
				[]string{"a"},
				[]Record{{"a": "1"}},
			},
			{
				"empty fields present",
				"a,b\n,",
				[]string{"a", "b"},
				[]Record{{"a": "", "b": ""}},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := Decode([]byte(tt.body))
				if err != nil {
					t.Fatalf("Decode() error: %v", err)
				}
				if !slices.Equal(got.Header, tt.header) {
					t.Errorf("Header = %q, want %q", got.Header, tt.header)
				}
				if !recordsEqual(got.Rows, tt.rows) {
					t.Errorf("Rows = %v, want %v", got.Rows, tt.rows)
				}
			})
		}
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"empty body", ""},
			{"only blank lines", "\n\n"},
			{"unterminated quote", "a\n\"open"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Decode([]byte(tt.body))
				if dberr.CodeOf(err) != dberr.ErrFormat {
					t.Fatalf("Decode() error = %v, want FORMAT_ERROR", err)
				}
			})
		}
	})
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		rows   []Record
		want   string
	}{
		{"header only", []string{"a", "b"}, nil, "a,b"},
		{"missing fields empty", []string{"a", "b", "c"}, []Record{{"b": "2"}}, "a,b,c\n,2,"},
		{"quotes when needed", []string{"a"}, []Record{{"a": `x,"y"`}}, "a\n\"x,\"\"y\"\"\""},
		{"newline quoted", []string{"a", "b"}, []Record{{"a": "1\n2", "b": "p"}}, "a,b\n\"1\n2\",p"},
		{"single empty column", []string{"a"}, []Record{{}}, "a\n\"\""},
		{"single blank column", []string{"a"}, []Record{{"a": "  "}}, "a\n\"  \""},
		{"extra fields dropped", []string{"a"}, []Record{{"a": "1", "z": "9"}}, "a\n1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(Encode(tt.header, tt.rows)); got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	header := []string{"domain", "cookies", "note"}
	rows := []Record{
		{"domain": "a.com", "cookies": "k=v; x=\"y\"", "note": "multi\nline"},
		{"domain": "b.com", "cookies": "a,b,c", "note": `""`},
		{"domain": "c.com", "cookies": "", "note": "\r\n"},
		{"domain": " spaced ", "cookies": "\\", "note": ","},
	}
	got, err := Decode(Encode(header, rows))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got.Header, header) {
		t.Fatalf("Header = %q, want %q", got.Header, header)
	}
	if !recordsEqual(got.Rows, rows) {
		t.Fatalf("Rows = %q, want %q", got.Rows, rows)
	}

	t.Run("single column with empty value", func(t *testing.T) {
		rows := []Record{{"a": ""}, {"a": "x"}, {"a": ""}}
		got, err := Decode(Encode([]string{"a"}, rows))
		if err != nil {
			t.Fatal(err)
		}
		if !recordsEqual(got.Rows, rows) {
			t.Fatalf("Rows = %q, want %q", got.Rows, rows)
		}
	})
}

func recordsEqual(a, b []Record) bool {
	return slices.EqualFunc(a, b, func(x, y Record) bool { return maps.Equal(x, y) })
}
