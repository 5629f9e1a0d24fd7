// Decodes and encodes table bodies.

package csvdb

import (
	"bytes"
	"fmt"
	"strings"

	dberr "github.com/maruel/csvdb/internal/errors"
)

// Record maps a field name to its value. Absent and empty are equivalent.
type Record map[string]string

// Get returns the value of field and whether it is non-null.
func (r Record) Get(field string) (string, bool) {
	v := r[field]
	return v, v != ""
}

// Clone returns a copy of the record.
func (r Record) Clone() Record {
	c := make(Record, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// Table is a decoded table body.
type Table struct {
	Header []string
	Rows   []Record
}

// Decode parses a table body.
//
// Blank lines are skipped. Fields past the end of the header are ignored and
// missing trailing fields are left absent from the record.
func Decode(body []byte) (*Table, error) {
	lines, err := splitLines(body)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, dberr.Format("missing header line")
	}
	t := &Table{Header: lines[0], Rows: make([]Record, 0, len(lines)-1)}
	for _, fields := range lines[1:] {
		r := make(Record, len(t.Header))
		for i, name := range t.Header {
			if i < len(fields) {
				r[name] = fields[i]
			}
		}
		t.Rows = append(t.Rows, r)
	}
	return t, nil
}

// Encode serializes the table.
func (t *Table) Encode() []byte {
	return Encode(t.Header, t.Rows)
}

// Encode serializes a header and rows, newline-joined with no trailing
// newline. Each row is written in header order; missing fields are empty.
func Encode(header []string, rows []Record) []byte {
	var b bytes.Buffer
	writeFields(&b, header)
	for _, r := range rows {
		b.WriteByte('\n')
		writeRow(&b, header, r)
	}
	return b.Bytes()
}

// EncodeField quotes s when it contains a comma, a quote, a line break or a
// backslash. Backslashes are quoted so legacy escape decoding cannot alter them.
func EncodeField(s string) string {
	if !strings.ContainsAny(s, ",\"\n\r\\") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func writeFields(b *bytes.Buffer, fields []string) {
	for i, f := range fields {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(EncodeField(f))
	}
}

func writeRow(b *bytes.Buffer, header []string, r Record) {
	// A lone blank field would produce a blank line, which decoding skips.
	if len(header) == 1 && isBlank(r[header[0]]) {
		b.WriteString(`"` + r[header[0]] + `"`)
		return
	}
	for i, name := range header {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(EncodeField(r[name]))
	}
}

// isBlank reports whether s holds only spaces and tabs.
func isBlank(s string) bool {
	return strings.Trim(s, " \t") == ""
}

// splitLines tokenizes body into lines of fields, honoring quoted line breaks.
func splitLines(body []byte) ([][]string, error) {
	var (
		lines     [][]string
		fields    []string
		field     strings.Builder
		inQuotes  bool
		quoted    bool
		blank     = true
		line      = 1
		quoteLine = 0
	)
	flush := func() {
		fields = append(fields, field.String())
		field.Reset()
		quoted = false
	}
	endLine := func() {
		if blank {
			fields = fields[:0]
			field.Reset()
			quoted = false
			return
		}
		flush()
		lines = append(lines, fields)
		fields = nil
		blank = true
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inQuotes {
			switch {
			case c == '"' && i+1 < len(body) && body[i+1] == '"':
				field.WriteByte('"')
				i++
			case c == '"':
				inQuotes = false
			default:
				if c == '\n' {
					line++
				}
				field.WriteByte(c)
			}
			continue
		}
		switch c {
		case '\n':
			endLine()
			line++
		case '\r':
			if i+1 < len(body) && body[i+1] == '\n' {
				continue
			}
			blank = false
			field.WriteByte(c)
		case ',':
			blank = false
			flush()
		case '"':
			blank = false
			if field.Len() == 0 && !quoted {
				inQuotes = true
				quoted = true
				quoteLine = line
				continue
			}
			field.WriteByte(c)
		case '\\':
			blank = false
			if i+1 < len(body) && (body[i+1] == '"' || body[i+1] == ',') {
				field.WriteByte(body[i+1])
				i++
				continue
			}
			field.WriteByte(c)
		default:
			if c != ' ' && c != '\t' {
				blank = false
			}
			field.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, dberr.Format(fmt.Sprintf("unterminated quoted field starting on line %d", quoteLine)).WithDetail("line", quoteLine)
	}
	endLine()
	return lines, nil
}
