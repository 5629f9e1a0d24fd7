package main

import (
	"fmt"
	"strings"

	"github.com/maruel/csvdb/internal/csvdb"
)

// whereOps lists the operators, two-character forms first.
var whereOps = []string{"!=", "!@", ">=", "<=", "=", ">", "<", "~", "@"}

// parseWhere parses one "field<op>value" expression.
//
//	field=value    Eq
//	field!=value   NotEq
//	field>value    Gt, likewise >=, <, <=
//	field~pattern  Like (% and _ wildcards)
//	field@a|b|c    In
//	field!@a|b     NotIn
func parseWhere(expr string, cmp *csvdb.Comparator) (csvdb.Predicate, error) {
	i := strings.IndexAny(expr, "=!<>~@")
	if i <= 0 {
		return nil, fmt.Errorf("invalid where expression %q: want field<op>value", expr)
	}
	field, rest := expr[:i], expr[i:]
	for _, op := range whereOps {
		v, ok := strings.CutPrefix(rest, op)
		if !ok {
			continue
		}
		switch op {
		case "=":
			return csvdb.Eq(field, v), nil
		case "!=":
			return csvdb.NotEq(field, v), nil
		case ">":
			return cmp.Gt(field, v), nil
		case ">=":
			return cmp.Ge(field, v), nil
		case "<":
			return cmp.Lt(field, v), nil
		case "<=":
			return cmp.Le(field, v), nil
		case "~":
			return csvdb.Like(field, v), nil
		case "@":
			return csvdb.In(field, splitValues(v)...), nil
		case "!@":
			return csvdb.NotIn(field, splitValues(v)...), nil
		}
	}
	return nil, fmt.Errorf("invalid operator in where expression %q", expr)
}

func splitValues(v string) []any {
	parts := strings.Split(v, "|")
	out := make([]any, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return out
}

// parseAssign parses "field=value".
func parseAssign(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return "", "", fmt.Errorf("invalid assignment %q: want field=value", s)
	}
	return k, v, nil
}

// multiFlag collects a repeated string flag.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, " ")
}

func (m *multiFlag) Set(s string) error {
	*m = append(*m, s)
	return nil
}
