// Numeric-first, natural-order value comparison.

package csvdb

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Comparator orders field values.
//
// Values that both parse fully as numbers compare numerically. Anything else
// goes through a locale collator with numeric ordering of digit runs.
type Comparator struct {
	mu  sync.Mutex // collate.Collator keeps internal buffers
	col *collate.Collator
}

// Default is the comparator for the root locale.
var Default = NewComparator(language.Und)

// NewComparator returns a comparator for the given locale.
func NewComparator(tag language.Tag) *Comparator {
	return &Comparator{col: collate.New(tag, collate.Numeric)}
}

// ParseComparator returns a comparator for a BCP 47 locale name such as
// "en" or "de-CH". An empty name selects the root locale.
func ParseComparator(locale string) (*Comparator, error) {
	if locale == "" {
		return Default, nil
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	return NewComparator(tag), nil
}

// Compare returns -1, 0 or 1.
func (c *Comparator) Compare(a, b string) int {
	if x, ok := parseNumber(a); ok {
		if y, ok := parseNumber(b); ok {
			return cmp.Compare(x, y)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.col.CompareString(a, b)
}

// Compare compares a and b with the Default comparator.
func Compare(a, b string) int {
	return Default.Compare(a, b)
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
