// Package skill holds the closed set of certifiable skill categories and
// their one canonical serialization.
package skill

import (
	"fmt"
	"strings"
)

// Category is a certifiable skill. The zero value is not a valid category.
type Category uint8

const (
	SolanaDeveloper Category = iota + 1
	UIUXDesigner
	ContentWriter
	DataAnalyst
	MarketingSpecialist
	FrontendDeveloper
)

type entry struct {
	category Category
	key      string
	display  string
}

// table is the only place category strings are spelled out. Address
// derivation, storage and comparisons all go through it.
var table = []entry{
	{SolanaDeveloper, "SolanaDeveloper", "Solana Developer"},
	{UIUXDesigner, "UIUXDesigner", "UI/UX Designer"},
	{ContentWriter, "ContentWriter", "Content Writer"},
	{DataAnalyst, "DataAnalyst", "Data Analyst"},
	{MarketingSpecialist, "MarketingSpecialist", "Marketing Specialist"},
	{FrontendDeveloper, "FrontendDeveloper", "Frontend Developer"},
}

var (
	byKey     = make(map[string]Category, len(table))
	byDisplay = make(map[string]Category, len(table))
)

func init() {
	for _, e := range table {
		byKey[strings.ToLower(e.key)] = e.category
		byDisplay[e.display] = e.category
	}
}

func lookup(c Category) (entry, bool) {
	for _, e := range table {
		if e.category == c {
			return e, true
		}
	}
	return entry{}, false
}

// All returns every category in declaration order.
func All() []Category {
	out := make([]Category, 0, len(table))
	for _, e := range table {
		out = append(out, e.category)
	}
	return out
}

// String returns the canonical display string, which is also the seed used
// for address derivation.
func (c Category) String() string {
	if e, ok := lookup(c); ok {
		return e.display
	}
	return fmt.Sprintf("Category(%d)", uint8(c))
}

// Key returns the enum-style identifier (e.g. "UIUXDesigner"), safe for URL paths.
func (c Category) Key() string {
	if e, ok := lookup(c); ok {
		return e.key
	}
	return ""
}

func (c Category) Valid() bool {
	_, ok := lookup(c)
	return ok
}

// Parse accepts either the canonical display string or the enum key
// (case-insensitive).
func Parse(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if c, ok := byDisplay[s]; ok {
		return c, nil
	}
	if c, ok := byKey[strings.ToLower(s)]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown skill category %q", s)
}

// ParseList parses and de-duplicates a list of categories, preserving order.
func ParseList(items []string) ([]Category, error) {
	out := make([]Category, 0, len(items))
	seen := make(map[Category]bool, len(items))
	for _, item := range items {
		c, err := Parse(item)
		if err != nil {
			return nil, err
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate skill category %q", c)
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid skill category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Missing returns the categories in required that are absent from held.
func Missing(required, held []Category) []Category {
	have := make(map[Category]bool, len(held))
	for _, c := range held {
		have[c] = true
	}
	var missing []Category
	for _, c := range required {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
