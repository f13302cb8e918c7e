package pubdata

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies one producer invocation and one partition. Parts returns
// the key components in the order they fill a path template's placeholders.
type Key interface {
	Parts() []string
}

// Year is a single-component key for datasets partitioned by year only.
type Year int

// Parts implements Key.
func (y Year) Parts() []string {
	return []string{strconv.Itoa(int(y))}
}

func (y Year) String() string {
	return strconv.Itoa(int(y))
}

// Fixed is the zero-component key for caches holding exactly one entry.
type Fixed struct{}

// Parts implements Key.
func (Fixed) Parts() []string {
	return nil
}

// Template is a relative path pattern with positional "{}" placeholders,
// e.g. "cbp/parquet/{}/{}/part.parquet". Substitution is strictly
// positional: rendering with the wrong number of parts is an error, not
// silent misplacement.
type Template struct {
	pattern string
	arity   int
}

// NewTemplate parses a path pattern, counting its placeholders.
func NewTemplate(pattern string) Template {
	return Template{
		pattern: pattern,
		arity:   strings.Count(pattern, "{}"),
	}
}

// Arity returns the number of placeholders in the template.
func (t Template) Arity() int {
	return t.arity
}

// Render substitutes parts into the placeholders in order.
// Returns ErrTemplateArity if the count does not match.
func (t Template) Render(parts ...string) (string, error) {
	if len(parts) != t.arity {
		return "", fmt.Errorf("%w: template %q has %d placeholders, got %d parts",
			ErrTemplateArity, t.pattern, t.arity, len(parts))
	}
	rendered := t.pattern
	for _, part := range parts {
		rendered = strings.Replace(rendered, "{}", part, 1)
	}
	return rendered, nil
}
