// Package evidence defines the value types shared by the verification
// pipeline: evidence items and the candidate claims that collect them.
package evidence

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies where a piece of evidence came from.
type Kind string

const (
	KindStatic  Kind = "static"
	KindRuntime Kind = "runtime"
	KindSpec    Kind = "spec"
	KindConfig  Kind = "config"
)

// AllKinds lists every kind in canonical order.
var AllKinds = []Kind{KindStatic, KindRuntime, KindSpec, KindConfig}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindStatic, KindRuntime, KindSpec, KindConfig:
		return true
	}
	return false
}

// StaticFamily reports whether k counts as static analysis for scoring.
// Spec and config evidence are read from artifacts at rest, like code.
func (k Kind) StaticFamily() bool {
	return k == KindStatic || k == KindSpec || k == KindConfig
}

// Evidence is a single provenance-tagged fact about a claim.
// Values are immutable once created; copy before changing.
type Evidence struct {
	Kind    Kind   `json:"kind" yaml:"kind" toml:"kind" validate:"required,evidencekind"`
	Locator string `json:"locator" yaml:"locator" toml:"locator" validate:"required"`
	Snippet string `json:"snippet,omitempty" yaml:"snippet,omitempty" toml:"snippet,omitempty"`
	Source  string `json:"source" yaml:"source" toml:"source" validate:"required"`

	// Negative marks an adapter that looked and found nothing.
	Negative bool `json:"negative,omitempty" yaml:"negative,omitempty" toml:"negative,omitempty"`

	// Collision marks a name that resolved to more than one entity.
	Collision bool `json:"collision,omitempty" yaml:"collision,omitempty" toml:"collision,omitempty"`
}

// Positive reports whether the item corroborates the claim.
func (e Evidence) Positive() bool {
	return !e.Negative
}

func (e Evidence) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s:%s", e.Kind, e.Source, e.Locator)
	if e.Negative {
		b.WriteString(" (negative)")
	}
	if e.Collision {
		b.WriteString(" (collision)")
	}
	return b.String()
}

// Compare orders evidence by kind, source, locator, snippet and markers.
func Compare(a, b Evidence) int {
	if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
		return c
	}
	if c := strings.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	if c := strings.Compare(a.Locator, b.Locator); c != 0 {
		return c
	}
	if c := strings.Compare(a.Snippet, b.Snippet); c != 0 {
		return c
	}
	if c := compareBool(a.Negative, b.Negative); c != 0 {
		return c
	}
	return compareBool(a.Collision, b.Collision)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// Sort orders items in place using Compare.
func Sort(items []Evidence) {
	sort.SliceStable(items, func(i, j int) bool {
		return Compare(items[i], items[j]) < 0
	})
}

// Union returns the sorted, duplicate-free union of the given sequences.
// Inputs are not modified.
func Union(sets ...[]Evidence) []Evidence {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]Evidence, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	Sort(out)

	// Compact in place
	w := 0
	for i := range out {
		if w > 0 && out[w-1] == out[i] {
			continue
		}
		out[w] = out[i]
		w++
	}
	return out[:w]
}

// CountPositive returns the number of corroborating items.
func CountPositive(items []Evidence) int {
	n := 0
	for _, e := range items {
		if e.Positive() {
			n++
		}
	}
	return n
}
