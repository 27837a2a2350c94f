// Package adapters holds helpers shared by the concrete evidence adapters.
package adapters

import (
	"strings"
	"unicode"
)

// FoldName reduces a name to lowercase letters and digits so that
// "BillingService", "billing-service" and "billing_service" compare equal.
func FoldName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SameName reports whether two names are equal after folding.
func SameName(a, b string) bool {
	fa := FoldName(a)
	return fa != "" && fa == FoldName(b)
}

// MentionsName reports whether text contains name, ignoring case. Names
// with separators also match their folded spelling.
func MentionsName(text, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, strings.ToLower(name)) {
		return true
	}
	folded := FoldName(name)
	return folded != "" && folded != strings.ToLower(name) && strings.Contains(FoldName(text), folded)
}

// MentionsFolded reports whether text contains name once both are folded,
// so "billing-service" and "billing_service.go" mention BillingService.
func MentionsFolded(text, name string) bool {
	folded := FoldName(name)
	return folded != "" && strings.Contains(FoldName(text), folded)
}

// TableColumn splits "table.column" into its parts. column is empty for a
// bare table name.
func TableColumn(object string) (table, column string) {
	object = strings.TrimSpace(object)
	if i := strings.LastIndex(object, "."); i >= 0 {
		return object[:i], object[i+1:]
	}
	return object, ""
}
