// Package orm provides schema-agnostic record access over the CRM custom
// objects API: a Model bound to a schema key and tenant, and a chainable
// query builder for filtered reads.
package orm

import (
	"strings"
	"unicode"
)

// Record is the generic CRUD unit, a field name to value mapping. Persisted
// records carry their CRM-assigned identifier under the "id" key.
type Record map[string]any

// toCRMKey converts a camelCase key to the CRM's snake_case convention by
// inserting an underscore before each uppercase letter and lowercasing it.
func toCRMKey(key string) string {
	var b strings.Builder
	b.Grow(len(key) + 4)
	for _, r := range key {
		if unicode.IsUpper(r) {
			b.WriteByte('_')
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// fromCRMKey converts a snake_case key back to camelCase. Only an underscore
// directly followed by a lowercase letter is collapsed; anything else passes
// through untouched.
func fromCRMKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	runes := []rune(key)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '_' && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			b.WriteRune(unicode.ToUpper(runes[i+1]))
			i++
			continue
		}
		b.WriteRune(runes[i])
	}
	return b.String()
}

// ToCRMFields translates every key of a record to the CRM naming convention.
// The translation is purely syntactic: keys are never checked against a
// schema definition, undeclared keys pass through translated.
func ToCRMFields(data Record) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[toCRMKey(k)] = v
	}
	return out
}

// FromCRMFields is the inverse of ToCRMFields.
func FromCRMFields(data map[string]any) Record {
	out := make(Record, len(data))
	for k, v := range data {
		out[fromCRMKey(k)] = v
	}
	return out
}
