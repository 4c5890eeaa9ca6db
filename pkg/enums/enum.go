// Package enums holds the string-backed enums shared by models, the order
// flow and the outbox. Values match the Postgres enum types in migrations.
package enums

import (
	"fmt"
	"slices"
)

func known[T ~string](values []T, v T) bool {
	return slices.Contains(values, v)
}

func parse[T ~string](kind string, values []T, raw string) (T, error) {
	if v := T(raw); known(values, v) {
		return v, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, raw)
}
