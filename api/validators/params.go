package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
)

// IntRange bounds an optional integer query parameter.
type IntRange struct {
	Default int
	Min     int
	Max     int
}

// QueryInt reads key from the query string, falling back to bounds.Default when absent.
func QueryInt(r *http.Request, key string, bounds IntRange) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return bounds.Default, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fieldError(key, "query parameter must be numeric", nil)
	}
	if n < bounds.Min || n > bounds.Max {
		return 0, fieldError(key, "query parameter out of range", map[string]any{"min": bounds.Min, "max": bounds.Max})
	}
	return n, nil
}

// PathUUID reads a chi route parameter as a UUID.
func PathUUID(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, fieldError(key, key+" is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fieldError(key, key+" must be a valid uuid", nil)
	}
	return id, nil
}

// CleanText normalizes free text typed by a customer: line endings become \n,
// control characters other than newline and tab are dropped, surrounding space
// is trimmed and the result is capped at maxRunes (zero means no cap).
func CleanText(input string, maxRunes int) string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			return r
		}
		return -1
	}, input))
	if maxRunes <= 0 {
		return cleaned
	}
	if runes := []rune(cleaned); len(runes) > maxRunes {
		return strings.TrimSpace(string(runes[:maxRunes]))
	}
	return cleaned
}

func fieldError(field, msg string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}
