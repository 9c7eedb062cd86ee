// Package pagination implements the cursor paging shared by the HTTP
// handlers and the Firestore repositories. Handlers parse the page_size
// query parameter through PageSize; repositories translate opaque page
// tokens to Firestore cursors and back.
package pagination

import (
	"errors"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when a caller asks for no particular size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps a single page regardless of what the
	// client requested.
	DefaultMaxPageSize = 100
)

// ErrInvalidPageSize reports a page_size value that is not an integer.
// Out-of-range integers are clamped instead of rejected.
var ErrInvalidPageSize = errors.New("page_size must be an integer")

// PageSize parses a page_size query value. An empty or non-positive value
// falls back to def, anything above max is clamped to max.
func PageSize(raw string, def, max int) (int, error) {
	if max <= 0 {
		max = DefaultMaxPageSize
	}
	if def <= 0 || def > max {
		def = min(DefaultPageSize, max)
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def, nil
	}
	size, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, ErrInvalidPageSize
	}
	switch {
	case size <= 0:
		return def, nil
	case size > max:
		return max, nil
	}
	return size, nil
}
