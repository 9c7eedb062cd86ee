package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPageToken reports a page token that did not come from
// EncodeToken. Services map it to an invalid-request response.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor carries the values a Firestore query resumes after. The values
// mirror the query's order-by clause, so a token is only valid for the
// listing that produced it.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
}

// EncodeToken turns a cursor into the opaque token handed to clients.
// An empty cursor encodes to the empty string, meaning no further pages.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeToken reverses EncodeToken. An empty token yields an empty cursor
// so listings start from the beginning.
func DecodeToken(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(payload, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
