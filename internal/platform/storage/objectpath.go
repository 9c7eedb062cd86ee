package storage

import (
	"fmt"
	"strings"
)

// ValidateObjectKey checks that a caller-supplied object key is safe to store
// and later sign. Keys are relative, slash-separated, and free of traversal
// sequences.
func ValidateObjectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("storage: object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("storage: object key must be relative")
	}
	if strings.ContainsAny(key, `\`) || strings.Contains(key, "//") {
		return "", fmt.Errorf("storage: object key contains invalid path characters")
	}
	for _, segment := range strings.Split(key, "/") {
		segment = strings.TrimSpace(segment)
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("storage: object key contains invalid traversal sequence")
		}
	}
	return key, nil
}
