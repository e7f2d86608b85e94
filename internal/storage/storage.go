// Package storage persists job documents and scraped page records.
// Persistence is a durability backstop for the live notification stream:
// writes are best-effort, at-least-once, last-write-wins per field.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("job not found")

// setPath assigns value at a dotted path inside a decoded job document,
// e.g. "processing_status.pages_scraped" -> 3. Intermediate objects are
// created as needed; a non-object in the middle of a path is replaced.
func setPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for i, part := range parts {
		if part == "" {
			return fmt.Errorf("invalid field path %q", path)
		}
		if i == len(parts)-1 {
			cur[part] = value
			return nil
		}
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	return nil
}
