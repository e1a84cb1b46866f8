package secrets

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by Backend.Read when no document exists at the path.
var ErrNotFound = errors.New("secret not found")

// Backend is a hierarchical key-value secret store. A document lives at a
// slash-separated path and holds a flat mapping of field names to values.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend kind (vault, aws, redis, memory).
	Name() string

	// Read returns the document at path, or ErrNotFound.
	Read(ctx context.Context, path string) (map[string]string, error)

	// Write replaces the whole document at path.
	Write(ctx context.Context, path string, data map[string]string) error

	// Remove deletes the document at path. Removing an absent document succeeds.
	Remove(ctx context.Context, path string) error

	// ListChildren returns the immediate child names under a path ending in '/',
	// without trailing slashes. An absent path yields an empty list.
	ListChildren(ctx context.Context, path string) ([]string, error)

	// Ping checks that the backend is reachable and usable.
	Ping(ctx context.Context) error
}

// childNames trims trailing slashes, drops empties and duplicates, and sorts.
func childNames(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, name := range raw {
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// dirPath ensures p ends with exactly one '/'.
func dirPath(p string) string {
	return strings.TrimRight(p, "/") + "/"
}

func copyDoc(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
