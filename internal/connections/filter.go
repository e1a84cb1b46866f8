package connections

import (
	"strings"

	"github.com/Checker-Finance/agent-connections/internal/naming"
)

// Supported case modes for scope selectors.
const (
	CaseLower = "lower"
	CaseExact = "exact"
)

// Filter restricts a listing to explicit "scope/field" selectors.
// A nil *Filter matches everything.
type Filter struct {
	fold      bool
	selectors map[string]struct{}
}

// ParseFilter parses a comma-separated selector list. It returns nil when raw holds
// no selectors. Items without a '/' can never match. In CaseLower mode scope tokens
// are compared case-insensitively; in CaseExact mode as given. Field names are always
// compared exactly, after sanitization.
func ParseFilter(raw, mode string) *Filter {
	f := &Filter{fold: mode != CaseExact, selectors: map[string]struct{}{}}
	seen := false
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		seen = true
		scope, field, ok := strings.Cut(item, "/")
		if !ok || scope == "" || field == "" {
			continue
		}
		f.selectors[f.key(scope, naming.SanitizeFieldName(field))] = struct{}{}
	}
	if !seen {
		return nil
	}
	return f
}

// Match reports whether the field stored under scopeToken is selected.
func (f *Filter) Match(scopeToken, field string) bool {
	if f == nil {
		return true
	}
	_, ok := f.selectors[f.key(scopeToken, field)]
	return ok
}

// Len returns the number of usable selectors.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.selectors)
}

func (f *Filter) key(scope, field string) string {
	if f.fold {
		scope = strings.ToLower(scope)
	}
	return scope + "/" + field
}
