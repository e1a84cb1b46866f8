// Package naming normalizes user-supplied agent identifiers and field names into
// tokens that are safe to use as secret-store path segments.
package naming

import (
	"strings"

	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// NormalizeScopeToken maps an agent identifier to a path-safe scope token.
//
// Anything after the first ':' is a version suffix and is dropped ("modelA:1.0" -> "modelA").
// Every run of non-alphanumeric characters becomes a single '_', and leading or trailing
// underscores are trimmed. Empty input, or input that normalizes to nothing, yields "default".
// Distinct identifiers may collide ("a:x" and "a:y" both give "a").
func NormalizeScopeToken(identifier string) string {
	if i := strings.IndexByte(identifier, ':'); i >= 0 {
		identifier = identifier[:i]
	}

	var b strings.Builder
	b.Grow(len(identifier))
	inRun := false
	for _, r := range identifier {
		if isAlnum(r) {
			b.WriteRune(r)
			inRun = false
			continue
		}
		if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}

	token := strings.Trim(b.String(), "_")
	if token == "" {
		return model.DefaultToken
	}
	return token
}

// SanitizeFieldName replaces path separators so a field name cannot create sub-paths.
// All other characters, '_' included, pass through unchanged.
func SanitizeFieldName(name string) string {
	return strings.NewReplacer("/", "_", `\`, "_").Replace(name)
}

// ScopeToken returns the token a scope is stored under.
func ScopeToken(scope model.Scope) string {
	switch scope.Kind {
	case model.ScopeCommon:
		return model.CommonToken
	case model.ScopeAgent:
		return NormalizeScopeToken(scope.AgentID)
	default:
		return model.DefaultToken
	}
}

// isAlnum accepts ASCII letters and digits only; other scripts are folded into '_'.
func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// CanonicalScope folds an agent scope whose token collides with a reserved token
// into that reserved scope, so "common" as an agent id gets the common-scope rules.
func CanonicalScope(scope model.Scope) model.Scope {
	if scope.Kind != model.ScopeAgent {
		return scope
	}
	switch NormalizeScopeToken(scope.AgentID) {
	case model.CommonToken:
		return model.CommonScope()
	case model.DefaultToken:
		return model.DefaultScope()
	}
	return scope
}
