// Package keypath builds secret-store document paths and the composite key ids
// exposed to clients.
//
// A composite id is "{owner}_{field}_{scope}". The owner is everything before the
// first '_' and the scope token everything after the last '_', so field names may
// contain underscores. Owner ids that contain '_' cannot be parsed back correctly;
// that is a known limitation of the format. Agent scope tokens can contain '_'
// too ("gpt-4o" -> "gpt_4o"); ParseCandidates lists every split so callers can
// probe the store for the one that exists.
package keypath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Checker-Finance/agent-connections/internal/naming"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

const (
	usersRoot = "users"
	separator = "_"
)

// ErrMalformedIdentifier is returned when a composite id cannot be parsed.
var ErrMalformedIdentifier = errors.New("malformed connection identifier")

// UsersRoot returns the parent path of every user's documents.
func UsersRoot() string {
	return usersRoot + "/"
}

// UserRoot returns the parent path of one user's scope documents.
func UserRoot(ownerUserID string) string {
	return usersRoot + "/" + ownerUserID + "/"
}

// DocumentPath returns the path of the document holding every field of (owner, scope).
func DocumentPath(ownerUserID string, scope model.Scope) string {
	return DocumentPathForToken(ownerUserID, naming.ScopeToken(scope))
}

// DocumentPathForToken is DocumentPath for an already-normalized scope token.
func DocumentPathForToken(ownerUserID, scopeToken string) string {
	return UserRoot(ownerUserID) + scopeToken
}

// FormatCompositeID returns the client-facing id of one field.
func FormatCompositeID(ownerUserID, keyName string, scope model.Scope) string {
	return FormatCompositeIDForToken(ownerUserID, keyName, naming.ScopeToken(scope))
}

// FormatCompositeIDForToken is FormatCompositeID for an already-normalized scope token.
func FormatCompositeIDForToken(ownerUserID, keyName, scopeToken string) string {
	return ownerUserID + separator + naming.SanitizeFieldName(keyName) + separator + scopeToken
}

// CompositeID is a parsed composite key id.
type CompositeID struct {
	OwnerUserID string
	KeyName     string
	ScopeToken  string
}

// Scope returns the scope addressed by the id's token.
func (c CompositeID) Scope() model.Scope {
	return ScopeFromToken(c.ScopeToken)
}

// Path returns the document path the id lives in.
func (c CompositeID) Path() string {
	return DocumentPathForToken(c.OwnerUserID, c.ScopeToken)
}

func (c CompositeID) String() string {
	return c.OwnerUserID + separator + c.KeyName + separator + c.ScopeToken
}

// ParseCompositeID splits id on its first and last '_'.
func ParseCompositeID(id string) (CompositeID, error) {
	first := strings.Index(id, separator)
	last := strings.LastIndex(id, separator)
	if first < 0 || first >= last {
		return CompositeID{}, fmt.Errorf("%w: %q needs owner, key and scope", ErrMalformedIdentifier, id)
	}

	parsed := CompositeID{
		OwnerUserID: id[:first],
		KeyName:     id[first+1 : last],
		ScopeToken:  id[last+1:],
	}
	switch {
	case parsed.KeyName == "":
		return CompositeID{}, fmt.Errorf("%w: %q has an empty key name", ErrMalformedIdentifier, id)
	case parsed.OwnerUserID == "":
		return CompositeID{}, fmt.Errorf("%w: %q has an empty owner", ErrMalformedIdentifier, id)
	case parsed.ScopeToken == "":
		return CompositeID{}, fmt.Errorf("%w: %q has an empty scope", ErrMalformedIdentifier, id)
	case !ValidSegment(parsed.OwnerUserID):
		return CompositeID{}, fmt.Errorf("%w: owner %q is not a valid path segment", ErrMalformedIdentifier, parsed.OwnerUserID)
	case !ValidSegment(parsed.ScopeToken):
		return CompositeID{}, fmt.Errorf("%w: scope %q is not a valid path segment", ErrMalformedIdentifier, parsed.ScopeToken)
	}
	return parsed, nil
}

// ValidSegment reports whether s can be used as one path segment: non-empty,
// no '/' or '\', and not "." or "..".
func ValidSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// ParseCandidates returns every (key, scope) split of id, the ParseCompositeID
// result first, then splits that move the key/scope boundary further left.
// Splits whose scope is not a valid path segment are skipped.
func ParseCandidates(id string) ([]CompositeID, error) {
	strict, err := ParseCompositeID(id)
	if err != nil {
		return nil, err
	}
	out := []CompositeID{strict}

	rest := id[len(strict.OwnerUserID)+1:]
	boundary := len(strict.KeyName)
	for {
		i := strings.LastIndex(rest[:boundary], separator)
		if i <= 0 {
			break
		}
		boundary = i
		if !ValidSegment(rest[i+1:]) {
			continue
		}
		out = append(out, CompositeID{
			OwnerUserID: strict.OwnerUserID,
			KeyName:     rest[:i],
			ScopeToken:  rest[i+1:],
		})
	}
	return out, nil
}

// ScopeFromToken maps a stored scope token back to a scope.
func ScopeFromToken(token string) model.Scope {
	switch token {
	case model.CommonToken:
		return model.CommonScope()
	case model.DefaultToken:
		return model.DefaultScope()
	default:
		return model.AgentScope(token)
	}
}
