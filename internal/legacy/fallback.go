// Package legacy reads connections saved under the historical percent-encoded
// layout and moves them to the canonical one.
//
// Older writers stored a connection at users/{owner}/{quote(agent)} under the field
// quote(name), where quote percent-encodes every byte outside the RFC 3986 unreserved
// set, and exposed ids built from the raw agent id and name.
package legacy

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/keypath"
	"github.com/Checker-Finance/agent-connections/internal/naming"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// FieldStore is the field-level store the fallback reads from and migrates into.
type FieldStore interface {
	GetField(ctx context.Context, path, field string) (string, bool)
	SetField(ctx context.Context, path, field, value string) error
	DeleteField(ctx context.Context, path, field string) error
}

// Location addresses one field of one document.
type Location struct {
	Path  string
	Field string
}

// Fallback recovers connections from the legacy layout.
type Fallback struct {
	store  FieldStore
	logger *zap.Logger
}

// New creates a Fallback over store.
func New(store FieldStore, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{store: store, logger: logger}
}

// LegacyLocation returns where (owner, keyName, rawScope) was stored by older writers.
func LegacyLocation(ownerUserID, keyName, rawScope string) Location {
	token := model.DefaultToken
	if rawScope != "" {
		token = Escape(rawScope)
	}
	return Location{
		Path:  keypath.DocumentPathForToken(ownerUserID, token),
		Field: Escape(keyName),
	}
}

// CanonicalLocation returns where the same connection lives today, and its scope token.
func CanonicalLocation(ownerUserID, keyName, rawScope string) (Location, string) {
	scope := naming.CanonicalScope(keypath.ScopeFromToken(rawScope))
	token := naming.ScopeToken(scope)
	return Location{
		Path:  keypath.DocumentPathForToken(ownerUserID, token),
		Field: naming.SanitizeFieldName(keyName),
	}, token
}

// Recover looks the connection up in the legacy layout. A hit is copied to the
// canonical location and the legacy field removed; the canonical scope token is returned.
func (f *Fallback) Recover(ctx context.Context, ownerUserID, keyName, rawScope string) (value, scopeToken string, ok bool) {
	canonical, token := CanonicalLocation(ownerUserID, keyName, rawScope)
	for _, old := range legacyLocations(ownerUserID, keyName, rawScope) {
		if old == canonical {
			continue
		}
		value, ok = f.store.GetField(ctx, old.Path, old.Field)
		if !ok {
			continue
		}
		f.migrate(ctx, ownerUserID, old, canonical, value)
		return value, token, true
	}
	return "", "", false
}

func (f *Fallback) migrate(ctx context.Context, ownerUserID string, old, canonical Location, value string) {
	if err := f.store.SetField(ctx, canonical.Path, canonical.Field, value); err != nil {
		f.logger.Warn("legacy.migrate_failed",
			zap.String("from", old.Path),
			zap.String("to", canonical.Path),
			zap.Error(err))
		return
	}
	if err := f.store.DeleteField(ctx, old.Path, old.Field); err != nil {
		f.logger.Warn("legacy.cleanup_failed", zap.String("path", old.Path), zap.Error(err))
	}
	f.logger.Info("legacy.migrated",
		zap.String("owner", ownerUserID),
		zap.String("from", old.Path),
		zap.String("to", canonical.Path))
}

// legacyLocations lists the encoded location first, then the same location with the
// agent segment unencoded: Vault decoded percent-escapes in request paths, so documents
// written through it landed under the raw agent id.
func legacyLocations(ownerUserID, keyName, rawScope string) []Location {
	encoded := LegacyLocation(ownerUserID, keyName, rawScope)
	if rawScope == "" {
		return []Location{encoded}
	}
	decoded := Location{
		Path:  keypath.DocumentPathForToken(ownerUserID, rawScope),
		Field: encoded.Field,
	}
	if decoded == encoded {
		return []Location{encoded}
	}
	return []Location{encoded, decoded}
}

const upperhex = "0123456789ABCDEF"

// Escape percent-encodes every byte of s except ALPHA, DIGIT and "-._~".
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}
