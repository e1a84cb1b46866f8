// Package connections implements create, read, update, delete and listing of
// agent connections: named secrets a user keeps per agent scope.
package connections

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/access"
	"github.com/Checker-Finance/agent-connections/internal/directory"
	"github.com/Checker-Finance/agent-connections/internal/events"
	"github.com/Checker-Finance/agent-connections/internal/keypath"
	"github.com/Checker-Finance/agent-connections/internal/metrics"
	"github.com/Checker-Finance/agent-connections/internal/naming"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// Store is the field-level secret store the service works against.
type Store interface {
	GetField(ctx context.Context, path, field string) (string, bool)
	SetField(ctx context.Context, path, field, value string) error
	DeleteField(ctx context.Context, path, field string) error
	ReadDocument(ctx context.Context, path string) map[string]string
	ListScopesForUser(ctx context.Context, ownerUserID string) []string
	Ping(ctx context.Context) error
	BackendName() string
}

// LegacyReader recovers connections written under an older layout.
type LegacyReader interface {
	Recover(ctx context.Context, ownerUserID, keyName, rawScope string) (value, scopeToken string, ok bool)
}

// Options configures a Service.
type Options struct {
	// Enabled turns the secret backend integration on. When false every storage
	// operation fails with ErrBackendDisabled after validation and authorization.
	Enabled        bool
	Gate           access.Gate
	FilterCaseMode string
	Legacy         LegacyReader
	Directory      directory.UserDirectory
	Events         events.Publisher
	Now            func() time.Time
}

// Service orchestrates connection operations on behalf of an actor.
type Service struct {
	store   Store
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
	publish events.Publisher
}

// Patch holds the optional fields of an update. Nil leaves a field unchanged;
// an empty KeyName or Value is treated the same way.
type Patch struct {
	KeyName  *string
	Value    *string
	AgentID  *string
	IsCommon *bool
}

// Status reports the state of the secret backend integration.
type Status struct {
	Enabled   bool   `json:"enabled"`
	Backend   string `json:"backend"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// NewService creates a Service over store.
func NewService(store Store, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Noop{}
	}
	if opts.FilterCaseMode == "" {
		opts.FilterCaseMode = CaseLower
	}
	return &Service{store: store, opts: opts, logger: logger, now: now, publish: pub}
}

// FilterCaseMode returns the configured scope selector case rule.
func (s *Service) FilterCaseMode() string {
	return s.opts.FilterCaseMode
}

// Enabled reports whether the backend integration is turned on.
func (s *Service) Enabled() bool {
	return s.opts.Enabled
}

// Create stores value under keyName in owner's scope, overwriting any previous value.
func (s *Service) Create(ctx context.Context, actor model.Actor, ownerUserID, keyName, value string, scope model.Scope) (conn model.AgentConnection, err error) {
	defer s.track("create", &err)

	if ownerUserID == "" {
		ownerUserID = actor.ID
	}
	if strings.TrimSpace(keyName) == "" || strings.TrimSpace(value) == "" {
		return conn, fmt.Errorf("%w: key name and value are required", ErrInvalidInput)
	}
	if err := validOwner(ownerUserID); err != nil {
		return conn, err
	}

	scope = naming.CanonicalScope(scope)
	if scope.IsCommon() {
		if err := s.opts.Gate.RequireAdmin(actor); err != nil {
			return conn, fmt.Errorf("common connections: %w", err)
		}
	}
	if err := s.opts.Gate.RequireOwnerOrAdmin(actor, ownerUserID); err != nil {
		return conn, err
	}
	if !s.opts.Enabled {
		return conn, ErrBackendDisabled
	}

	field := naming.SanitizeFieldName(keyName)
	token := naming.ScopeToken(scope)
	afterWrite := s.ownerWriteHook(ctx, ownerUserID)
	if err := s.store.SetField(ctx, keypath.DocumentPathForToken(ownerUserID, token), field, value); err != nil {
		s.logger.Error("connections.create_failed",
			zap.String("owner", ownerUserID),
			zap.String("scope", token),
			zap.String("key", field),
			zap.Error(err))
		return conn, err
	}
	afterWrite()

	conn = s.connection(ownerUserID, field, token, value)
	s.logger.Info("connections.created",
		zap.String("actor", actor.ID),
		zap.String("owner", ownerUserID),
		zap.String("key_id", conn.KeyID))
	s.emit(ctx, model.EventConnectionCreated, actor, conn, "")
	return conn, nil
}

// Read returns the connection addressed by keyID, value included.
func (s *Service) Read(ctx context.Context, actor model.Actor, keyID string) (conn model.AgentConnection, err error) {
	defer s.track("read", &err)

	cands, err := keypath.ParseCandidates(keyID)
	if err != nil {
		return conn, err
	}
	owner := cands[0].OwnerUserID
	if err := s.opts.Gate.RequireOwnerOrAdmin(actor, owner); err != nil {
		return conn, err
	}
	if !s.opts.Enabled {
		return conn, ErrBackendDisabled
	}

	loc, ok := s.locate(ctx, cands)
	if !ok {
		return conn, fmt.Errorf("%w: %s", ErrNotFound, keyID)
	}
	return s.connection(owner, loc.id.KeyName, loc.id.ScopeToken, loc.value), nil
}

// Update changes the name, value or scope of an existing connection and returns it
// under its new id. A name or scope change removes the field at the old location
// before writing the new one.
func (s *Service) Update(ctx context.Context, actor model.Actor, keyID string, patch Patch) (conn model.AgentConnection, err error) {
	defer s.track("update", &err)

	cands, err := keypath.ParseCandidates(keyID)
	if err != nil {
		return conn, err
	}
	owner := cands[0].OwnerUserID
	if err := s.opts.Gate.RequireOwnerOrAdmin(actor, owner); err != nil {
		return conn, err
	}

	loc := located{id: cands[0]}
	found := false
	if s.opts.Enabled {
		loc, found = s.locate(ctx, cands)
		if !found {
			loc = located{id: cands[0]}
		}
	}

	oldScope := loc.id.Scope()
	newScope := naming.CanonicalScope(patchedScope(oldScope, loc.id.ScopeToken, patch))
	// A write to a missing id creates the connection, so it is gated like Create.
	if newScope.IsCommon() && (!found || !oldScope.IsCommon()) {
		if err := s.opts.Gate.RequireAdmin(actor); err != nil {
			return conn, fmt.Errorf("common connections: %w", err)
		}
	}
	if !s.opts.Enabled {
		return conn, ErrBackendDisabled
	}

	value := deref(patch.Value)
	if value == "" {
		if !found {
			return conn, fmt.Errorf("%w: %s", ErrNotFound, keyID)
		}
		value = loc.value
	}
	name := loc.id.KeyName
	if n := deref(patch.KeyName); strings.TrimSpace(n) != "" {
		name = naming.SanitizeFieldName(n)
	}
	token := naming.ScopeToken(newScope)
	newPath := keypath.DocumentPathForToken(owner, token)

	if found && (newPath != loc.id.Path() || name != loc.id.KeyName) {
		if err := s.store.DeleteField(ctx, loc.id.Path(), loc.id.KeyName); err != nil {
			s.logger.Error("connections.update.remove_old_failed",
				zap.String("key_id", loc.id.String()),
				zap.Error(err))
			return conn, err
		}
	}
	afterWrite := func() {}
	if !found {
		afterWrite = s.ownerWriteHook(ctx, owner)
	}
	if err := s.store.SetField(ctx, newPath, name, value); err != nil {
		s.logger.Error("connections.update_failed",
			zap.String("owner", owner),
			zap.String("scope", token),
			zap.String("key", name),
			zap.Error(err))
		return conn, err
	}
	afterWrite()

	conn = s.connection(owner, name, token, value)
	s.logger.Info("connections.updated",
		zap.String("actor", actor.ID),
		zap.String("from", loc.id.String()),
		zap.String("to", conn.KeyID))
	s.emit(ctx, model.EventConnectionUpdated, actor, conn, loc.id.String())
	return conn, nil
}

// Delete removes the connection addressed by keyID. Deleting an absent connection succeeds.
func (s *Service) Delete(ctx context.Context, actor model.Actor, keyID string) (err error) {
	defer s.track("delete", &err)

	cands, err := keypath.ParseCandidates(keyID)
	if err != nil {
		return err
	}
	owner := cands[0].OwnerUserID
	if err := s.opts.Gate.RequireOwnerOrAdmin(actor, owner); err != nil {
		return err
	}
	if !s.opts.Enabled {
		return ErrBackendDisabled
	}

	loc, found := s.locate(ctx, cands)
	if !found {
		loc = located{id: cands[0]}
	}
	if err := s.store.DeleteField(ctx, loc.id.Path(), loc.id.KeyName); err != nil {
		s.logger.Error("connections.delete_failed", zap.String("key_id", loc.id.String()), zap.Error(err))
		return err
	}
	if found {
		conn := s.connection(owner, loc.id.KeyName, loc.id.ScopeToken, "")
		s.logger.Info("connections.deleted", zap.String("actor", actor.ID), zap.String("key_id", conn.KeyID))
		s.emit(ctx, model.EventConnectionDeleted, actor, conn, "")
	}
	return nil
}

// List returns every connection of owner, values included, optionally restricted by filter.
func (s *Service) List(ctx context.Context, actor model.Actor, ownerUserID string, filter *Filter) (conns []model.AgentConnection, err error) {
	defer s.track("list", &err)

	if ownerUserID == "" {
		ownerUserID = actor.ID
	}
	if err := validOwner(ownerUserID); err != nil {
		return nil, err
	}
	if err := s.opts.Gate.RequireOwnerOrAdmin(actor, ownerUserID); err != nil {
		return nil, err
	}
	if !s.opts.Enabled {
		return nil, ErrBackendDisabled
	}
	return s.listOwner(ctx, ownerUserID, filter), nil
}

// ListAll returns the connections of every user in the directory, annotated with
// the owner's name and email. Admin only.
func (s *Service) ListAll(ctx context.Context, actor model.Actor) (out []model.OwnedConnection, err error) {
	defer s.track("list_all", &err)

	if err := s.opts.Gate.RequireAdmin(actor); err != nil {
		return nil, err
	}
	if !s.opts.Enabled {
		return nil, ErrBackendDisabled
	}
	if s.opts.Directory == nil {
		return nil, fmt.Errorf("%w: no user directory configured", ErrInternal)
	}

	users, err := s.opts.Directory.ListUsers(ctx)
	if err != nil {
		s.logger.Error("connections.list_all.directory_failed", zap.Error(err))
		return nil, fmt.Errorf("%w: list users: %v", ErrInternal, err)
	}

	out = []model.OwnedConnection{}
	for _, u := range users {
		if validOwner(u.ID) != nil {
			s.logger.Warn("connections.list_all.skip_user", zap.String("user", u.ID))
			continue
		}
		for _, c := range s.listOwner(ctx, u.ID, nil) {
			out = append(out, model.OwnedConnection{AgentConnection: c, Owner: u})
		}
	}
	return out, nil
}

// Status reports whether the integration is enabled and the backend answers.
func (s *Service) Status(ctx context.Context) Status {
	st := Status{Enabled: s.opts.Enabled, Backend: s.store.BackendName()}
	if !st.Enabled {
		return st
	}
	if err := s.store.Ping(ctx); err != nil {
		st.Error = "backend unreachable"
		s.logger.Warn("connections.status.ping_failed", zap.Error(err))
		return st
	}
	st.Reachable = true
	return st
}

func (s *Service) listOwner(ctx context.Context, owner string, filter *Filter) []model.AgentConnection {
	conns := []model.AgentConnection{}
	for _, token := range s.store.ListScopesForUser(ctx, owner) {
		doc := s.store.ReadDocument(ctx, keypath.DocumentPathForToken(owner, token))
		for _, field := range sortedKeys(doc) {
			if !filter.Match(token, field) {
				continue
			}
			conns = append(conns, s.connection(owner, field, token, doc[field]))
		}
	}
	return conns
}

// directoryInvalidator is implemented by directories that cache their listing.
type directoryInvalidator interface {
	Invalidate()
}

// ownerWriteHook returns the func to run after a successful write for owner. It
// drops the cached directory listing when that write gives owner a first document.
func (s *Service) ownerWriteHook(ctx context.Context, owner string) func() {
	inv, ok := s.opts.Directory.(directoryInvalidator)
	if !ok || len(s.store.ListScopesForUser(ctx, owner)) > 0 {
		return func() {}
	}
	return func() {
		inv.Invalidate()
		s.logger.Debug("connections.directory_invalidated", zap.String("owner", owner))
	}
}

type located struct {
	id    keypath.CompositeID
	value string
}

// locate finds the first candidate with a canonical scope token whose field exists,
// then falls back to the legacy layout when configured.
func (s *Service) locate(ctx context.Context, cands []keypath.CompositeID) (located, bool) {
	for _, c := range cands {
		if naming.NormalizeScopeToken(c.ScopeToken) != c.ScopeToken {
			continue
		}
		if v, ok := s.store.GetField(ctx, c.Path(), c.KeyName); ok {
			return located{id: c, value: v}, true
		}
	}
	if s.opts.Legacy == nil {
		return located{}, false
	}
	for _, c := range cands {
		v, token, ok := s.opts.Legacy.Recover(ctx, c.OwnerUserID, c.KeyName, c.ScopeToken)
		if !ok {
			continue
		}
		id := keypath.CompositeID{
			OwnerUserID: c.OwnerUserID,
			KeyName:     naming.SanitizeFieldName(c.KeyName),
			ScopeToken:  token,
		}
		return located{id: id, value: v}, true
	}
	return located{}, false
}

func (s *Service) connection(owner, field, token, value string) model.AgentConnection {
	return model.AgentConnection{
		KeyID:       keypath.FormatCompositeIDForToken(owner, field, token),
		KeyName:     field,
		Value:       value,
		OwnerUserID: owner,
		Scope:       keypath.ScopeFromToken(token),
		ScopeToken:  token,
		CreatedAt:   s.now(),
	}
}

func (s *Service) emit(ctx context.Context, typ string, actor model.Actor, conn model.AgentConnection, previousID string) {
	evt := model.ConnectionEvent{
		Type:        typ,
		KeyID:       conn.KeyID,
		PreviousID:  previousID,
		OwnerUserID: conn.OwnerUserID,
		ActorID:     actor.ID,
		ScopeToken:  conn.ScopeToken,
		KeyName:     conn.KeyName,
		Timestamp:   s.now(),
	}
	if err := s.publish.Publish(ctx, evt); err != nil {
		s.logger.Warn("connections.event_publish_failed",
			zap.String("type", typ),
			zap.String("key_id", conn.KeyID),
			zap.Error(err))
	}
}

func (s *Service) track(op string, err *error) {
	metrics.IncConnectionOp(op, outcome(*err))
}

// patchedScope applies the scope fields of patch on top of the current scope.
func patchedScope(current model.Scope, currentToken string, patch Patch) model.Scope {
	isCommon := current.IsCommon()
	if patch.IsCommon != nil {
		isCommon = *patch.IsCommon
	}
	agentID := ""
	if current.Kind == model.ScopeAgent {
		agentID = currentToken
	}
	if patch.AgentID != nil {
		agentID = *patch.AgentID
	}
	return model.ScopeOf(agentID, isCommon)
}

// validOwner rejects owner ids that would escape the owner's path segment.
func validOwner(ownerUserID string) error {
	if ownerUserID == "" {
		return fmt.Errorf("%w: owner user id is required", ErrInvalidInput)
	}
	if !keypath.ValidSegment(ownerUserID) {
		return fmt.Errorf("%w: owner user id %q is not a valid path segment", ErrInvalidInput, ownerUserID)
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
