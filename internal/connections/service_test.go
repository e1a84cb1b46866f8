package connections

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/access"
	"github.com/Checker-Finance/agent-connections/internal/directory"
	"github.com/Checker-Finance/agent-connections/internal/legacy"
	"github.com/Checker-Finance/agent-connections/internal/secrets"
	"github.com/Checker-Finance/agent-connections/pkg/cache"
	"github.com/Checker-Finance/agent-connections/pkg/model"
	pkgsecrets "github.com/Checker-Finance/agent-connections/pkg/secrets"
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice    = model.Actor{ID: "alice", Role: "user"}
	bob      = model.Actor{ID: "bob", Role: "user"}
	admin    = model.Actor{ID: "root", Role: access.RoleAdmin}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.ConnectionEvent
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, evt model.ConnectionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeDirectory struct {
	users []model.User
	err   error
}

func (f fakeDirectory) ListUsers(context.Context) ([]model.User, error) { return f.users, f.err }

type fixture struct {
	svc     *Service
	store   *secrets.Store
	backend *pkgsecrets.MemoryBackend
	pub     *recordingPublisher
}

func newFixture(t *testing.T, mutate ...func(*Options)) fixture {
	t.Helper()
	backend := pkgsecrets.NewMemory()
	store := secrets.NewStore(backend, zap.NewNop(), true)
	pub := &recordingPublisher{}
	opts := Options{
		Enabled: true,
		Gate:    access.NewGate(access.RoleAdmin),
		Events:  pub,
		Now:     func() time.Time { return fixedNow },
		Directory: fakeDirectory{users: []model.User{
			{ID: "alice", Name: "Alice", Email: "alice@example.com"},
			{ID: "bob", Name: "Bob", Email: "bob@example.com"},
		}},
	}
	for _, m := range mutate {
		m(&opts)
	}
	return fixture{svc: NewService(store, opts, zap.NewNop()), store: store, backend: backend, pub: pub}
}

func ptr[T any](v T) *T { return &v }

func TestCreateThenRead_AgentScopeWithVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.Create(ctx, alice, "", "api_key", "secret1", model.AgentScope("bot:1.0"))
	require.NoError(t, err)
	assert.Equal(t, "alice_api_key_bot", conn.KeyID)
	assert.Equal(t, "bot", conn.ScopeToken)
	assert.Equal(t, fixedNow, conn.CreatedAt)

	got, err := f.svc.Read(ctx, alice, conn.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "secret1", got.Value)
	assert.Equal(t, "api_key", got.KeyName)
	assert.Equal(t, model.AgentScope("bot"), got.Scope)

	doc, err := f.backend.Read(ctx, "users/alice/bot")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"api_key": "secret1"}, doc)
}

func TestRead_ScopeTokenWithUnderscore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conn, err := f.svc.Create(ctx, alice, "alice", "api_key", "sk", model.AgentScope("gpt-4o-mini"))
	require.NoError(t, err)
	assert.Equal(t, "alice_api_key_gpt_4o_mini", conn.KeyID)

	got, err := f.svc.Read(ctx, alice, conn.KeyID)
	require.NoError(t, err)
	assert.Equal(t, "sk", got.Value)
	assert.Equal(t, "gpt_4o_mini", got.ScopeToken)
	assert.Equal(t, "api_key", got.KeyName)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, "", "", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Create(ctx, alice, "", "k", "  ", model.DefaultScope())
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Create(ctx, admin, "../etc", "k", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.Create(ctx, model.Actor{}, "", "k", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrInvalidInput, "no owner at all")
}

func TestCreate_FieldNameSanitized(t *testing.T) {
	f := newFixture(t)
	conn, err := f.svc.Create(context.Background(), alice, "", `a/b\c`, "v", model.DefaultScope())
	require.NoError(t, err)
	assert.Equal(t, "a_b_c", conn.KeyName)
	assert.Equal(t, "alice_a_b_c_default", conn.KeyID)
}

func TestCreate_CommonRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, "", "shared", "v", model.CommonScope())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Create(ctx, alice, "", "shared", "v", model.AgentScope("common"))
	assert.ErrorIs(t, err, ErrForbidden, "agent id folding to the reserved token gets common rules")

	conn, err := f.svc.Create(ctx, admin, "", "shared", "v", model.CommonScope())
	require.NoError(t, err)
	assert.Equal(t, "root_shared_common", conn.KeyID)

	all, err := f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	require.Empty(t, all, "root is not in the directory")

	_, err = f.svc.Create(ctx, admin, "alice", "shared", "v", model.CommonScope())
	require.NoError(t, err)
	all, err = f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice_shared_common", all[0].KeyID)
	assert.True(t, all[0].Scope.IsCommon())
	assert.Equal(t, "Alice", all[0].Owner.Name)
}

func TestCreate_ForOtherUserRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, bob, "alice", "k", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrForbidden)

	conn, err := f.svc.Create(ctx, admin, "alice", "k", "v", model.DefaultScope())
	require.NoError(t, err)
	assert.Equal(t, "alice", conn.OwnerUserID)
}

func TestCreate_Upserts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, "", "k", "v1", model.DefaultScope())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, alice, "", "k", "v2", model.DefaultScope())
	require.NoError(t, err)

	got, err := f.svc.Read(ctx, alice, "alice_k_default")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Value)
}

func TestRead_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)

	_, err = f.svc.Read(ctx, alice, "nounderscore")
	assert.ErrorIs(t, err, ErrMalformedIdentifier)

	_, err = f.svc.Read(ctx, bob, "alice_k_default")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Read(ctx, alice, "alice_missing_default")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := f.svc.Read(ctx, admin, "alice_k_default")
	require.NoError(t, err, "admins read any user's connections")
	assert.Equal(t, "v", got.Value)
}

func TestNonOwnerUpdateDeleteForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, bob, "alice_k_default", Patch{Value: ptr("x")})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, bob, "alice_k_default"), ErrForbidden)

	got, err := f.svc.Read(ctx, alice, "alice_k_default")
	require.NoError(t, err)
	assert.Equal(t, "v", got.Value)
}

func TestDelete_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Delete(ctx, alice, "alice_never_default"))

	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, alice, "alice_k_default"))
	require.NoError(t, f.svc.Delete(ctx, alice, "alice_k_default"))

	_, err = f.svc.Read(ctx, alice, "alice_k_default")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{model.EventConnectionCreated, model.EventConnectionDeleted}, f.pub.types())
}

func TestDelete_LastFieldRemovesDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		_, err := f.svc.Create(ctx, alice, "", k, "v-"+k, model.AgentScope("bot"))
		require.NoError(t, err)
	}

	require.NoError(t, f.svc.Delete(ctx, alice, "alice_a_bot"))
	got, err := f.svc.Read(ctx, alice, "alice_b_bot")
	require.NoError(t, err)
	assert.Equal(t, "v-b", got.Value)

	require.NoError(t, f.svc.Delete(ctx, alice, "alice_b_bot"))
	assert.Empty(t, f.store.ListFields(ctx, "users/alice/bot"))
	assert.Empty(t, f.store.ListScopesForUser(ctx, "alice"))
}

func TestDelete_UnderscoreToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn, err := f.svc.Create(ctx, alice, "", "api_key", "v", model.AgentScope("gpt-4o"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, alice, conn.KeyID))
	assert.Empty(t, f.store.ListScopesForUser(ctx, "alice"))
}

func TestUpdate_ValueOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v1", model.AgentScope("bot"))
	require.NoError(t, err)

	conn, err := f.svc.Update(ctx, alice, "alice_k_bot", Patch{Value: ptr("v2")})
	require.NoError(t, err)
	assert.Equal(t, "alice_k_bot", conn.KeyID)
	assert.Equal(t, "v2", conn.Value)
}

func TestUpdate_RenameMovesField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "old_name", "v", model.DefaultScope())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, alice, "", "other", "o", model.DefaultScope())
	require.NoError(t, err)

	conn, err := f.svc.Update(ctx, alice, "alice_old_name_default", Patch{KeyName: ptr("new_name")})
	require.NoError(t, err)
	assert.Equal(t, "alice_new_name_default", conn.KeyID)
	assert.Equal(t, "v", conn.Value)

	assert.Equal(t, []string{"new_name", "other"}, f.store.ListFields(ctx, "users/alice/default"))

	f.pub.mu.Lock()
	last := f.pub.events[len(f.pub.events)-1]
	f.pub.mu.Unlock()
	assert.Equal(t, model.EventConnectionUpdated, last.Type)
	assert.Equal(t, "alice_old_name_default", last.PreviousID)
}

func TestUpdate_ScopeChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.AgentScope("bot"))
	require.NoError(t, err)

	conn, err := f.svc.Update(ctx, alice, "alice_k_bot", Patch{AgentID: ptr("llama3:8b")})
	require.NoError(t, err)
	assert.Equal(t, "alice_k_llama3", conn.KeyID)

	conn, err = f.svc.Update(ctx, alice, conn.KeyID, Patch{AgentID: ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "alice_k_default", conn.KeyID)
	assert.Equal(t, []string{"default"}, f.store.ListScopesForUser(ctx, "alice"))
}

func TestUpdate_ToCommonRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, alice, "alice_k_default", Patch{IsCommon: ptr(true)})
	assert.ErrorIs(t, err, ErrForbidden)

	conn, err := f.svc.Update(ctx, admin, "alice_k_default", Patch{IsCommon: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, "alice_k_common", conn.KeyID)

	conn, err = f.svc.Update(ctx, alice, "alice_k_common", Patch{Value: ptr("v2")})
	require.NoError(t, err, "staying common needs no admin")
	assert.Equal(t, "alice_k_common", conn.KeyID)

	conn, err = f.svc.Update(ctx, alice, "alice_k_common", Patch{IsCommon: ptr(false), AgentID: ptr("bot")})
	require.NoError(t, err, "leaving common needs no admin")
	assert.Equal(t, "alice_k_bot", conn.KeyID)
	assert.Equal(t, "v2", conn.Value)
}

func TestUpdate_MissingCommonIDRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, alice, "alice_api_common", Patch{Value: ptr("x")})
	assert.ErrorIs(t, err, ErrForbidden, "writing a new common connection is a create")
	assert.Empty(t, f.store.ListScopesForUser(ctx, "alice"))

	conn, err := f.svc.Update(ctx, admin, "alice_api_common", Patch{Value: ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, "alice_api_common", conn.KeyID)

	v, ok := f.store.GetField(ctx, "users/alice/common", "api")
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestOperations_RejectPathSegmentsInIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{".._k_evil", "._k_x", "a/b_k_default", `a\b_k_default`, "alice_k_..", "alice_k_a/b"} {
		t.Run(id, func(t *testing.T) {
			_, err := f.svc.Read(ctx, admin, id)
			assert.ErrorIs(t, err, ErrMalformedIdentifier)
			_, err = f.svc.Update(ctx, admin, id, Patch{Value: ptr("pwned")})
			assert.ErrorIs(t, err, ErrMalformedIdentifier)
			assert.ErrorIs(t, f.svc.Delete(ctx, admin, id), ErrMalformedIdentifier)
		})
	}

	_, err := f.backend.Read(ctx, "users/../evil")
	assert.ErrorIs(t, err, pkgsecrets.ErrNotFound)
	assert.Empty(t, f.store.ListUserIDs(ctx))
}

func TestUpdate_MissingValueNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Update(ctx, alice, "alice_k_default", Patch{KeyName: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)

	conn, err := f.svc.Update(ctx, alice, "alice_k_default", Patch{Value: ptr("v")})
	require.NoError(t, err, "a supplied value does not need the old one")
	assert.Equal(t, "alice_k_default", conn.KeyID)
}

func TestUpdate_Malformed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Update(context.Background(), alice, "alice_", Patch{})
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
}

func TestList_OwnAndFiltered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, admin, "alice", "shared", "s", model.CommonScope())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, alice, "", "api_key", "a", model.AgentScope("GPT-4o"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, alice, "", "token", "t", model.DefaultScope())
	require.NoError(t, err)

	all, err := f.svc.List(ctx, alice, "", nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, c := range all {
		ids = append(ids, c.KeyID)
	}
	assert.ElementsMatch(t, []string{"alice_shared_common", "alice_api_key_GPT_4o", "alice_token_default"}, ids)

	filtered, err := f.svc.List(ctx, alice, "", ParseFilter("COMMON/shared, gpt_4o/api_key", CaseLower))
	require.NoError(t, err)
	require.Len(t, filtered, 2)

	exact, err := f.svc.List(ctx, alice, "", ParseFilter("COMMON/shared,GPT_4o/api_key", CaseExact))
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, "alice_api_key_GPT_4o", exact[0].KeyID)
}

func TestList_OtherUserRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)

	_, err = f.svc.List(ctx, bob, "alice", nil)
	assert.ErrorIs(t, err, ErrForbidden)

	conns, err := f.svc.List(ctx, admin, "alice", nil)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "v", conns[0].Value)

	empty, err := f.svc.List(ctx, bob, "", nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestListAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, bob, "", "k", "w", model.AgentScope("bot"))
	require.NoError(t, err)

	_, err = f.svc.ListAll(ctx, alice)
	assert.ErrorIs(t, err, ErrForbidden)

	all, err := f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice_k_default", all[0].KeyID)
	assert.Equal(t, "alice@example.com", all[0].Owner.Email)
	assert.Equal(t, "bob_k_bot", all[1].KeyID)
	assert.Equal(t, "Bob", all[1].Owner.Name)
}

type invalidatingDirectory struct {
	fakeDirectory
	invalidations int
}

func (d *invalidatingDirectory) Invalidate() { d.invalidations++ }

func TestFirstWriteForOwnerInvalidatesDirectory(t *testing.T) {
	dir := &invalidatingDirectory{}
	f := newFixture(t, func(o *Options) { o.Directory = dir })
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)
	assert.Equal(t, 1, dir.invalidations)

	_, err = f.svc.Create(ctx, alice, "", "k2", "v", model.AgentScope("bot"))
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, alice, "alice_k3_default", Patch{Value: ptr("v")})
	require.NoError(t, err)
	assert.Equal(t, 1, dir.invalidations, "owner already listed")

	_, err = f.svc.Update(ctx, bob, "bob_k_default", Patch{Value: ptr("v")})
	require.NoError(t, err)
	assert.Equal(t, 2, dir.invalidations)
}

func TestListAll_StoreBackedDirectorySeesNewOwners(t *testing.T) {
	f := newFixture(t)
	f.svc.opts.Directory = directory.NewCached(directory.NewStoreBacked(f.store), cache.New[[]model.User](time.Hour))
	ctx := context.Background()

	all, err := f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	require.NoError(t, err)

	all, err = f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "alice_k_default", all[0].KeyID)
}

func TestListAll_DirectoryFailure(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Directory = fakeDirectory{err: errors.New("db down")}
	})
	_, err := f.svc.ListAll(context.Background(), admin)
	assert.ErrorIs(t, err, ErrInternal)

	f = newFixture(t, func(o *Options) { o.Directory = nil })
	_, err = f.svc.ListAll(context.Background(), admin)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestBackendDisabled(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Enabled = false })
	ctx := context.Background()

	_, err := f.svc.Create(ctx, alice, "", "k", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrBackendDisabled)
	_, err = f.svc.Read(ctx, alice, "alice_k_default")
	assert.ErrorIs(t, err, ErrBackendDisabled)
	_, err = f.svc.Update(ctx, alice, "alice_k_default", Patch{Value: ptr("v")})
	assert.ErrorIs(t, err, ErrBackendDisabled)
	assert.ErrorIs(t, f.svc.Delete(ctx, alice, "alice_k_default"), ErrBackendDisabled)
	_, err = f.svc.List(ctx, alice, "", nil)
	assert.ErrorIs(t, err, ErrBackendDisabled)
	_, err = f.svc.ListAll(ctx, admin)
	assert.ErrorIs(t, err, ErrBackendDisabled)

	_, err = f.svc.Create(ctx, alice, "", "", "v", model.DefaultScope())
	assert.ErrorIs(t, err, ErrInvalidInput, "validation comes first")
	_, err = f.svc.Read(ctx, bob, "alice_k_default")
	assert.ErrorIs(t, err, ErrForbidden, "authorization comes first")
	_, err = f.svc.Update(ctx, alice, "alice_k_default", Patch{IsCommon: ptr(true)})
	assert.ErrorIs(t, err, ErrForbidden)

	st := f.svc.Status(ctx)
	assert.False(t, st.Enabled)
	assert.False(t, st.Reachable)
	assert.Equal(t, "memory", st.Backend)
}

type failingBackend struct {
	*pkgsecrets.MemoryBackend
}

func (failingBackend) Write(context.Context, string, map[string]string) error {
	return errors.New("vault sealed")
}

func (failingBackend) Ping(context.Context) error { return errors.New("vault sealed") }

func TestStorageFailure(t *testing.T) {
	store := secrets.NewStore(failingBackend{pkgsecrets.NewMemory()}, zap.NewNop(), true)
	pub := &recordingPublisher{}
	svc := NewService(store, Options{Enabled: true, Gate: access.NewGate(""), Events: pub}, nil)

	_, err := svc.Create(context.Background(), alice, "", "k", "v", model.DefaultScope())
	require.ErrorIs(t, err, ErrStorageFailure)
	assert.Empty(t, pub.types(), "no event for failed writes")

	st := svc.Status(context.Background())
	assert.True(t, st.Enabled)
	assert.False(t, st.Reachable)
	assert.NotContains(t, st.Error, "sealed")
}

func TestStatus_Reachable(t *testing.T) {
	f := newFixture(t)
	st := f.svc.Status(context.Background())
	assert.Equal(t, Status{Enabled: true, Backend: "memory", Reachable: true}, st)
}

func TestEventPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("nats down")

	_, err := f.svc.Create(context.Background(), alice, "", "k", "v", model.DefaultScope())
	assert.NoError(t, err)
}

func TestLegacyFallback(t *testing.T) {
	f := newFixture(t)
	f.svc.opts.Legacy = legacy.New(f.store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.store.SetField(ctx, "users/alice/gpt-4o", "api%20key", "old"))
	require.NoError(t, f.store.SetField(ctx, "users/alice/llama3%3A8b", "token", "t"))

	got, err := f.svc.Read(ctx, alice, "alice_api key_gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "old", got.Value)
	assert.Equal(t, "alice_api key_gpt_4o", got.KeyID)

	again, err := f.svc.Read(ctx, alice, got.KeyID)
	require.NoError(t, err, "migrated value is readable canonically")
	assert.Equal(t, "old", again.Value)

	got, err = f.svc.Read(ctx, alice, "alice_token_llama3:8b")
	require.NoError(t, err)
	assert.Equal(t, "alice_token_llama3", got.KeyID)
	assert.ElementsMatch(t, []string{"gpt_4o", "llama3"}, f.store.ListScopesForUser(ctx, "alice"))
}

func TestLegacyFallbackDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetField(ctx, "users/alice/gpt-4o", "api%20key", "old"))

	_, err := f.svc.Read(ctx, alice, "alice_api key_gpt-4o")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentCreatesSameScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	keys := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Create(ctx, alice, "", k, "v-"+k, model.AgentScope("bot"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, keys, f.store.ListFields(ctx, "users/alice/bot"))
}
