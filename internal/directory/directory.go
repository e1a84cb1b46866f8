// Package directory lists the users whose connections an administrator can enumerate.
package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/pkg/cache"
	"github.com/Checker-Finance/agent-connections/pkg/model"
)

// UserDirectory enumerates known users.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// querier is satisfied by *pgxpool.Pool and *pgx.Conn.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PoolConfig tunes the Postgres connection pool.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Postgres reads users from a SQL query returning (id, name, email).
type Postgres struct {
	db     querier
	pool   *pgxpool.Pool
	query  string
	logger *zap.Logger
}

// NewPostgres opens a pool to url. query must select id, name and email, in that order.
func NewPostgres(ctx context.Context, url, query string, poolCfg PoolConfig, logger *zap.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	d := newPostgres(pool, query, logger)
	d.pool = pool
	return d, nil
}

func newPostgres(db querier, query string, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, query: query, logger: logger}
}

func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := p.db.Query(ctx, p.query)
	if err != nil {
		p.logger.Error("directory.pg.query_failed", zap.Error(err))
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// userLister is the part of the secret store that knows which users own documents.
type userLister interface {
	ListUserIDs(ctx context.Context) []string
}

// StoreBacked derives the user list from the secret store itself.
// Entries carry ids only; name and email stay empty.
type StoreBacked struct {
	store userLister
}

// NewStoreBacked creates a directory over store.
func NewStoreBacked(store userLister) *StoreBacked {
	return &StoreBacked{store: store}
}

func (s *StoreBacked) ListUsers(ctx context.Context) ([]model.User, error) {
	ids := s.store.ListUserIDs(ctx)
	users := make([]model.User, 0, len(ids))
	for _, id := range ids {
		users = append(users, model.User{ID: id})
	}
	return users, nil
}

const usersCacheKey = "users"

// Cached memoizes another directory for the cache TTL. Failures are not cached.
type Cached struct {
	next  UserDirectory
	cache *cache.Cache[[]model.User]
}

// NewCached wraps next with a TTL cache.
func NewCached(next UserDirectory, c *cache.Cache[[]model.User]) *Cached {
	return &Cached{next: next, cache: c}
}

func (c *Cached) ListUsers(ctx context.Context) ([]model.User, error) {
	if users, ok := c.cache.Get(usersCacheKey); ok {
		return users, nil
	}
	users, err := c.next.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Put(usersCacheKey, users)
	return users, nil
}

// Invalidate drops the cached list.
func (c *Cached) Invalidate() {
	c.cache.Bust(usersCacheKey)
}
