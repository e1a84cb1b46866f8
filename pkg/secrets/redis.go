package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each document as a hash. A set per directory indexes its
// children so that listing never needs SCAN.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr      string
	DB        int
	Password  string
	KeyPrefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		DB:       opts.DB,
		Password: opts.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisWithClient(rdb, opts.KeyPrefix), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, keyPrefix string) *RedisBackend {
	return &RedisBackend{rdb: rdb, prefix: keyPrefix}
}

func (r *RedisBackend) Name() string { return "redis" }

func (r *RedisBackend) Read(ctx context.Context, path string) (map[string]string, error) {
	doc, err := r.rdb.HGetAll(ctx, r.docKey(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Write replaces the hash and registers the path in every ancestor index atomically.
func (r *RedisBackend) Write(ctx context.Context, path string, data map[string]string) error {
	if len(data) == 0 {
		return r.Remove(ctx, path)
	}
	key := r.docKey(path)
	fields := make([]any, 0, 2*len(data))
	for k, v := range data {
		fields = append(fields, k, v)
	}

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields...)
		for _, link := range ancestry(path) {
			p.SAdd(ctx, r.indexKey(link.dir), link.child)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write %s: %w", path, err)
	}
	return nil
}

// removeScript deletes the hash in KEYS[1], then walks the ancestry from the
// leaf up: KEYS[i+1] is the index of the directory holding ARGV[i]. An entry is
// removed only while the directory below it is empty. The script runs atomically
// with respect to the Write transaction.
var removeScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
local n = #ARGV
for i = n, 1, -1 do
  if i < n and redis.call('SCARD', KEYS[i + 2]) > 0 then
    break
  end
  redis.call('SREM', KEYS[i + 1], ARGV[i])
end
return 0
`)

// Remove deletes the hash and prunes index entries that no longer lead anywhere.
func (r *RedisBackend) Remove(ctx context.Context, path string) error {
	links := ancestry(path)
	keys := make([]string, 0, len(links)+1)
	args := make([]any, 0, len(links))
	keys = append(keys, r.docKey(path))
	for _, link := range links {
		keys = append(keys, r.indexKey(link.dir))
		args = append(args, link.child)
	}
	if err := removeScript.Run(ctx, r.rdb, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis remove %s: %w", path, err)
	}
	return nil
}

func (r *RedisBackend) ListChildren(ctx context.Context, path string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, r.indexKey(dirPath(path))).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis smembers %s: %w", path, err)
	}
	sort.Strings(members)
	return members, nil
}

func (r *RedisBackend) Ping(ctx context.Context) error {
	if r.rdb == nil {
		return errors.New("redis not initialized")
	}
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisBackend) Close() error {
	return r.rdb.Close()
}

func (r *RedisBackend) docKey(path string) string {
	return r.prefix + "doc:" + path
}

func (r *RedisBackend) indexKey(dir string) string {
	return r.prefix + "idx:" + dir
}

type indexLink struct {
	dir   string
	child string
}

// ancestry returns the directory/child pairs from the root down to path itself.
// For "users/u1/common": ("", "users"), ("users/", "u1"), ("users/u1/", "common").
func ancestry(path string) []indexLink {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	links := make([]indexLink, 0, len(segments))
	dir := ""
	for _, s := range segments {
		links = append(links, indexLink{dir: dir, child: s})
		dir += s + "/"
	}
	return links
}
