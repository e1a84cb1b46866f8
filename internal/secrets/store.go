package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/keypath"
	"github.com/Checker-Finance/agent-connections/internal/metrics"
	pkgsecrets "github.com/Checker-Finance/agent-connections/pkg/secrets"
)

// ErrStorageFailure wraps every backend error surfaced by a write.
var ErrStorageFailure = errors.New("secret storage failure")

// Store reads and edits single fields of backend documents.
//
// Reads never fail: backend errors are logged and reported as an absent field or
// an empty listing. Writes are read-modify-write cycles on the whole document; with
// serialization enabled, cycles on the same path are run one at a time in this process.
// Field values are never logged.
type Store struct {
	backend pkgsecrets.Backend
	logger  *zap.Logger
	locks   *pathLocks
}

// NewStore wraps backend. serialize enables per-path locking of read-modify-write cycles.
func NewStore(backend pkgsecrets.Backend, logger *zap.Logger, serialize bool) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{backend: backend, logger: logger}
	if serialize {
		s.locks = newPathLocks()
	}
	return s
}

// BackendName returns the name of the wrapped backend.
func (s *Store) BackendName() string {
	return s.backend.Name()
}

// Ping checks backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.observe("ping", func() error { return s.backend.Ping(ctx) })
}

// GetField returns the value of field in the document at path.
func (s *Store) GetField(ctx context.Context, path, field string) (string, bool) {
	doc := s.ReadDocument(ctx, path)
	v, ok := doc[field]
	return v, ok
}

// ReadDocument returns every field of the document at path; absent or unreadable
// documents yield an empty map.
func (s *Store) ReadDocument(ctx context.Context, path string) map[string]string {
	doc, err := s.read(ctx, path)
	if err != nil {
		s.logger.Warn("store.read_failed", zap.String("path", path), zap.Error(err))
		return map[string]string{}
	}
	return doc
}

// SetField creates or overwrites one field, preserving the others.
func (s *Store) SetField(ctx context.Context, path, field, value string) error {
	defer s.lock(path)()

	doc, err := s.read(ctx, path)
	if err != nil {
		s.logger.Error("store.set_field.read_failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: read %s: %v", ErrStorageFailure, path, err)
	}
	doc[field] = value

	if err := s.write(ctx, path, doc); err != nil {
		s.logger.Error("store.set_field.write_failed",
			zap.String("path", path),
			zap.String("field", field),
			zap.Error(err))
		return fmt.Errorf("%w: write %s: %v", ErrStorageFailure, path, err)
	}
	return nil
}

// DeleteField removes one field. Removing the last field removes the document.
// An absent field or document is not an error.
func (s *Store) DeleteField(ctx context.Context, path, field string) error {
	defer s.lock(path)()

	doc, err := s.read(ctx, path)
	if err != nil {
		s.logger.Error("store.delete_field.read_failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: read %s: %v", ErrStorageFailure, path, err)
	}
	if _, ok := doc[field]; !ok {
		return nil
	}
	delete(doc, field)

	if len(doc) == 0 {
		err = s.observe("remove", func() error { return s.backend.Remove(ctx, path) })
	} else {
		err = s.write(ctx, path, doc)
	}
	if err != nil {
		s.logger.Error("store.delete_field.write_failed",
			zap.String("path", path),
			zap.String("field", field),
			zap.Error(err))
		return fmt.Errorf("%w: delete %s: %v", ErrStorageFailure, path, err)
	}
	return nil
}

// ListScopesForUser returns the scope tokens holding at least one document for owner.
func (s *Store) ListScopesForUser(ctx context.Context, ownerUserID string) []string {
	return s.listChildren(ctx, keypath.UserRoot(ownerUserID))
}

// ListUserIDs returns every user that owns at least one document.
func (s *Store) ListUserIDs(ctx context.Context) []string {
	return s.listChildren(ctx, keypath.UsersRoot())
}

// ListFields returns the sorted field names of the document at path.
func (s *Store) ListFields(ctx context.Context, path string) []string {
	doc := s.ReadDocument(ctx, path)
	fields := make([]string, 0, len(doc))
	for k := range doc {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func (s *Store) listChildren(ctx context.Context, path string) []string {
	var children []string
	err := s.observe("list", func() error {
		var err error
		children, err = s.backend.ListChildren(ctx, path)
		return err
	})
	if err != nil {
		s.logger.Warn("store.list_failed", zap.String("path", path), zap.Error(err))
		return []string{}
	}
	return children
}

// read returns the document at path, or an empty map when it does not exist.
func (s *Store) read(ctx context.Context, path string) (map[string]string, error) {
	var doc map[string]string
	err := s.observe("read", func() error {
		var err error
		doc, err = s.backend.Read(ctx, path)
		if errors.Is(err, pkgsecrets.ErrNotFound) {
			doc, err = map[string]string{}, nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]string{}
	}
	return doc, nil
}

func (s *Store) write(ctx context.Context, path string, doc map[string]string) error {
	return s.observe("write", func() error { return s.backend.Write(ctx, path, doc) })
}

func (s *Store) lock(path string) func() {
	if s.locks == nil {
		return func() {}
	}
	return s.locks.lock(path)
}

func (s *Store) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	name := s.backend.Name()
	metrics.ObserveDuration(metrics.BackendOperationDuration, start, name, op)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IncBackendOp(name, op, result)
	return err
}
