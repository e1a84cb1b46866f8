package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/httpclient"
)

// VaultOptions configures a HashiCorp Vault KV v1 backend.
type VaultOptions struct {
	URL       string
	Token     string
	MountPath string
	KVVersion int
	Timeout   time.Duration
	VerifySSL bool
	Namespace string
}

// VaultBackend stores documents as KV v1 secrets under a mount.
// The connection is verified lazily on first use; a failed check is retried on the next call.
type VaultBackend struct {
	addr   string
	mount  string
	token  string
	ns     string
	exec   *httpclient.Executor
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

// NewVault validates opts and returns a backend. No request is sent until first use.
func NewVault(opts VaultOptions, logger *zap.Logger) (*VaultBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.URL == "" {
		return nil, errors.New("vault url is required")
	}
	if opts.KVVersion != 0 && opts.KVVersion != 1 {
		return nil, fmt.Errorf("vault kv version must be 1, got %d", opts.KVVersion)
	}
	mount := strings.Trim(opts.MountPath, "/")
	if mount == "" {
		return nil, errors.New("vault mount path is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	client := &http.Client{Timeout: opts.Timeout, Transport: transport}

	return &VaultBackend{
		addr:   strings.TrimRight(opts.URL, "/"),
		mount:  mount,
		token:  opts.Token,
		ns:     opts.Namespace,
		exec:   httpclient.New(logger, client, "vault", vaultError),
		logger: logger,
	}, nil
}

func (v *VaultBackend) Name() string { return "vault" }

func (v *VaultBackend) Read(ctx context.Context, path string) (map[string]string, error) {
	if err := v.ensureConnected(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Data map[string]any `json:"data"`
	}
	if err := v.do(ctx, http.MethodGet, v.secretPath(path), nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(resp.Data))
	for k, val := range resp.Data {
		out[k] = stringify(val)
	}
	return out, nil
}

func (v *VaultBackend) Write(ctx context.Context, path string, data map[string]string) error {
	if err := v.ensureConnected(ctx); err != nil {
		return err
	}
	return v.do(ctx, http.MethodPost, v.secretPath(path), data, nil)
}

func (v *VaultBackend) Remove(ctx context.Context, path string) error {
	if err := v.ensureConnected(ctx); err != nil {
		return err
	}
	err := v.do(ctx, http.MethodDelete, v.secretPath(path), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (v *VaultBackend) ListChildren(ctx context.Context, path string) ([]string, error) {
	if err := v.ensureConnected(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	err := v.do(ctx, "LIST", v.secretPath(dirPath(path)), nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return childNames(resp.Data.Keys), nil
}

// Ping re-runs the connection check and records its outcome.
func (v *VaultBackend) Ping(ctx context.Context) error {
	err := v.connect(ctx)
	v.setConnected(err == nil)
	return err
}

// ensureConnected runs the connection check until one succeeds. The check runs
// without holding v.mu; concurrent callers may each run it.
func (v *VaultBackend) ensureConnected(ctx context.Context) error {
	v.mu.Lock()
	connected := v.connected
	v.mu.Unlock()
	if connected {
		return nil
	}

	if err := v.connect(ctx); err != nil {
		v.logger.Error("vault.connect_failed", zap.String("url", v.addr), zap.Error(err))
		return err
	}
	if !v.setConnected(true) {
		v.logger.Info("vault.connected", zap.String("url", v.addr), zap.String("mount", v.mount))
	}
	return nil
}

// setConnected stores the connection state and returns the previous one.
func (v *VaultBackend) setConnected(ok bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	prev := v.connected
	v.connected = ok
	return prev
}

// connect verifies the token and that a secrets engine is mounted at the mount path.
func (v *VaultBackend) connect(ctx context.Context) error {
	if v.token == "" {
		return errors.New("vault token is not set")
	}
	if err := v.do(ctx, http.MethodGet, "auth/token/lookup-self", nil, nil); err != nil {
		return fmt.Errorf("vault authentication failed: %w", err)
	}

	var mounts map[string]json.RawMessage
	if err := v.do(ctx, http.MethodGet, "sys/mounts", nil, &mounts); err != nil {
		return fmt.Errorf("list mounts: %w", err)
	}
	if data, ok := mounts["data"]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(data, &nested); err == nil {
			mounts = nested
		}
	}
	if _, ok := mounts[v.mount+"/"]; !ok {
		return fmt.Errorf("kv secrets engine not mounted at %s", v.mount)
	}
	return nil
}

func (v *VaultBackend) do(ctx context.Context, method, apiPath string, payload, out any) error {
	req, err := httpclient.NewRequest(ctx, method, v.addr+"/v1/"+apiPath, payload, map[string]string{
		"X-Vault-Token":     v.token,
		"X-Vault-Namespace": v.ns,
	})
	if err != nil {
		return err
	}
	return v.exec.DoJSON(req, out)
}

// secretPath maps a document path to its API path under the mount, escaping each segment.
func (v *VaultBackend) secretPath(docPath string) string {
	trailing := strings.HasSuffix(docPath, "/")
	segments := strings.Split(strings.Trim(docPath, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	p := v.mount + "/" + strings.Join(segments, "/")
	if trailing {
		p += "/"
	}
	return p
}

func vaultError(req *http.Request, status int, body []byte) error {
	if status == http.StatusNotFound {
		return fmt.Errorf("vault %s %s: %w", req.Method, req.URL.Path, ErrNotFound)
	}
	var resp struct {
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(body, &resp)
	if len(resp.Errors) > 0 {
		return fmt.Errorf("vault %s %s returned %d: %s", req.Method, req.URL.Path, status, strings.Join(resp.Errors, "; "))
	}
	return fmt.Errorf("vault %s %s returned %d", req.Method, req.URL.Path, status)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// CheckVaultConnection builds a throwaway client from opts and runs the connection check.
func CheckVaultConnection(ctx context.Context, opts VaultOptions, logger *zap.Logger) error {
	v, err := NewVault(opts, logger)
	if err != nil {
		return err
	}
	return v.Ping(ctx)
}
