package secrets

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/pkg/config"
)

// VaultOptionsFromConfig extracts the Vault settings from cfg.
func VaultOptionsFromConfig(cfg *config.Config) VaultOptions {
	return VaultOptions{
		URL:       cfg.VaultURL,
		Token:     cfg.VaultToken,
		MountPath: cfg.VaultMountPath,
		KVVersion: cfg.VaultKVVersion,
		Timeout:   cfg.VaultTimeout,
		VerifySSL: cfg.VaultVerifySSL,
		Namespace: cfg.VaultNamespace,
	}
}

// New builds the backend selected by cfg.SecretsBackend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.SecretsBackend {
	case config.BackendVault:
		var v *VaultBackend
		v, err = NewVault(VaultOptionsFromConfig(cfg), logger.Named("vault"))
		b = v
	case config.BackendAWS:
		var a *AWSBackend
		a, err = NewAWS(ctx, AWSOptions{
			Region:   cfg.AWSRegion,
			Prefix:   cfg.AWSSecretPrefix,
			Endpoint: cfg.AWSEndpoint,
		})
		b = a
	case config.BackendRedis:
		var r *RedisBackend
		r, err = NewRedis(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			DB:        cfg.RedisDB,
			Password:  cfg.RedisPass,
			KeyPrefix: cfg.RedisKeyPrefix,
		})
		b = r
	case config.BackendMemory:
		b = NewMemory()
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.SecretsBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s backend: %w", cfg.SecretsBackend, err)
	}
	return b, nil
}
