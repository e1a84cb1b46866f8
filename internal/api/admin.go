package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/access"
	"github.com/Checker-Finance/agent-connections/pkg/config"
	"github.com/Checker-Finance/agent-connections/pkg/logger"
	"github.com/Checker-Finance/agent-connections/pkg/secrets"
	"github.com/Checker-Finance/agent-connections/pkg/utils"
)

// BackendInfo describes the configured secret backend. Settings must already be masked.
type BackendInfo struct {
	Backend  string            `json:"backend"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings"`
}

// VaultChecker verifies that a Vault server is reachable with the given settings.
type VaultChecker func(ctx context.Context, opts secrets.VaultOptions) error

const defaultVaultTestTimeout = 30 * time.Second

// AdminHandler serves the admin-only backend endpoints.
type AdminHandler struct {
	logger  *zap.Logger
	gate    access.Gate
	info    BackendInfo
	checker VaultChecker
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(logger *zap.Logger, gate access.Gate, info BackendInfo, checker VaultChecker) *AdminHandler {
	return &AdminHandler{logger: logger, gate: gate, info: info, checker: checker}
}

// Backend handles GET /admin/backend.
func (h *AdminHandler) Backend(c *fiber.Ctx) error {
	if err := h.gate.RequireAdmin(actorFrom(c)); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access denied"})
	}
	return c.JSON(h.info)
}

// TestVault handles POST /admin/backend/test.
func (h *AdminHandler) TestVault(c *fiber.Ctx) error {
	actor := actorFrom(c)
	if err := h.gate.RequireAdmin(actor); err != nil {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "access denied"})
	}

	var req VaultTestRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	opts := secrets.VaultOptions{
		URL:       req.URL,
		Token:     req.Token,
		MountPath: req.MountPath,
		KVVersion: 1,
		Timeout:   defaultVaultTestTimeout,
		VerifySSL: true,
	}
	if opts.MountPath == "" {
		opts.MountPath = "secret"
	}
	if req.Timeout > 0 {
		opts.Timeout = time.Duration(req.Timeout) * time.Second
	}
	if req.VerifySSL != nil {
		opts.VerifySSL = *req.VerifySSL
	}

	if err := h.checker(c.Context(), opts); err != nil {
		h.logger.Warn("api.vault_test.failed",
			zap.String("actor", actor.ID),
			zap.String("url", opts.URL),
			logger.Redacted("token", opts.Token),
			zap.Error(err))
		return badRequest(c, err.Error())
	}

	h.logger.Info("api.vault_test.ok", zap.String("actor", actor.ID), zap.String("url", opts.URL))
	return c.JSON(StatusResponse{Status: statusSuccess, Message: "Vault connection successful"})
}

// BackendInfoFromConfig builds the admin view of the selected backend with credentials masked.
func BackendInfoFromConfig(cfg *config.Config) BackendInfo {
	settings := map[string]string{}
	switch cfg.SecretsBackend {
	case config.BackendVault:
		settings["url"] = utils.MaskDSN(cfg.VaultURL)
		settings["token"] = utils.MaskToken(cfg.VaultToken)
		settings["mount_path"] = cfg.VaultMountPath
		settings["kv_version"] = strconv.Itoa(cfg.VaultKVVersion)
		settings["timeout"] = cfg.VaultTimeout.String()
		settings["verify_ssl"] = strconv.FormatBool(cfg.VaultVerifySSL)
		if cfg.VaultNamespace != "" {
			settings["namespace"] = cfg.VaultNamespace
		}
	case config.BackendAWS:
		settings["region"] = cfg.AWSRegion
		settings["secret_prefix"] = cfg.AWSSecretPrefix
		if cfg.AWSEndpoint != "" {
			settings["endpoint"] = cfg.AWSEndpoint
		}
	case config.BackendRedis:
		settings["addr"] = cfg.RedisAddr
		settings["db"] = strconv.Itoa(cfg.RedisDB)
		settings["key_prefix"] = cfg.RedisKeyPrefix
		settings["password"] = utils.MaskToken(cfg.RedisPass)
	}
	return BackendInfo{Backend: cfg.SecretsBackend, Enabled: cfg.SecretsEnabled, Settings: settings}
}
