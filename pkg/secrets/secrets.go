package secrets

import (
	"context"
	"errors"
	"os"
	"strings"

	"soop-chat/backend/pkg/config"
	"soop-chat/backend/pkg/logger"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// NewManager returns a Vault-backed manager when enabled, otherwise one that reads the environment
func NewManager(cfg *config.Config, log *logger.Logger) (Manager, error) {
	if !cfg.Vault.Enabled {
		return &EnvManager{log: log}, nil
	}
	return NewVaultManager(VaultConfig{
		Address:     cfg.Vault.Addr,
		Token:       cfg.Vault.Token,
		SecretsPath: cfg.Vault.SecretsPath,
		CacheTTL:    cfg.Cache.TTL,
	}, log)
}

// EnvManager resolves secrets from environment variables only
type EnvManager struct {
	log *logger.Logger
}

// GetSecret looks up key as an upper-case environment variable.
// "ai.api-key" is read from AI_API_KEY.
func (m *EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	value := os.Getenv(envKey(key))
	if value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// GetSecretWithDefault retrieves a secret with a default value if not found
func (m *EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
