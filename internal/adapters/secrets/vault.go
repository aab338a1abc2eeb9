package secrets

import (
	"context"
	"errors"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// VaultConfig contains configuration for HashiCorp Vault
type VaultConfig struct {
	Address string
	Token   string

	// KV v2 mount path (default: "secret")
	MountPath string
}

// VaultStore resolves secrets from a Vault KV v2 engine.
// The secret value is read from the "value" key of the stored data.
type VaultStore struct {
	kv     *vault.KVv2
	logger ports.Logger
	mount  string
}

// NewVaultStore creates a token-authenticated Vault store
func NewVaultStore(cfg VaultConfig, logger ports.Logger) (*VaultStore, error) {
	if cfg.Token == "" {
		return nil, errors.New("vault token is required")
	}
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	logger.Info("Vault store initialized",
		ports.String("address", cfg.Address),
		ports.String("mount_path", cfg.MountPath))

	return &VaultStore{kv: client.KVv2(cfg.MountPath), mount: cfg.MountPath, logger: logger}, nil
}

// GetSecret reads the latest version of path
func (s *VaultStore) GetSecret(ctx context.Context, path string) (string, error) {
	secret, err := s.kv.Get(ctx, path)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		s.logger.Error("Failed to retrieve secret from Vault",
			ports.String("mount", s.mount),
			ports.String("path", path),
			ports.Err(err))
		return "", fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	if v, ok := secret.Data["value"].(string); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s has no value key", ErrSecretNotFound, path)
}
