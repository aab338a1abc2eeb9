package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/kevin07696/payout-service/internal/config"
	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// ErrSecretNotFound is returned when a path has no secret in the backend
var ErrSecretNotFound = errors.New("secret not found")

// New builds the credential store selected by cfg.Backend, wrapped in a TTL cache
func New(ctx context.Context, cfg config.SecretsConfig, logger ports.Logger) (ports.CredentialStore, error) {
	var (
		store ports.CredentialStore
		err   error
	)

	switch cfg.Backend {
	case "local":
		logger.Warn("Using local filesystem secrets, not for production",
			ports.String("dir", cfg.LocalDir))
		store = NewLocalStore(cfg.LocalDir, logger)
	case "aws":
		store, err = NewAWSStore(ctx, AWSConfig{Region: cfg.AWSRegion}, logger)
	case "vault":
		store, err = NewVaultStore(VaultConfig{
			Address:   cfg.VaultAddr,
			Token:     cfg.VaultToken,
			MountPath: cfg.VaultMount,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported secrets backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Credential store initialized",
		ports.String("backend", cfg.Backend),
		ports.Duration("cache_ttl", cfg.CacheTTL))

	return NewCachedStore(store, cfg.CacheTTL), nil
}
