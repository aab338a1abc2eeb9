package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// LocalStore reads secrets from files under a base directory.
// A file holds either the plain secret or a JSON object with a "value" key.
// Development only.
type LocalStore struct {
	logger   ports.Logger
	basePath string
}

// NewLocalStore creates a filesystem credential store rooted at basePath
func NewLocalStore(basePath string, logger ports.Logger) *LocalStore {
	return &LocalStore{basePath: basePath, logger: logger}
}

// GetSecret reads the secret stored at path
func (s *LocalStore) GetSecret(ctx context.Context, path string) (string, error) {
	clean := filepath.Clean("/" + path)
	filePath := filepath.Join(s.basePath, clean)

	s.logger.Debug("Reading secret from filesystem", ports.String("path", path))

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		return "", fmt.Errorf("failed to read secret: %w", err)
	}

	var wrapped struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Value != "" {
		return wrapped.Value, nil
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrSecretNotFound, path)
	}
	return value, nil
}
