package ports

import "context"

// CredentialStore resolves secrets by path, such as the provider API token
type CredentialStore interface {
	GetSecret(ctx context.Context, path string) (string, error)
}
