package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/kevin07696/payout-service/internal/domain/ports"
)

// AWSConfig contains configuration for AWS Secrets Manager
type AWSConfig struct {
	Region string

	// Optional: shared config profile for local development
	Profile string

	// Optional: custom endpoint such as LocalStack
	Endpoint string
}

// secretValueGetter is the subset of the Secrets Manager client the store uses
type secretValueGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSStore resolves secrets from AWS Secrets Manager
type AWSStore struct {
	client secretValueGetter
	logger ports.Logger
}

// NewAWSStore loads the default credential chain for cfg.Region
func NewAWSStore(ctx context.Context, cfg AWSConfig, logger ports.Logger) (*AWSStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("AWS Secrets Manager store initialized",
		ports.String("region", cfg.Region),
		ports.Bool("custom_endpoint", cfg.Endpoint != ""))

	return newAWSStore(client, logger), nil
}

func newAWSStore(client secretValueGetter, logger ports.Logger) *AWSStore {
	return &AWSStore{client: client, logger: logger}
}

// GetSecret returns the current string value of the secret named path
func (s *AWSStore) GetSecret(ctx context.Context, path string) (string, error) {
	start := time.Now()

	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(path),
	})
	if err != nil {
		var notFound *smtypes.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, path)
		}
		s.logger.Error("Failed to retrieve secret from AWS",
			ports.String("path", path),
			ports.Err(err))
		return "", fmt.Errorf("failed to get secret from AWS: %w", err)
	}

	value := aws.ToString(out.SecretString)
	if value == "" {
		return "", fmt.Errorf("%w: %s has no string value", ErrSecretNotFound, path)
	}

	s.logger.Debug("Secret retrieved from AWS",
		ports.String("path", path),
		ports.Duration("elapsed", time.Since(start)))
	return value, nil
}
