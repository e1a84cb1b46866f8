package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used by AWSBackend.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, params *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, params *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// AWSOptions configures the Secrets Manager backend.
type AWSOptions struct {
	Region   string
	Prefix   string
	Endpoint string
}

// AWSBackend stores each document as one secret whose SecretString is a JSON map.
// Secret names are the document path behind an optional prefix.
type AWSBackend struct {
	client SecretsManagerAPI
	prefix string
}

// NewAWS creates a Secrets Manager backend for the given region.
func NewAWS(ctx context.Context, opts AWSOptions) (*AWSBackend, error) {
	cfg, err := LoadAWSConfig(ctx, opts.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewAWSWithClient(client, opts.Prefix), nil
}

// NewAWSWithClient wraps an existing client.
func NewAWSWithClient(client SecretsManagerAPI, prefix string) *AWSBackend {
	return &AWSBackend{client: client, prefix: prefix}
}

// LoadAWSConfig loads the default credential chain for region.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}

func (a *AWSBackend) Name() string { return "aws" }

func (a *AWSBackend) Read(ctx context.Context, path string) (map[string]string, error) {
	name := a.secretName(path)
	out, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch secret [%s]: %w", name, err)
	}

	result := map[string]string{}
	if s := aws.ToString(out.SecretString); s != "" {
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil, fmt.Errorf("invalid secret format for [%s]: %w", name, err)
		}
	}
	return result, nil
}

func (a *AWSBackend) Write(ctx context.Context, path string, data map[string]string) error {
	name := a.secretName(path)
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode secret [%s]: %w", name, err)
	}

	_, err = a.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(string(body)),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to write secret [%s]: %w", name, err)
	}

	_, err = a.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(name),
		SecretString: aws.String(string(body)),
	})
	if isPendingDeletion(err) {
		return fmt.Errorf("secret [%s] is still being deleted, retry later: %w", name, err)
	}
	if err != nil {
		return fmt.Errorf("failed to create secret [%s]: %w", name, err)
	}
	return nil
}

// Remove force-deletes the secret. Secrets Manager finishes the deletion
// asynchronously; until it does, a Write to the same path fails.
func (a *AWSBackend) Remove(ctx context.Context, path string) error {
	name := a.secretName(path)
	_, err := a.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(name),
		ForceDeleteWithoutRecovery: aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete secret [%s]: %w", name, err)
	}
	return nil
}

// ListChildren pages through every secret whose name starts with the directory prefix.
func (a *AWSBackend) ListChildren(ctx context.Context, path string) ([]string, error) {
	prefix := a.secretName(dirPath(path))
	input := &secretsmanager.ListSecretsInput{
		Filters: []types.Filter{
			{
				Key:    types.FilterNameStringTypeName,
				Values: []string{prefix},
			},
		},
		MaxResults: aws.Int32(100),
	}

	var raw []string
	paginator := secretsmanager.NewListSecretsPaginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list secrets with prefix [%s]: %w", prefix, err)
		}
		for _, entry := range page.SecretList {
			rest, ok := strings.CutPrefix(aws.ToString(entry.Name), prefix)
			if !ok || rest == "" {
				continue
			}
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			raw = append(raw, rest)
		}
	}
	return childNames(raw), nil
}

func (a *AWSBackend) Ping(ctx context.Context) error {
	_, err := a.client.ListSecrets(ctx, &secretsmanager.ListSecretsInput{MaxResults: aws.Int32(1)})
	if err != nil {
		return fmt.Errorf("secrets manager unreachable: %w", err)
	}
	return nil
}

func (a *AWSBackend) secretName(path string) string {
	return a.prefix + path
}

func isNotFound(err error) bool {
	var nf *types.ResourceNotFoundException
	return errors.As(err, &nf)
}

// isPendingDeletion matches the InvalidRequestException CreateSecret returns while
// a secret of the same name is still being deleted.
func isPendingDeletion(err error) bool {
	var ir *types.InvalidRequestException
	return errors.As(err, &ir) && strings.Contains(strings.ToLower(ir.ErrorMessage()), "deletion")
}
