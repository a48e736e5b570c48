package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// LoadDotEnv loads a local .env file into the process environment. Missing
// files are not an error; containers usually inject the environment directly.
func LoadDotEnv(path string, logger *zap.Logger) {
	if envFile := os.Getenv("ENV_FILE_PATH"); envFile != "" {
		path = envFile
	}
	if path == "" {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		logger.Debug(".env file not loaded, using system environment", zap.String("path", path))
		return
	}
	logger.Info("Loaded environment file", zap.String("path", path))
}

// SecretsClient is the part of the Secrets Manager API used here.
type SecretsClient interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// LoadSecrets fetches the configured secret and exports its JSON keys as
// environment variables, so ApplyEnv picks them up. Without a secret ID it
// does nothing.
func LoadSecrets(ctx context.Context, s Secrets, logger *zap.Logger) error {
	if s.SecretID == "" {
		s.SecretID = os.Getenv("AWS_SECRETS_MANAGER_SECRET_ID")
	}
	if s.SecretID == "" {
		return nil
	}
	if s.Region == "" {
		s.Region = os.Getenv("AWS_SECRETS_MANAGER_REGION")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}

	return loadSecretsFrom(ctx, secretsmanager.NewFromConfig(awsCfg), s, logger)
}

func loadSecretsFrom(ctx context.Context, client SecretsClient, s Secrets, logger *zap.Logger) error {
	stage := s.VersionStage
	if stage == "" {
		stage = "AWSCURRENT"
	}

	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(s.SecretID),
		VersionStage: aws.String(stage),
	})
	if err != nil {
		return fmt.Errorf("fetching secret %s: %w", s.SecretID, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return fmt.Errorf("secret %s has no payload", s.SecretID)
	}

	var kv map[string]interface{}
	if err := json.Unmarshal(payload, &kv); err != nil {
		return fmt.Errorf("parsing secret %s as JSON: %w", s.SecretID, err)
	}

	applied := 0
	for key, val := range kv {
		if !s.Overwrite && os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, fmt.Sprint(val)); err != nil {
			return fmt.Errorf("setting env %s from secret: %w", key, err)
		}
		applied++
	}

	logger.Info("Loaded secrets from AWS Secrets Manager",
		zap.String("secret_id", s.SecretID),
		zap.Int("applied", applied),
		zap.Bool("overwrite", s.Overwrite))
	return nil
}
