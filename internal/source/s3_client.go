package source

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ClientConfig describes how to reach an S3-compatible endpoint.
type S3ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
	MaxRetries      int
}

// NewS3Client builds an SDK client. Empty credentials fall back to the
// default provider chain.
func NewS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		configOptions = append(configOptions, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}
	if cfg.MaxRetries > 0 {
		configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = cfg.MaxRetries
			})
		}))
	}

	loaded, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(loaded, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}
