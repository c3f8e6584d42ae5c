// Package testutil starts LocalStack for integration tests and hands out AWS
// configuration pointed at it.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	localStackImage  = "localstack/localstack:latest"
	localStackRegion = "us-east-1"
)

// LocalStack is a running LocalStack container with S3 and Secrets Manager.
type LocalStack struct {
	container *localstack.LocalStackContainer
	endpoint  string
}

// StartLocalStack starts a container and terminates it when t finishes.
// It skips the test in short mode.
func StartLocalStack(t *testing.T) *LocalStack {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := localstack.Run(ctx,
		localStackImage,
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3,secretsmanager"}),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/_localstack/health").
				WithPort("4566").
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("failed to start LocalStack container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate LocalStack container: %v", err)
		}
	})

	port, err := nat.NewPort("tcp", "4566")
	if err != nil {
		t.Fatalf("invalid port: %v", err)
	}
	endpoint, err := container.PortEndpoint(ctx, port, "")
	if err != nil {
		t.Fatalf("failed to get LocalStack endpoint: %v", err)
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}

	return &LocalStack{container: container, endpoint: endpoint}
}

// Endpoint returns the LocalStack URL.
func (l *LocalStack) Endpoint() string {
	return l.endpoint
}

// Region returns the region LocalStack is addressed with.
func (l *LocalStack) Region() string {
	return localStackRegion
}

// AWSConfig returns a configuration with static test credentials whose base
// endpoint is the container, so every service client built from it talks to
// LocalStack.
func (l *LocalStack) AWSConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(localStackRegion),
		awsconfig.WithBaseEndpoint(l.endpoint),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// CreateBucket creates bucket with path-style addressing.
func (l *LocalStack) CreateBucket(ctx context.Context, bucket string) error {
	cfg, err := l.AWSConfig(ctx)
	if err != nil {
		return err
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = true
	})
	if _, err := client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
