//go:build bedrock
// +build bedrock

package aiclient

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/userport/enrichment-worker/ai/providers/bedrock"
	"github.com/userport/enrichment-worker/core"
)

// NewBedrockBackend constructs the AWS Bedrock backend, gated behind the
// "bedrock" build tag for the same reason the teacher's
// ai/providers/bedrock/client.go itself is: it pulls in the full AWS SDK,
// which most deployments of this worker don't need.
func NewBedrockBackend(ctx context.Context, region string, logger core.Logger) (Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrock.NewClient(cfg, region, logger), nil
}
