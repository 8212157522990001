package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fleetgrid/fleet-gateway/pkg/config"
)

// NewDynamoClient builds a DynamoDB client from the application config.
// An explicit endpoint (dynamodb-local) overrides the regional resolver.
func NewDynamoClient(ctx context.Context, cfg *config.AWSConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	if cfg.DynamoEndpoint != "" {
		return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
		}), nil
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

// asConditionFailure reports whether err is a DynamoDB conditional-check
// failure, unwrapping through the SDK's operation error chain.
func asConditionFailure(err error, target **types.ConditionalCheckFailedException) bool {
	return errors.As(err, target)
}
