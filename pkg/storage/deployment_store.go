package storage

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// DynamoDeploymentStore persists deployments in a DynamoDB table keyed by
// deploymentId. Writes are serialized per deployment with a revision
// attribute: every update asserts the revision it read and bumps it, so two
// orchestrator activations applying outcomes to the same deployment cannot
// interleave; the loser gets models.ErrStorageConflict and retries.
type DynamoDeploymentStore struct {
	svc   *dynamodb.Client
	table string
}

var _ DeploymentStore = (*DynamoDeploymentStore)(nil)

// NewDynamoDeploymentStore creates a deployment store backed by the given table
func NewDynamoDeploymentStore(svc *dynamodb.Client, table string) *DynamoDeploymentStore {
	return &DynamoDeploymentStore{svc: svc, table: table}
}

// SaveDeployment writes a freshly scheduled deployment at revision 1
func (s *DynamoDeploymentStore) SaveDeployment(ctx context.Context, d *models.Deployment) error {
	d.Revision = 1
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(deploymentId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if asConditionFailure(err, &ccf) {
			return models.WrapDomain(models.ErrStorageConflict, err)
		}
		return fmt.Errorf("failed to put deployment %s: %w", d.DeploymentID, err)
	}
	return nil
}

// GetDeployment fetches one deployment, returning models.ErrNotFound if absent
func (s *DynamoDeploymentStore) GetDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"deploymentId": &types.AttributeValueMemberS{Value: deploymentID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment %s: %w", deploymentID, err)
	}
	if out.Item == nil {
		return nil, models.WrapDomain(models.ErrNotFound, fmt.Errorf("deployment %s", deploymentID))
	}

	var d models.Deployment
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployment %s: %w", deploymentID, err)
	}
	return &d, nil
}

// UpdateDeployment writes the deployment back, asserting the revision it was
// read at. On success the in-memory revision is bumped to match the store.
func (s *DynamoDeploymentStore) UpdateDeployment(ctx context.Context, d *models.Deployment) error {
	readRevision := d.Revision
	d.Revision = readRevision + 1

	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		d.Revision = readRevision
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("revision = :rev"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: strconv.FormatInt(readRevision, 10)},
		},
	})
	if err != nil {
		d.Revision = readRevision
		var ccf *types.ConditionalCheckFailedException
		if asConditionFailure(err, &ccf) {
			return models.WrapDomain(models.ErrStorageConflict, err)
		}
		return fmt.Errorf("failed to update deployment %s: %w", d.DeploymentID, err)
	}
	return nil
}

// ListDeployments scans up to limit deployments
func (s *DynamoDeploymentStore) ListDeployments(ctx context.Context, limit int) ([]*models.Deployment, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	out, err := s.svc.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployments: %w", err)
	}

	deployments := make([]*models.Deployment, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &deployments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deployments: %w", err)
	}
	return deployments, nil
}
