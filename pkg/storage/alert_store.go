package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// DynamoAlertStore persists alerts in a DynamoDB table keyed by
// organizationId (partition) and alertId (sort).
type DynamoAlertStore struct {
	svc   *dynamodb.Client
	table string
}

var _ AlertStore = (*DynamoAlertStore)(nil)

// NewDynamoAlertStore creates an alert store backed by the given table
func NewDynamoAlertStore(svc *dynamodb.Client, table string) *DynamoAlertStore {
	return &DynamoAlertStore{svc: svc, table: table}
}

// SaveAlert writes a newly triggered alert. The attribute_not_exists guard
// keeps an at-least-once caller from silently overwriting an alert that has
// already moved past triggered.
func (s *DynamoAlertStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	item, err := attributevalue.MarshalMap(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(alertId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if asConditionFailure(err, &ccf) {
			return models.WrapDomain(models.ErrStorageConflict, err)
		}
		return fmt.Errorf("failed to put alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// UpdateAlert replaces the alert item after a lifecycle transition
func (s *DynamoAlertStore) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	item, err := attributevalue.MarshalMap(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(alertId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if asConditionFailure(err, &ccf) {
			return models.WrapDomain(models.ErrNotFound, err)
		}
		return fmt.Errorf("failed to update alert %s: %w", alert.AlertID, err)
	}
	return nil
}

// FindAlertByID fetches one alert, returning models.ErrNotFound if absent
func (s *DynamoAlertStore) FindAlertByID(ctx context.Context, orgID, alertID string) (*models.Alert, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"organizationId": &types.AttributeValueMemberS{Value: orgID},
			"alertId":        &types.AttributeValueMemberS{Value: alertID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", alertID, err)
	}
	if out.Item == nil {
		return nil, models.WrapDomain(models.ErrNotFound, fmt.Errorf("alert %s", alertID))
	}

	var alert models.Alert
	if err := attributevalue.UnmarshalMap(out.Item, &alert); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert %s: %w", alertID, err)
	}
	return &alert, nil
}

// FindTriggeredAlerts returns the organization's alerts still in triggered
// state, the escalation scan's candidate set.
func (s *DynamoAlertStore) FindTriggeredAlerts(ctx context.Context, orgID string) ([]*models.Alert, error) {
	out, err := s.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("organizationId = :org"),
		FilterExpression:       aws.String("#st = :triggered"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org":       &types.AttributeValueMemberS{Value: orgID},
			":triggered": &types.AttributeValueMemberS{Value: string(models.AlertStatusTriggered)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query triggered alerts: %w", err)
	}

	return unmarshalAlerts(out.Items)
}

// ListAlerts returns up to limit alerts for the organization
func (s *DynamoAlertStore) ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("organizationId = :org"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org": &types.AttributeValueMemberS{Value: orgID},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	out, err := s.svc.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}

	return unmarshalAlerts(out.Items)
}

func unmarshalAlerts(items []map[string]types.AttributeValue) ([]*models.Alert, error) {
	alerts := make([]*models.Alert, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	return alerts, nil
}
