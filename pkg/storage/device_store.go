package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// DynamoDeviceStore persists the device registry in a DynamoDB table keyed
// by deviceId.
type DynamoDeviceStore struct {
	svc   *dynamodb.Client
	table string
}

var _ DeviceStore = (*DynamoDeviceStore)(nil)

// NewDynamoDeviceStore creates a device store backed by the given table
func NewDynamoDeviceStore(svc *dynamodb.Client, table string) *DynamoDeviceStore {
	return &DynamoDeviceStore{svc: svc, table: table}
}

// SaveDevice writes the full registry item
func (s *DynamoDeviceStore) SaveDevice(ctx context.Context, device *models.Device) error {
	item, err := attributevalue.MarshalMap(device)
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put device %s: %w", device.DeviceID, err)
	}
	return nil
}

// GetDevice fetches one device, returning models.ErrNotFound if absent
func (s *DynamoDeviceStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"deviceId": &types.AttributeValueMemberS{Value: deviceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", deviceID, err)
	}
	if out.Item == nil {
		return nil, models.WrapDomain(models.ErrNotFound, fmt.Errorf("device %s", deviceID))
	}

	var device models.Device
	if err := attributevalue.UnmarshalMap(out.Item, &device); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device %s: %w", deviceID, err)
	}
	return &device, nil
}

// ListDevices scans the organization's registry entries
func (s *DynamoDeviceStore) ListDevices(ctx context.Context, orgID string) ([]*models.Device, error) {
	out, err := s.svc.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("organizationId = :org"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org": &types.AttributeValueMemberS{Value: orgID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan devices: %w", err)
	}

	devices := make([]*models.Device, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &devices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
	}
	return devices, nil
}

// TouchDevice upserts the liveness attributes in place. Type and creation
// time are only written the first time a device is seen, so a
// registry-managed type is never clobbered by telemetry.
func (s *DynamoDeviceStore) TouchDevice(ctx context.Context, orgID, deviceID, deviceType string, seenAt time.Time) error {
	seen := strconv.FormatInt(seenAt.Unix(), 10)
	_, err := s.svc.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"deviceId": &types.AttributeValueMemberS{Value: deviceID},
		},
		UpdateExpression: aws.String("SET organizationId = if_not_exists(organizationId, :org), " +
			"deviceType = if_not_exists(deviceType, :dtype), " +
			"createdAt = if_not_exists(createdAt, :seen), " +
			"#st = :online, lastSeen = :seen"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org":    &types.AttributeValueMemberS{Value: orgID},
			":dtype":  &types.AttributeValueMemberS{Value: deviceType},
			":online": &types.AttributeValueMemberS{Value: string(models.DeviceStatusOnline)},
			":seen":   &types.AttributeValueMemberN{Value: seen},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to touch device %s: %w", deviceID, err)
	}
	return nil
}
