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

// DynamoFirmwareStore persists firmware metadata in a DynamoDB table keyed
// by firmwareId.
type DynamoFirmwareStore struct {
	svc   *dynamodb.Client
	table string
}

var _ FirmwareStore = (*DynamoFirmwareStore)(nil)

// NewDynamoFirmwareStore creates a firmware store backed by the given table
func NewDynamoFirmwareStore(svc *dynamodb.Client, table string) *DynamoFirmwareStore {
	return &DynamoFirmwareStore{svc: svc, table: table}
}

// SaveFirmware writes the firmware metadata item
func (s *DynamoFirmwareStore) SaveFirmware(ctx context.Context, fw *models.Firmware) error {
	item, err := attributevalue.MarshalMap(fw)
	if err != nil {
		return fmt.Errorf("failed to marshal firmware: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put firmware %s: %w", fw.FirmwareID, err)
	}
	return nil
}

// GetFirmware fetches one firmware record, returning models.ErrNotFound if absent
func (s *DynamoFirmwareStore) GetFirmware(ctx context.Context, firmwareID string) (*models.Firmware, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"firmwareId": &types.AttributeValueMemberS{Value: firmwareID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get firmware %s: %w", firmwareID, err)
	}
	if out.Item == nil {
		return nil, models.WrapDomain(models.ErrNotFound, fmt.Errorf("firmware %s", firmwareID))
	}

	var fw models.Firmware
	if err := attributevalue.UnmarshalMap(out.Item, &fw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal firmware %s: %w", firmwareID, err)
	}
	return &fw, nil
}

// ListFirmware scans all firmware records
func (s *DynamoFirmwareStore) ListFirmware(ctx context.Context) ([]*models.Firmware, error) {
	out, err := s.svc.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan firmware: %w", err)
	}

	firmware := make([]*models.Firmware, 0, len(out.Items))
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &firmware); err != nil {
		return nil, fmt.Errorf("failed to unmarshal firmware: %w", err)
	}
	return firmware, nil
}
