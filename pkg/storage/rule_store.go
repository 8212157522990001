package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// DynamoRuleStore persists alert rules in a DynamoDB table keyed by
// organizationId (partition) and ruleId (sort).
type DynamoRuleStore struct {
	svc   *dynamodb.Client
	table string
}

var _ RuleStore = (*DynamoRuleStore)(nil)

// NewDynamoRuleStore creates a rule store backed by the given table
func NewDynamoRuleStore(svc *dynamodb.Client, table string) *DynamoRuleStore {
	return &DynamoRuleStore{svc: svc, table: table}
}

// SaveRule writes the full rule item, replacing any existing version
func (s *DynamoRuleStore) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	item, err := attributevalue.MarshalMap(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	_, err = s.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put rule %s: %w", rule.RuleID, err)
	}
	return nil
}

// FindRuleByID fetches one rule, returning models.ErrNotFound if absent
func (s *DynamoRuleStore) FindRuleByID(ctx context.Context, orgID, ruleID string) (*models.AlertRule, error) {
	out, err := s.svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"organizationId": &types.AttributeValueMemberS{Value: orgID},
			"ruleId":         &types.AttributeValueMemberS{Value: ruleID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}
	if out.Item == nil {
		return nil, models.WrapDomain(models.ErrNotFound, fmt.Errorf("rule %s", ruleID))
	}

	var rule models.AlertRule
	if err := attributevalue.UnmarshalMap(out.Item, &rule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rule %s: %w", ruleID, err)
	}
	return &rule, nil
}

// FindActiveRules returns the organization's active rules ordered by ruleId,
// so evaluation order is deterministic across activations.
func (s *DynamoRuleStore) FindActiveRules(ctx context.Context, orgID string) ([]*models.AlertRule, error) {
	out, err := s.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("organizationId = :org"),
		FilterExpression:       aws.String("#st = :active"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org":    &types.AttributeValueMemberS{Value: orgID},
			":active": &types.AttributeValueMemberS{Value: string(models.RuleStatusActive)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}

	return unmarshalRules(out.Items)
}

// ListRules returns all rules for the organization ordered by ruleId
func (s *DynamoRuleStore) ListRules(ctx context.Context, orgID string) ([]*models.AlertRule, error) {
	out, err := s.svc.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("organizationId = :org"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":org": &types.AttributeValueMemberS{Value: orgID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}

	return unmarshalRules(out.Items)
}

// DeleteRule removes a rule item
func (s *DynamoRuleStore) DeleteRule(ctx context.Context, orgID, ruleID string) error {
	_, err := s.svc.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"organizationId": &types.AttributeValueMemberS{Value: orgID},
			"ruleId":         &types.AttributeValueMemberS{Value: ruleID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", ruleID, err)
	}
	return nil
}

func unmarshalRules(items []map[string]types.AttributeValue) ([]*models.AlertRule, error) {
	rules := make([]*models.AlertRule, 0, len(items))
	if err := attributevalue.UnmarshalListOfMaps(items, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].RuleID < rules[j].RuleID })
	return rules, nil
}
