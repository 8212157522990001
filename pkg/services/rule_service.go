package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// RuleService manages the lifecycle of alert rules
type RuleService struct {
	rules storage.RuleStore
	now   func() time.Time
}

// NewRuleService creates a new rule service
func NewRuleService(rules storage.RuleStore) *RuleService {
	return &RuleService{rules: rules, now: time.Now}
}

var supportedOperators = map[models.ConditionOperator]bool{
	models.OperatorGreaterThan:    true,
	models.OperatorLessThan:       true,
	models.OperatorGreaterOrEqual: true,
	models.OperatorLessOrEqual:    true,
	models.OperatorEqual:          true,
}

// validateRuleRequest rejects structurally broken rules at the door so the
// engine never sees an operator it cannot evaluate.
func validateRuleRequest(req *models.CreateRuleRequest) error {
	if req.Name == "" {
		return models.NewValidationError("rule name is required")
	}
	if req.Condition.Metric == "" {
		return models.NewValidationError("rule condition metric is required")
	}
	if !supportedOperators[req.Condition.Operator] {
		return models.WrapDomain(models.ErrInvalidOperator, nil)
	}
	if req.DeviceType == "" {
		return models.NewValidationError("rule deviceType is required (use %q for any)", models.DeviceTypeAll)
	}
	switch req.Severity {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	default:
		return models.NewValidationError("unknown severity %q", req.Severity)
	}
	if req.CooldownPeriod < 0 {
		return models.NewValidationError("cooldownPeriod must be non-negative")
	}
	return nil
}

// CreateRule validates and persists a new rule. Rules are created active.
func (s *RuleService) CreateRule(ctx context.Context, orgID string, req *models.CreateRuleRequest) (*models.AlertRule, error) {
	if err := validateRuleRequest(req); err != nil {
		return nil, err
	}

	rule := &models.AlertRule{
		RuleID:         uuid.New().String(),
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		DeviceType:     req.DeviceType,
		DeviceIDs:      req.DeviceIDs,
		Condition:      req.Condition,
		Severity:       req.Severity,
		Status:         models.RuleStatusActive,
		CooldownPeriod: req.CooldownPeriod,
		Actions:        req.Actions,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      s.now(),
	}

	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	logrus.Infof("Created rule %s (%s) for org %s", rule.RuleID, rule.Name, orgID)
	return rule, nil
}

// GetRule returns one rule
func (s *RuleService) GetRule(ctx context.Context, orgID, ruleID string) (*models.AlertRule, error) {
	return s.rules.FindRuleByID(ctx, orgID, ruleID)
}

// ListRules returns all of the organization's rules
func (s *RuleService) ListRules(ctx context.Context, orgID string) ([]*models.AlertRule, error) {
	return s.rules.ListRules(ctx, orgID)
}

// UpdateRule applies the request's non-nil fields. The condition is
// immutable; changing thresholds means a new rule.
func (s *RuleService) UpdateRule(ctx context.Context, orgID, ruleID string, req *models.UpdateRuleRequest) (*models.AlertRule, error) {
	rule, err := s.rules.FindRuleByID(ctx, orgID, ruleID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Status != nil {
		if *req.Status != models.RuleStatusActive && *req.Status != models.RuleStatusInactive {
			return nil, models.NewValidationError("unknown rule status %q", *req.Status)
		}
		rule.Status = *req.Status
	}
	if req.CooldownPeriod != nil {
		if *req.CooldownPeriod < 0 {
			return nil, models.NewValidationError("cooldownPeriod must be non-negative")
		}
		rule.CooldownPeriod = *req.CooldownPeriod
	}
	if req.Actions != nil {
		rule.Actions = *req.Actions
	}
	now := s.now()
	rule.UpdatedAt = &now

	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule. Existing alerts created by it are retained.
func (s *RuleService) DeleteRule(ctx context.Context, orgID, ruleID string) error {
	if _, err := s.rules.FindRuleByID(ctx, orgID, ruleID); err != nil {
		return err
	}
	if err := s.rules.DeleteRule(ctx, orgID, ruleID); err != nil {
		return err
	}
	logrus.Infof("Deleted rule %s for org %s", ruleID, orgID)
	return nil
}
