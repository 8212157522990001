package models

import (
	"time"
)

// RuleStatus represents the current status of an alert rule
type RuleStatus string

const (
	RuleStatusActive   RuleStatus = "active"
	RuleStatusInactive RuleStatus = "inactive"
)

// ConditionOperator is one of the supported threshold comparison operators
type ConditionOperator string

const (
	OperatorGreaterThan    ConditionOperator = ">"
	OperatorLessThan       ConditionOperator = "<"
	OperatorGreaterOrEqual ConditionOperator = ">="
	OperatorLessOrEqual    ConditionOperator = "<="
	OperatorEqual          ConditionOperator = "=="
)

// DeviceTypeAll makes a rule applicable to every device type.
const DeviceTypeAll = "all"

// AlertCondition is the threshold condition attached to a rule. Immutable
// once the rule is persisted.
type AlertCondition struct {
	Metric   string            `json:"metric" dynamodbav:"metric"`
	Operator ConditionOperator `json:"operator" dynamodbav:"operator"`
	// Threshold the metric value is compared against
	Threshold float64 `json:"threshold" dynamodbav:"threshold"`
	// DurationSeconds the condition must sustain. Recorded for the rule
	// author; evaluation itself is instantaneous.
	DurationSeconds int `json:"duration" dynamodbav:"duration"`
}

// Evaluate applies the condition's operator as value <op> threshold.
// Equality is exact float comparison; callers needing tolerance pre-round.
func (c AlertCondition) Evaluate(value float64) (bool, error) {
	switch c.Operator {
	case OperatorGreaterThan:
		return value > c.Threshold, nil
	case OperatorLessThan:
		return value < c.Threshold, nil
	case OperatorGreaterOrEqual:
		return value >= c.Threshold, nil
	case OperatorLessOrEqual:
		return value <= c.Threshold, nil
	case OperatorEqual:
		return value == c.Threshold, nil
	default:
		return false, WrapDomain(ErrInvalidOperator, nil)
	}
}

// ActionConfig holds the notification channel configuration of a rule.
// Recognized fields are typed; anything else a client sends rides along in
// Extra so older gateways don't drop newer settings.
type ActionConfig struct {
	Channels []string               `json:"channels" dynamodbav:"channels"`
	Extra    map[string]interface{} `json:"extra,omitempty" dynamodbav:"extra,omitempty"`
}

// AlertRule is a persisted threshold rule plus its applicability filter and
// notification actions.
type AlertRule struct {
	RuleID         string `json:"ruleId" dynamodbav:"ruleId"`
	OrganizationID string `json:"organizationId" dynamodbav:"organizationId"`
	Name           string `json:"name" dynamodbav:"name"`
	Description    string `json:"description,omitempty" dynamodbav:"description"`
	// DeviceType the rule targets, or "all"
	DeviceType string `json:"deviceType" dynamodbav:"deviceType"`
	// DeviceIDs, when non-empty, restricts the rule to exactly these devices
	// regardless of DeviceType.
	DeviceIDs      []string       `json:"deviceIds,omitempty" dynamodbav:"deviceIds,omitempty"`
	Condition      AlertCondition `json:"condition" dynamodbav:"condition"`
	Severity       AlertSeverity  `json:"severity" dynamodbav:"severity"`
	Status         RuleStatus     `json:"status" dynamodbav:"status"`
	CooldownPeriod int            `json:"cooldownPeriod" dynamodbav:"cooldownPeriod"` // seconds
	Actions        ActionConfig   `json:"actions" dynamodbav:"actions"`
	CreatedBy      string         `json:"createdBy" dynamodbav:"createdBy"`
	CreatedAt      time.Time      `json:"createdAt" dynamodbav:"createdAt,unixtime"`
	UpdatedAt      *time.Time     `json:"updatedAt,omitempty" dynamodbav:"updatedAt,unixtime,omitempty"`
}

// IsApplicableTo reports whether the rule targets the given device.
// A non-empty DeviceIDs allow-list dominates the device type filter.
func (r *AlertRule) IsApplicableTo(deviceID, deviceType string) bool {
	if r.DeviceType != DeviceTypeAll && r.DeviceType != deviceType {
		return false
	}
	if len(r.DeviceIDs) > 0 {
		for _, id := range r.DeviceIDs {
			if id == deviceID {
				return true
			}
		}
		return false
	}
	return true
}

// Evaluate checks the rule's condition against one device's telemetry.
// An inactive rule or an absent metric is a silent non-trigger, not an error.
func (r *AlertRule) Evaluate(telemetry map[string]float64) (bool, error) {
	if r.Status != RuleStatusActive {
		return false, nil
	}
	value, ok := telemetry[r.Condition.Metric]
	if !ok {
		return false, nil
	}
	return r.Condition.Evaluate(value)
}

// CreateRuleRequest is the payload for creating a rule
type CreateRuleRequest struct {
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	DeviceType     string         `json:"deviceType"`
	DeviceIDs      []string       `json:"deviceIds,omitempty"`
	Condition      AlertCondition `json:"condition"`
	Severity       AlertSeverity  `json:"severity"`
	CooldownPeriod int            `json:"cooldownPeriod"`
	Actions        ActionConfig   `json:"actions"`
	CreatedBy      string         `json:"createdBy"`
}

// UpdateRuleRequest is the payload for updating a rule. Nil fields are left
// unchanged; the condition is immutable and cannot be updated in place.
type UpdateRuleRequest struct {
	Name           *string       `json:"name,omitempty"`
	Description    *string       `json:"description,omitempty"`
	Status         *RuleStatus   `json:"status,omitempty"`
	CooldownPeriod *int          `json:"cooldownPeriod,omitempty"`
	Actions        *ActionConfig `json:"actions,omitempty"`
}
