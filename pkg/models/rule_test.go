package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionEvaluate(t *testing.T) {
	tests := []struct {
		name      string
		operator  ConditionOperator
		value     float64
		threshold float64
		want      bool
	}{
		{"greater than true", OperatorGreaterThan, 35.5, 30, true},
		{"greater than false", OperatorGreaterThan, 30, 30, false},
		{"less than true", OperatorLessThan, 10, 30, true},
		{"less than false", OperatorLessThan, 30, 30, false},
		{"greater or equal at boundary", OperatorGreaterOrEqual, 30, 30, true},
		{"greater or equal below", OperatorGreaterOrEqual, 29.99, 30, false},
		{"less or equal at boundary", OperatorLessOrEqual, 30, 30, true},
		{"less or equal above", OperatorLessOrEqual, 30.01, 30, false},
		{"equal exact", OperatorEqual, 30, 30, true},
		{"equal inexact", OperatorEqual, 30.0001, 30, false},
		{"negative values", OperatorLessThan, -12.5, -10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond := AlertCondition{Metric: "temperature", Operator: tt.operator, Threshold: tt.threshold}
			got, err := cond.Evaluate(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvaluateUnknownOperator(t *testing.T) {
	cond := AlertCondition{Metric: "temperature", Operator: "~=", Threshold: 30}
	_, err := cond.Evaluate(35)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOperator))
}

func activeRule() *AlertRule {
	return &AlertRule{
		RuleID:         "rule-1",
		OrganizationID: "org-1",
		Name:           "High temperature",
		DeviceType:     DeviceTypeAll,
		Condition:      AlertCondition{Metric: "temperature", Operator: OperatorGreaterThan, Threshold: 30},
		Severity:       SeverityWarning,
		Status:         RuleStatusActive,
		CooldownPeriod: 60,
	}
}

func TestRuleIsApplicableTo(t *testing.T) {
	tests := []struct {
		name       string
		ruleType   string
		deviceIDs  []string
		deviceID   string
		deviceType string
		want       bool
	}{
		{"all device types", DeviceTypeAll, nil, "dev-1", "sensor", true},
		{"matching type", "sensor", nil, "dev-1", "sensor", true},
		{"mismatched type", "gateway", nil, "dev-1", "sensor", false},
		{"allow-list hit", DeviceTypeAll, []string{"dev-1", "dev-2"}, "dev-1", "sensor", true},
		{"allow-list miss despite type match", "sensor", []string{"dev-2"}, "dev-1", "sensor", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := activeRule()
			rule.DeviceType = tt.ruleType
			rule.DeviceIDs = tt.deviceIDs
			assert.Equal(t, tt.want, rule.IsApplicableTo(tt.deviceID, tt.deviceType))
		})
	}
}

func TestRuleEvaluate(t *testing.T) {
	rule := activeRule()

	triggered, err := rule.Evaluate(map[string]float64{"temperature": 35.5})
	require.NoError(t, err)
	assert.True(t, triggered)

	triggered, err = rule.Evaluate(map[string]float64{"temperature": 25})
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestRuleEvaluateInactiveNeverTriggers(t *testing.T) {
	rule := activeRule()
	rule.Status = RuleStatusInactive

	triggered, err := rule.Evaluate(map[string]float64{"temperature": 100})
	require.NoError(t, err)
	assert.False(t, triggered)
}

func TestRuleEvaluateMissingMetricIsNotAnError(t *testing.T) {
	rule := activeRule()

	triggered, err := rule.Evaluate(map[string]float64{"humidity": 99})
	require.NoError(t, err)
	assert.False(t, triggered)
}
