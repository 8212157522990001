package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

func temperatureRule() *models.AlertRule {
	return &models.AlertRule{
		RuleID:         "rule-1",
		OrganizationID: "org-1",
		Name:           "High temperature",
		DeviceType:     "thermostat",
		Condition: models.AlertCondition{
			Metric:    "temperature",
			Operator:  models.OperatorGreaterThan,
			Threshold: 30,
		},
		Severity:       models.SeverityWarning,
		Status:         models.RuleStatusActive,
		CooldownPeriod: 300,
		Actions:        models.ActionConfig{Channels: []string{"email"}},
	}
}

func newTestEngine(rules *MockRuleStore, alerts *MockAlertStore, cooldowns *MockCooldownStore, dispatcher *MockDispatcher) *AlertEngine {
	e := NewAlertEngine(rules, alerts, cooldowns, dispatcher)
	e.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestEvaluateBatchTriggersAlert(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", "rule-1", "device-1", 300*time.Second).Return(true, nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("*models.NotificationRequest")).Return(nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{
			DeviceID:   "device-1",
			DeviceType: "thermostat",
			Metrics:    map[string]float64{"temperature": 35.5},
			Timestamp:  time.Now(),
		},
	})

	require.NoError(t, err)
	require.Len(t, result.NewAlerts, 1)
	alert := result.NewAlerts[0]
	assert.Equal(t, models.AlertStatusTriggered, alert.Status)
	assert.Equal(t, "rule-1", alert.RuleID)
	assert.Equal(t, "device-1", alert.DeviceID)
	assert.Equal(t, 35.5, alert.ActualValue)
	assert.Equal(t, 30.0, alert.Threshold)
	assert.Equal(t, "temperature > 30", alert.Condition)
	assert.Equal(t, []string{"email"}, alert.NotificationsSent)
	assert.Empty(t, result.Failures)

	require.Len(t, result.Notifications, 1)
	assert.Equal(t, alert.AlertID, result.Notifications[0].AlertID)
	assert.False(t, result.Notifications[0].Escalation)

	rules.AssertExpectations(t)
	alerts.AssertExpectations(t)
	cooldowns.AssertExpectations(t)
	dispatcher.AssertExpectations(t)
}

func TestEvaluateBatchBelowThresholdNoAlert(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 25.0}},
	})

	require.NoError(t, err)
	assert.Empty(t, result.NewAlerts)
	assert.Empty(t, result.Failures)
	cooldowns.AssertNotCalled(t, "CheckAndSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	alerts.AssertNotCalled(t, "SaveAlert", mock.Anything, mock.Anything)
}

func TestEvaluateBatchCooldownSuppresses(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", "rule-1", "device-1", 300*time.Second).Return(false, nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 40.0}},
	})

	require.NoError(t, err)
	assert.Empty(t, result.NewAlerts)
	assert.Empty(t, result.Failures)
	alerts.AssertNotCalled(t, "SaveAlert", mock.Anything, mock.Anything)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestEvaluateBatchNotApplicableDeviceType(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "pump-9", DeviceType: "pump", Metrics: map[string]float64{"temperature": 99.0}},
	})

	require.NoError(t, err)
	assert.Empty(t, result.NewAlerts)
	cooldowns.AssertNotCalled(t, "CheckAndSet", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEvaluateBatchIsolatesMalformedReading(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", "rule-1", "device-2", 300*time.Second).Return(true, nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("*models.NotificationRequest")).Return(nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: nil},
		{DeviceID: "device-2", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 36.0}},
	})

	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "device-1", result.Failures[0].DeviceID)
	require.Len(t, result.NewAlerts, 1)
	assert.Equal(t, "device-2", result.NewAlerts[0].DeviceID)
}

func TestEvaluateBatchInvalidOperatorSkipsRule(t *testing.T) {
	badRule := temperatureRule()
	badRule.RuleID = "rule-0"
	badRule.Condition.Operator = "between"
	goodRule := temperatureRule()

	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{badRule, goodRule}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", "rule-1", "device-1", 300*time.Second).Return(true, nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("*models.NotificationRequest")).Return(nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 36.0}},
	})

	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "rule-0", result.Failures[0].RuleID)
	assert.True(t, errors.Is(result.Failures[0].Err, models.ErrInvalidOperator))
	require.Len(t, result.NewAlerts, 1)
	assert.Equal(t, "rule-1", result.NewAlerts[0].RuleID)
}

func TestEvaluateBatchRuleOrderIndependentOfStore(t *testing.T) {
	ruleA := temperatureRule()
	ruleA.RuleID = "rule-a"
	ruleB := temperatureRule()
	ruleB.RuleID = "rule-b"

	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	// The store hands rules back out of order; evaluation still runs them
	// by ruleId.
	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{ruleB, ruleA}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", mock.Anything, "device-1", 300*time.Second).Return(true, nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("*models.NotificationRequest")).Return(nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 36.0}},
	})

	require.NoError(t, err)
	require.Len(t, result.NewAlerts, 2)
	assert.Equal(t, "rule-a", result.NewAlerts[0].RuleID)
	assert.Equal(t, "rule-b", result.NewAlerts[1].RuleID)
}

func TestEvaluateBatchDispatchFailureKeepsAlert(t *testing.T) {
	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	rules.On("FindActiveRules", mock.Anything, "org-1").Return([]*models.AlertRule{temperatureRule()}, nil)
	cooldowns.On("CheckAndSet", mock.Anything, "org-1", "rule-1", "device-1", 300*time.Second).Return(true, nil)
	alerts.On("SaveAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)
	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.AnythingOfType("*models.NotificationRequest")).
		Return(models.WrapDomain(models.ErrDispatchFailure, errors.New("sns unavailable")))

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	result, err := engine.EvaluateBatch(context.Background(), "org-1", []models.Reading{
		{DeviceID: "device-1", DeviceType: "thermostat", Metrics: map[string]float64{"temperature": 36.0}},
	})

	require.NoError(t, err)
	require.Len(t, result.NewAlerts, 1)
	require.Len(t, result.Failures, 1)
	assert.True(t, errors.Is(result.Failures[0].Err, models.ErrDispatchFailure))
}

func TestScanEscalationsNotifiesStaleCriticalAlerts(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := &models.Alert{
		AlertID:           "alert-1",
		RuleID:            "rule-1",
		DeviceID:          "device-1",
		OrganizationID:    "org-1",
		Severity:          models.SeverityCritical,
		Status:            models.AlertStatusTriggered,
		Timestamp:         now.Add(-16 * time.Minute),
		NotificationsSent: []string{"email", "sms"},
	}
	fresh := &models.Alert{
		AlertID:        "alert-2",
		RuleID:         "rule-1",
		DeviceID:       "device-2",
		OrganizationID: "org-1",
		Severity:       models.SeverityCritical,
		Status:         models.AlertStatusTriggered,
		Timestamp:      now.Add(-5 * time.Minute),
	}
	warning := &models.Alert{
		AlertID:        "alert-3",
		RuleID:         "rule-2",
		DeviceID:       "device-3",
		OrganizationID: "org-1",
		Severity:       models.SeverityWarning,
		Status:         models.AlertStatusTriggered,
		Timestamp:      now.Add(-1 * time.Hour),
	}

	rules := new(MockRuleStore)
	alerts := new(MockAlertStore)
	cooldowns := new(MockCooldownStore)
	dispatcher := new(MockDispatcher)

	alerts.On("FindTriggeredAlerts", mock.Anything, "org-1").Return([]*models.Alert{stale, fresh, warning}, nil)
	dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req *models.NotificationRequest) bool {
		return req.Escalation && req.AlertID == "alert-1"
	})).Return(nil)

	engine := newTestEngine(rules, alerts, cooldowns, dispatcher)
	count, err := engine.ScanEscalations(context.Background(), "org-1")

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	// Escalation re-notifies but never mutates alert state.
	alerts.AssertNotCalled(t, "UpdateAlert", mock.Anything, mock.Anything)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestEvaluateBatchRuleLoadFailure(t *testing.T) {
	rules := new(MockRuleStore)
	rules.On("FindActiveRules", mock.Anything, "org-1").Return(nil, errors.New("dynamodb down"))

	engine := newTestEngine(rules, new(MockAlertStore), new(MockCooldownStore), new(MockDispatcher))
	_, err := engine.EvaluateBatch(context.Background(), "org-1", nil)
	assert.Error(t, err)
}
