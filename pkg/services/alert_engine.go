package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/notify"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// AlertEngine evaluates telemetry batches against an organization's active
// rules. Each activation is stateless: rules come from the store, cooldown
// state lives in the cooldown store, and the result is a set of persisted
// alerts plus dispatched notification requests.
type AlertEngine struct {
	rules      storage.RuleStore
	alerts     storage.AlertStore
	cooldowns  storage.CooldownStore
	dispatcher notify.Dispatcher
	// now is swappable for tests
	now func() time.Time
}

// NewAlertEngine creates an alert engine
func NewAlertEngine(rules storage.RuleStore, alerts storage.AlertStore, cooldowns storage.CooldownStore, dispatcher notify.Dispatcher) *AlertEngine {
	return &AlertEngine{
		rules:      rules,
		alerts:     alerts,
		cooldowns:  cooldowns,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// EvaluationFailure is one isolated per-device/per-rule failure. Failures
// are collected, never propagated; one device's bad payload must not stop
// the rest of the batch.
type EvaluationFailure struct {
	DeviceID string `json:"deviceId"`
	RuleID   string `json:"ruleId,omitempty"`
	Err      error  `json:"-"`
	Message  string `json:"message"`
}

// EvaluationResult summarizes one activation
type EvaluationResult struct {
	RulesEvaluated int                           `json:"rulesEvaluated"`
	NewAlerts      []*models.Alert               `json:"newAlerts"`
	Notifications  []*models.NotificationRequest `json:"notifications"`
	Escalations    int                           `json:"escalations"`
	Failures       []EvaluationFailure           `json:"failures,omitempty"`
}

// EvaluateBatch runs one activation: every reading against every applicable
// active rule (ordered by ruleId), gated by the atomic cooldown
// check-and-set, then an escalation scan over still-triggered alerts.
func (e *AlertEngine) EvaluateBatch(ctx context.Context, orgID string, readings []models.Reading) (*EvaluationResult, error) {
	activeRules, err := e.rules.FindActiveRules(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	// Evaluation order must not depend on store iteration order.
	sort.Slice(activeRules, func(i, j int) bool { return activeRules[i].RuleID < activeRules[j].RuleID })

	result := &EvaluationResult{RulesEvaluated: len(activeRules)}
	for i := range readings {
		reading := &readings[i]
		if err := reading.Validate(); err != nil {
			result.fail(reading.DeviceID, "", err)
			continue
		}
		for _, rule := range activeRules {
			e.evaluateRule(ctx, orgID, rule, reading, result)
		}
	}

	if err := e.scanEscalations(ctx, orgID, result); err != nil {
		// Escalation is best-effort within an activation; the next
		// activation scans again.
		logrus.Warnf("Escalation scan for org %s failed: %v", orgID, err)
	}

	logrus.Infof("Evaluated %d readings against %d rules for org %s: %d alerts, %d escalations, %d failures",
		len(readings), len(activeRules), orgID, len(result.NewAlerts), result.Escalations, len(result.Failures))
	return result, nil
}

// evaluateRule applies one rule to one reading, isolating every failure.
func (e *AlertEngine) evaluateRule(ctx context.Context, orgID string, rule *models.AlertRule, reading *models.Reading, result *EvaluationResult) {
	if !rule.IsApplicableTo(reading.DeviceID, reading.DeviceType) {
		return
	}

	triggered, err := rule.Evaluate(reading.Metrics)
	if err != nil {
		// An unsupported operator is the rule author's configuration
		// problem; the rule is skipped, not the batch.
		result.fail(reading.DeviceID, rule.RuleID, err)
		return
	}
	if !triggered {
		return
	}

	cooldown := time.Duration(rule.CooldownPeriod) * time.Second
	won, err := e.cooldowns.CheckAndSet(ctx, orgID, rule.RuleID, reading.DeviceID, cooldown)
	if err != nil {
		if errors.Is(err, models.ErrStorageConflict) {
			// Lost the race to a concurrent activation: do not trigger
			// this cycle.
			return
		}
		result.fail(reading.DeviceID, rule.RuleID, err)
		return
	}
	if !won {
		logrus.Debugf("Rule %s device %s within cooldown, skipping", rule.RuleID, reading.DeviceID)
		return
	}

	now := e.now()
	value := reading.Metrics[rule.Condition.Metric]
	alert := &models.Alert{
		AlertID:           uuid.New().String(),
		RuleID:            rule.RuleID,
		DeviceID:          reading.DeviceID,
		OrganizationID:    orgID,
		Severity:          rule.Severity,
		Status:            models.AlertStatusTriggered,
		Condition:         fmt.Sprintf("%s %s %g", rule.Condition.Metric, rule.Condition.Operator, rule.Condition.Threshold),
		ActualValue:       value,
		Threshold:         rule.Condition.Threshold,
		Timestamp:         now,
		NotificationsSent: rule.Actions.Channels,
	}

	if err := e.alerts.SaveAlert(ctx, alert); err != nil {
		if errors.Is(err, models.ErrStorageConflict) {
			return
		}
		result.fail(reading.DeviceID, rule.RuleID, err)
		return
	}

	req := &models.NotificationRequest{
		AlertID:  alert.AlertID,
		DeviceID: alert.DeviceID,
		Severity: alert.Severity,
		Message: fmt.Sprintf("Rule %q fired for device %s: %s (actual %g)",
			rule.Name, reading.DeviceID, alert.Condition, value),
		Channels: rule.Actions.Channels,
	}
	if err := e.dispatcher.Dispatch(ctx, req); err != nil {
		// The alert is persisted; a lost notification is the dispatcher
		// caller's retry, not a reason to unwind the trigger.
		result.fail(reading.DeviceID, rule.RuleID, err)
	}

	result.NewAlerts = append(result.NewAlerts, alert)
	result.Notifications = append(result.Notifications, req)
}

// ScanEscalations re-notifies for critical alerts that have sat
// unacknowledged past the deadline. Alert state is untouched; escalation
// is a signal, not a transition.
func (e *AlertEngine) ScanEscalations(ctx context.Context, orgID string) (int, error) {
	result := &EvaluationResult{}
	if err := e.scanEscalations(ctx, orgID, result); err != nil {
		return 0, err
	}
	return result.Escalations, nil
}

func (e *AlertEngine) scanEscalations(ctx context.Context, orgID string, result *EvaluationResult) error {
	triggered, err := e.alerts.FindTriggeredAlerts(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load triggered alerts: %w", err)
	}

	now := e.now()
	for _, alert := range triggered {
		if !alert.ShouldEscalate(now) {
			continue
		}
		req := &models.NotificationRequest{
			AlertID:  alert.AlertID,
			DeviceID: alert.DeviceID,
			Severity: alert.Severity,
			Message: fmt.Sprintf("Unacknowledged critical alert %s on device %s (triggered %s)",
				alert.AlertID, alert.DeviceID, alert.Timestamp.Format(time.RFC3339)),
			Channels:   alert.NotificationsSent,
			Escalation: true,
		}
		if err := e.dispatcher.Dispatch(ctx, req); err != nil {
			result.fail(alert.DeviceID, alert.RuleID, err)
			continue
		}
		result.Escalations++
		result.Notifications = append(result.Notifications, req)
	}
	return nil
}

func (r *EvaluationResult) fail(deviceID, ruleID string, err error) {
	r.Failures = append(r.Failures, EvaluationFailure{
		DeviceID: deviceID,
		RuleID:   ruleID,
		Err:      err,
		Message:  err.Error(),
	})
}
