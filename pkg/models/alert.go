package models

import (
	"time"
)

// AlertSeverity represents the severity level of a rule or alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertStatus represents the lifecycle state of an alert. Transitions are
// strictly forward-only: triggered -> acknowledged -> resolved.
type AlertStatus string

const (
	AlertStatusTriggered    AlertStatus = "triggered"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// EscalationDeadline is how long a critical alert may sit unacknowledged
// before the engine starts emitting escalation notifications.
const EscalationDeadline = 900 * time.Second

// Alert is a concrete rule violation with its own lifecycle. Alerts are
// never deleted; they are retained for audit and only mutated through the
// acknowledge/resolve transitions.
type Alert struct {
	AlertID        string        `json:"alertId" dynamodbav:"alertId"`
	RuleID         string        `json:"ruleId" dynamodbav:"ruleId"`
	DeviceID       string        `json:"deviceId" dynamodbav:"deviceId"`
	OrganizationID string        `json:"organizationId" dynamodbav:"organizationId"`
	Severity       AlertSeverity `json:"severity" dynamodbav:"severity"`
	Status         AlertStatus   `json:"status" dynamodbav:"status"`
	// Condition is a human-readable description of what fired,
	// e.g. "temperature > 30.0"
	Condition         string                 `json:"condition" dynamodbav:"condition"`
	ActualValue       float64                `json:"actualValue" dynamodbav:"actualValue"`
	Threshold         float64                `json:"threshold" dynamodbav:"threshold"`
	Timestamp         time.Time              `json:"timestamp" dynamodbav:"timestamp,unixtime"`
	AcknowledgedBy    string                 `json:"acknowledgedBy,omitempty" dynamodbav:"acknowledgedBy,omitempty"`
	AcknowledgedAt    *time.Time             `json:"acknowledgedAt,omitempty" dynamodbav:"acknowledgedAt,unixtime,omitempty"`
	ResolvedAt        *time.Time             `json:"resolvedAt,omitempty" dynamodbav:"resolvedAt,unixtime,omitempty"`
	NotificationsSent []string               `json:"notificationsSent,omitempty" dynamodbav:"notificationsSent,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
}

// CanAcknowledge reports whether the alert is in a state where an
// acknowledgment would apply. Re-acknowledging an already-acknowledged alert
// is a no-op rather than an error so retried ack requests stay idempotent.
func (a *Alert) CanAcknowledge() bool {
	return a.Status == AlertStatusTriggered
}

// Acknowledge moves the alert to acknowledged and records who and when.
func (a *Alert) Acknowledge(userID string, now time.Time) {
	a.Status = AlertStatusAcknowledged
	a.AcknowledgedBy = userID
	a.AcknowledgedAt = &now
}

// Resolve moves the alert to resolved. Resolution requires a prior
// acknowledgment; anything else is an InvalidTransition.
func (a *Alert) Resolve(note string, now time.Time) error {
	if a.Status != AlertStatusAcknowledged {
		return WrapDomain(ErrInvalidTransition, nil)
	}
	a.Status = AlertStatusResolved
	a.ResolvedAt = &now
	if note != "" {
		if a.Metadata == nil {
			a.Metadata = make(map[string]interface{})
		}
		a.Metadata["resolution"] = note
	}
	return nil
}

// ShouldEscalate reports whether the alert is a critical, still-triggered,
// unacknowledged alert older than the escalation deadline. Escalation is a
// signal the engine acts on; it does not change alert state.
func (a *Alert) ShouldEscalate(now time.Time) bool {
	if a.Severity != SeverityCritical {
		return false
	}
	if a.Status != AlertStatusTriggered || a.AcknowledgedAt != nil {
		return false
	}
	return now.Sub(a.Timestamp) > EscalationDeadline
}

// NotificationRequest is what the engine hands to the notification
// dispatcher, one per newly triggered alert (plus escalation re-notifies).
type NotificationRequest struct {
	AlertID    string        `json:"alertId"`
	DeviceID   string        `json:"deviceId"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	Channels   []string      `json:"channels"`
	Escalation bool          `json:"escalation,omitempty"`
}

// AcknowledgeAlertRequest is the payload for acknowledging an alert
type AcknowledgeAlertRequest struct {
	AcknowledgedBy string `json:"acknowledgedBy"`
}

// ResolveAlertRequest is the payload for resolving an alert
type ResolveAlertRequest struct {
	ResolutionNote string `json:"resolutionNote,omitempty"`
}
