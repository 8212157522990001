package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// AlertService exposes the alert lifecycle transitions over the store
type AlertService struct {
	alerts storage.AlertStore
	now    func() time.Time
}

// NewAlertService creates a new alert service
func NewAlertService(alerts storage.AlertStore) *AlertService {
	return &AlertService{alerts: alerts, now: time.Now}
}

// GetAlert returns one alert
func (s *AlertService) GetAlert(ctx context.Context, orgID, alertID string) (*models.Alert, error) {
	return s.alerts.FindAlertByID(ctx, orgID, alertID)
}

// ListAlerts returns up to limit of the organization's alerts
func (s *AlertService) ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	return s.alerts.ListAlerts(ctx, orgID, limit)
}

// AcknowledgeAlert applies the triggered -> acknowledged transition.
// Acknowledging an already-acknowledged or resolved alert is a no-op
// returning the current state, so retried ack requests stay idempotent.
func (s *AlertService) AcknowledgeAlert(ctx context.Context, orgID, alertID, userID string) (*models.Alert, error) {
	alert, err := s.alerts.FindAlertByID(ctx, orgID, alertID)
	if err != nil {
		return nil, err
	}

	if !alert.CanAcknowledge() {
		logrus.Debugf("Alert %s is %s; acknowledge is a no-op", alertID, alert.Status)
		return alert, nil
	}

	alert.Acknowledge(userID, s.now())
	if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	logrus.Infof("Alert %s acknowledged by %s", alertID, userID)
	return alert, nil
}

// ResolveAlert applies the acknowledged -> resolved transition. Resolving
// from any other state is an InvalidTransition.
func (s *AlertService) ResolveAlert(ctx context.Context, orgID, alertID, note string) (*models.Alert, error) {
	alert, err := s.alerts.FindAlertByID(ctx, orgID, alertID)
	if err != nil {
		return nil, err
	}

	if err := alert.Resolve(note, s.now()); err != nil {
		return nil, err
	}
	if err := s.alerts.UpdateAlert(ctx, alert); err != nil {
		return nil, err
	}
	logrus.Infof("Alert %s resolved", alertID)
	return alert, nil
}
