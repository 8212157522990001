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

func triggeredAlert() *models.Alert {
	return &models.Alert{
		AlertID:        "alert-1",
		RuleID:         "rule-1",
		DeviceID:       "device-1",
		OrganizationID: "org-1",
		Severity:       models.SeverityCritical,
		Status:         models.AlertStatusTriggered,
		Timestamp:      time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}
}

func TestAcknowledgeAlert(t *testing.T) {
	store := new(MockAlertStore)
	store.On("FindAlertByID", mock.Anything, "org-1", "alert-1").Return(triggeredAlert(), nil)
	store.On("UpdateAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)

	svc := NewAlertService(store)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	alert, err := svc.AcknowledgeAlert(context.Background(), "org-1", "alert-1", "user-7")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, alert.Status)
	assert.Equal(t, "user-7", alert.AcknowledgedBy)
	require.NotNil(t, alert.AcknowledgedAt)
	assert.Equal(t, now, *alert.AcknowledgedAt)
	store.AssertExpectations(t)
}

func TestAcknowledgeAlertAlreadyAcknowledgedIsNoOp(t *testing.T) {
	acked := triggeredAlert()
	acked.Acknowledge("user-7", time.Now())

	store := new(MockAlertStore)
	store.On("FindAlertByID", mock.Anything, "org-1", "alert-1").Return(acked, nil)

	svc := NewAlertService(store)
	alert, err := svc.AcknowledgeAlert(context.Background(), "org-1", "alert-1", "user-8")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, alert.Status)
	assert.Equal(t, "user-7", alert.AcknowledgedBy, "first acknowledger wins")
	store.AssertNotCalled(t, "UpdateAlert", mock.Anything, mock.Anything)
}

func TestResolveAlert(t *testing.T) {
	acked := triggeredAlert()
	acked.Acknowledge("user-7", time.Now())

	store := new(MockAlertStore)
	store.On("FindAlertByID", mock.Anything, "org-1", "alert-1").Return(acked, nil)
	store.On("UpdateAlert", mock.Anything, mock.AnythingOfType("*models.Alert")).Return(nil)

	svc := NewAlertService(store)
	alert, err := svc.ResolveAlert(context.Background(), "org-1", "alert-1", "replaced sensor")
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, alert.Status)
	require.NotNil(t, alert.ResolvedAt)
	assert.Equal(t, "replaced sensor", alert.Metadata["resolution"])
}

func TestResolveAlertRequiresAcknowledgment(t *testing.T) {
	store := new(MockAlertStore)
	store.On("FindAlertByID", mock.Anything, "org-1", "alert-1").Return(triggeredAlert(), nil)

	svc := NewAlertService(store)
	_, err := svc.ResolveAlert(context.Background(), "org-1", "alert-1", "")
	assert.True(t, errors.Is(err, models.ErrInvalidTransition))
	store.AssertNotCalled(t, "UpdateAlert", mock.Anything, mock.Anything)
}
