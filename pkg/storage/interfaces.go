package storage

import (
	"context"
	"time"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// RuleStore persists alert rules
type RuleStore interface {
	SaveRule(ctx context.Context, rule *models.AlertRule) error
	FindRuleByID(ctx context.Context, orgID, ruleID string) (*models.AlertRule, error)
	// FindActiveRules returns the organization's active rules ordered by
	// ruleId. The engine additionally sorts, so an implementation that
	// cannot order cheaply may return rules in any order.
	FindActiveRules(ctx context.Context, orgID string) ([]*models.AlertRule, error)
	ListRules(ctx context.Context, orgID string) ([]*models.AlertRule, error)
	DeleteRule(ctx context.Context, orgID, ruleID string) error
}

// AlertStore persists alerts. Alerts are append-then-transition; they are
// never deleted.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	UpdateAlert(ctx context.Context, alert *models.Alert) error
	FindAlertByID(ctx context.Context, orgID, alertID string) (*models.Alert, error)
	FindTriggeredAlerts(ctx context.Context, orgID string) ([]*models.Alert, error)
	ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error)
}

// CooldownStore is the atomic per-(rule, device) trigger gate. CheckAndSet
// returns true when the caller won the slot and may trigger; false when a
// trigger is still inside the cooldown window. The check and the write are
// one atomic operation at the storage layer so two concurrent activations for
// the same pair must never both see true.
type CooldownStore interface {
	CheckAndSet(ctx context.Context, orgID, ruleID, deviceID string, cooldown time.Duration) (bool, error)
}

// DeploymentStore persists deployments. UpdateDeployment performs a
// revision-conditioned write and returns models.ErrStorageConflict when the
// persisted revision no longer matches, which serializes outcome application
// per deployment.
type DeploymentStore interface {
	SaveDeployment(ctx context.Context, d *models.Deployment) error
	GetDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error)
	UpdateDeployment(ctx context.Context, d *models.Deployment) error
	ListDeployments(ctx context.Context, limit int) ([]*models.Deployment, error)
}

// DeviceStore persists the fleet device registry. Deployments consult it to
// reject targets the firmware does not support.
type DeviceStore interface {
	SaveDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	ListDevices(ctx context.Context, orgID string) ([]*models.Device, error)
	// TouchDevice upserts liveness from telemetry: last-seen time, online
	// status and, for a device never registered, its reported type.
	TouchDevice(ctx context.Context, orgID, deviceID, deviceType string, seenAt time.Time) error
}

// FirmwareStore persists firmware metadata
type FirmwareStore interface {
	SaveFirmware(ctx context.Context, fw *models.Firmware) error
	GetFirmware(ctx context.Context, firmwareID string) (*models.Firmware, error)
	ListFirmware(ctx context.Context) ([]*models.Firmware, error)
}
