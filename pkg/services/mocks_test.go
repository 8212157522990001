package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fleetgrid/fleet-gateway/pkg/dispatch"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/notify"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// MockRuleStore is a mock implementation of storage.RuleStore
type MockRuleStore struct {
	mock.Mock
}

var _ storage.RuleStore = (*MockRuleStore)(nil)

func (m *MockRuleStore) SaveRule(ctx context.Context, rule *models.AlertRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

func (m *MockRuleStore) FindRuleByID(ctx context.Context, orgID, ruleID string) (*models.AlertRule, error) {
	args := m.Called(ctx, orgID, ruleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AlertRule), args.Error(1)
}

func (m *MockRuleStore) FindActiveRules(ctx context.Context, orgID string) ([]*models.AlertRule, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AlertRule), args.Error(1)
}

func (m *MockRuleStore) ListRules(ctx context.Context, orgID string) ([]*models.AlertRule, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AlertRule), args.Error(1)
}

func (m *MockRuleStore) DeleteRule(ctx context.Context, orgID, ruleID string) error {
	args := m.Called(ctx, orgID, ruleID)
	return args.Error(0)
}

// MockAlertStore is a mock implementation of storage.AlertStore
type MockAlertStore struct {
	mock.Mock
}

var _ storage.AlertStore = (*MockAlertStore)(nil)

func (m *MockAlertStore) SaveAlert(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertStore) UpdateAlert(ctx context.Context, alert *models.Alert) error {
	args := m.Called(ctx, alert)
	return args.Error(0)
}

func (m *MockAlertStore) FindAlertByID(ctx context.Context, orgID, alertID string) (*models.Alert, error) {
	args := m.Called(ctx, orgID, alertID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Alert), args.Error(1)
}

func (m *MockAlertStore) FindTriggeredAlerts(ctx context.Context, orgID string) ([]*models.Alert, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Alert), args.Error(1)
}

func (m *MockAlertStore) ListAlerts(ctx context.Context, orgID string, limit int) ([]*models.Alert, error) {
	args := m.Called(ctx, orgID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Alert), args.Error(1)
}

// MockCooldownStore is a mock implementation of storage.CooldownStore
type MockCooldownStore struct {
	mock.Mock
}

var _ storage.CooldownStore = (*MockCooldownStore)(nil)

func (m *MockCooldownStore) CheckAndSet(ctx context.Context, orgID, ruleID, deviceID string, cooldown time.Duration) (bool, error) {
	args := m.Called(ctx, orgID, ruleID, deviceID, cooldown)
	return args.Bool(0), args.Error(1)
}

// MockDispatcher is a mock implementation of notify.Dispatcher
type MockDispatcher struct {
	mock.Mock
}

var _ notify.Dispatcher = (*MockDispatcher)(nil)

func (m *MockDispatcher) Dispatch(ctx context.Context, req *models.NotificationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// memDeploymentStore is an in-memory DeploymentStore with the same
// revision-conditioned write semantics as the DynamoDB store, for
// multi-step orchestrator scenarios.
type memDeploymentStore struct {
	deployments map[string]*models.Deployment
}

var _ storage.DeploymentStore = (*memDeploymentStore)(nil)

func newMemDeploymentStore() *memDeploymentStore {
	return &memDeploymentStore{deployments: make(map[string]*models.Deployment)}
}

func cloneDeployment(d *models.Deployment) *models.Deployment {
	raw, _ := json.Marshal(d)
	var out models.Deployment
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (s *memDeploymentStore) SaveDeployment(ctx context.Context, d *models.Deployment) error {
	if _, ok := s.deployments[d.DeploymentID]; ok {
		return models.WrapDomain(models.ErrStorageConflict, nil)
	}
	d.Revision = 1
	s.deployments[d.DeploymentID] = cloneDeployment(d)
	return nil
}

func (s *memDeploymentStore) GetDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	d, ok := s.deployments[deploymentID]
	if !ok {
		return nil, models.WrapDomain(models.ErrNotFound, nil)
	}
	return cloneDeployment(d), nil
}

func (s *memDeploymentStore) UpdateDeployment(ctx context.Context, d *models.Deployment) error {
	stored, ok := s.deployments[d.DeploymentID]
	if !ok {
		return models.WrapDomain(models.ErrNotFound, nil)
	}
	if stored.Revision != d.Revision {
		return models.WrapDomain(models.ErrStorageConflict, nil)
	}
	d.Revision++
	s.deployments[d.DeploymentID] = cloneDeployment(d)
	return nil
}

func (s *memDeploymentStore) ListDeployments(ctx context.Context, limit int) ([]*models.Deployment, error) {
	out := make([]*models.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		out = append(out, cloneDeployment(d))
	}
	return out, nil
}

// fakeFirmwareStore serves a single firmware record
type fakeFirmwareStore struct {
	fw *models.Firmware
}

var _ storage.FirmwareStore = (*fakeFirmwareStore)(nil)

func (s *fakeFirmwareStore) SaveFirmware(ctx context.Context, fw *models.Firmware) error {
	s.fw = fw
	return nil
}

func (s *fakeFirmwareStore) GetFirmware(ctx context.Context, firmwareID string) (*models.Firmware, error) {
	if s.fw == nil || s.fw.FirmwareID != firmwareID {
		return nil, models.WrapDomain(models.ErrNotFound, nil)
	}
	return s.fw, nil
}

func (s *fakeFirmwareStore) ListFirmware(ctx context.Context) ([]*models.Firmware, error) {
	if s.fw == nil {
		return nil, nil
	}
	return []*models.Firmware{s.fw}, nil
}

// fakeDeviceStore is an in-memory registry. Unlisted devices resolve as
// thermostats unless marked missing, so deployment tests don't have to seed
// every target.
type fakeDeviceStore struct {
	devices map[string]*models.Device
	missing map[string]bool
	touched int
}

var _ storage.DeviceStore = (*fakeDeviceStore)(nil)

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{
		devices: make(map[string]*models.Device),
		missing: make(map[string]bool),
	}
}

func (s *fakeDeviceStore) SaveDevice(ctx context.Context, device *models.Device) error {
	s.devices[device.DeviceID] = device
	return nil
}

func (s *fakeDeviceStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if s.missing[deviceID] {
		return nil, models.WrapDomain(models.ErrNotFound, nil)
	}
	if dev, ok := s.devices[deviceID]; ok {
		return dev, nil
	}
	return &models.Device{
		DeviceID:       deviceID,
		OrganizationID: "default",
		DeviceType:     "thermostat",
		Status:         models.DeviceStatusOnline,
	}, nil
}

func (s *fakeDeviceStore) ListDevices(ctx context.Context, orgID string) ([]*models.Device, error) {
	var out []*models.Device
	for _, dev := range s.devices {
		if dev.OrganizationID == orgID {
			out = append(out, dev)
		}
	}
	return out, nil
}

func (s *fakeDeviceStore) TouchDevice(ctx context.Context, orgID, deviceID, deviceType string, seenAt time.Time) error {
	s.touched++
	dev, ok := s.devices[deviceID]
	if !ok {
		dev = &models.Device{DeviceID: deviceID, OrganizationID: orgID, DeviceType: deviceType, CreatedAt: seenAt}
		s.devices[deviceID] = dev
	}
	dev.Status = models.DeviceStatusOnline
	seen := seenAt
	dev.LastSeen = &seen
	return nil
}

// fakeBinaryResolver hands out a static download URL
type fakeBinaryResolver struct{}

func (fakeBinaryResolver) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://example.com/" + key, nil
}

// recordingDispatcher records batch dispatches and stop signals
type recordingDispatcher struct {
	dispatched []int // batch IDs in dispatch order
	stopped    []string
	failNext   error
}

var _ dispatch.BatchDispatcher = (*recordingDispatcher)(nil)

func (d *recordingDispatcher) DispatchBatch(ctx context.Context, deploymentID string, batch *models.DeploymentBatch, fw dispatch.FirmwareRef) error {
	if d.failNext != nil {
		err := d.failNext
		d.failNext = nil
		return err
	}
	d.dispatched = append(d.dispatched, batch.BatchID)
	return nil
}

func (d *recordingDispatcher) SignalStop(ctx context.Context, deploymentID string) error {
	d.stopped = append(d.stopped, deploymentID)
	return nil
}
