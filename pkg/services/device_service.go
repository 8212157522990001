package services

import (
	"context"
	"time"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// DeviceService serves the fleet registry with the derived state operators
// pick rollout targets by.
type DeviceService struct {
	devices  storage.DeviceStore
	firmware storage.FirmwareStore
	now      func() time.Time
}

// NewDeviceService creates a new device service
func NewDeviceService(devices storage.DeviceStore, firmware storage.FirmwareStore) *DeviceService {
	return &DeviceService{devices: devices, firmware: firmware, now: time.Now}
}

// DeviceView is a registry device plus derived state. NeedsUpdate and
// Compatible are present only when the view was built against a firmware
// image.
type DeviceView struct {
	models.Device
	Online      bool  `json:"online"`
	NeedsUpdate *bool `json:"needsUpdate,omitempty"`
	Compatible  *bool `json:"compatible,omitempty"`
}

func (s *DeviceService) view(dev *models.Device, fw *models.Firmware) DeviceView {
	v := DeviceView{Device: *dev, Online: dev.IsOnline(s.now())}
	if fw != nil {
		needs := dev.NeedsUpdate(fw.Version)
		compatible := fw.IsCompatibleWith(dev.DeviceType)
		v.NeedsUpdate = &needs
		v.Compatible = &compatible
	}
	return v
}

// GetDevice returns one device with its online state
func (s *DeviceService) GetDevice(ctx context.Context, deviceID string) (*DeviceView, error) {
	dev, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	v := s.view(dev, nil)
	return &v, nil
}

// ListDevices returns the organization's devices. A non-empty firmwareID
// annotates each device with whether it needs that image and whether the
// image supports its type.
func (s *DeviceService) ListDevices(ctx context.Context, orgID, firmwareID string) ([]DeviceView, error) {
	var fw *models.Firmware
	if firmwareID != "" {
		var err error
		fw, err = s.firmware.GetFirmware(ctx, firmwareID)
		if err != nil {
			return nil, err
		}
	}

	devices, err := s.devices.ListDevices(ctx, orgID)
	if err != nil {
		return nil, err
	}
	views := make([]DeviceView, 0, len(devices))
	for _, dev := range devices {
		views = append(views, s.view(dev, fw))
	}
	return views, nil
}

// RegisterDevice upserts a registry entry
func (s *DeviceService) RegisterDevice(ctx context.Context, orgID string, device *models.Device) (*models.Device, error) {
	if device.DeviceID == "" {
		return nil, models.NewValidationError("device is missing deviceId")
	}
	if device.DeviceType == "" {
		return nil, models.NewValidationError("device %s is missing deviceType", device.DeviceID)
	}
	device.OrganizationID = orgID
	if device.Status == "" {
		device.Status = models.DeviceStatusRegistered
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = s.now()
	}
	if err := s.devices.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}
