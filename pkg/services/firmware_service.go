package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// BinaryUploader stores firmware image bytes. Implemented by the S3 binary
// store; faked in tests.
type BinaryUploader interface {
	Upload(ctx context.Context, key string, data []byte) error
	Bucket() string
}

// FirmwareService registers firmware images: bytes to object storage,
// metadata to the firmware table.
type FirmwareService struct {
	firmware storage.FirmwareStore
	binaries BinaryUploader
	now      func() time.Time
}

// NewFirmwareService creates a new firmware service
func NewFirmwareService(firmware storage.FirmwareStore, binaries BinaryUploader) *FirmwareService {
	return &FirmwareService{firmware: firmware, binaries: binaries, now: time.Now}
}

// RegisterFirmwareRequest carries the metadata accompanying an image upload
type RegisterFirmwareRequest struct {
	Version     string   `json:"version"`
	DeviceTypes []string `json:"deviceTypes"`
	Changelog   string   `json:"changelog,omitempty"`
	UploadedBy  string   `json:"uploadedBy"`
}

// RegisterFirmware uploads the image and persists its metadata. The
// checksum is computed server-side so devices verify against what was
// actually stored.
func (s *FirmwareService) RegisterFirmware(ctx context.Context, req *RegisterFirmwareRequest, image []byte) (*models.Firmware, error) {
	version, err := models.ParseFirmwareVersion(req.Version)
	if err != nil {
		return nil, err
	}
	if len(req.DeviceTypes) == 0 {
		return nil, models.NewValidationError("firmware must declare at least one compatible device type")
	}
	if len(image) == 0 {
		return nil, models.NewValidationError("firmware image is empty")
	}

	sum := sha256.Sum256(image)
	fw := &models.Firmware{
		FirmwareID:  uuid.New().String(),
		Version:     version,
		DeviceTypes: req.DeviceTypes,
		Bucket:      s.binaries.Bucket(),
		Checksum:    hex.EncodeToString(sum[:]),
		Size:        int64(len(image)),
		Status:      models.FirmwareStatusAvailable,
		Changelog:   req.Changelog,
		UploadedBy:  req.UploadedBy,
		UploadedAt:  s.now(),
	}
	fw.Key = fmt.Sprintf("firmware/%s/%s.bin", fw.FirmwareID, version)

	if err := s.binaries.Upload(ctx, fw.Key, image); err != nil {
		return nil, err
	}
	if err := s.firmware.SaveFirmware(ctx, fw); err != nil {
		return nil, err
	}
	logrus.Infof("Registered firmware %s %s (%d bytes) for types %v", fw.FirmwareID, version, fw.Size, fw.DeviceTypes)
	return fw, nil
}

// GetFirmware returns one firmware record
func (s *FirmwareService) GetFirmware(ctx context.Context, firmwareID string) (*models.Firmware, error) {
	return s.firmware.GetFirmware(ctx, firmwareID)
}

// ListFirmware returns all firmware records
func (s *FirmwareService) ListFirmware(ctx context.Context) ([]*models.Firmware, error) {
	return s.firmware.ListFirmware(ctx)
}

// SetFirmwareStatus moves an image between available, deprecated and
// withdrawn. Running deployments are unaffected; scheduling checks status.
func (s *FirmwareService) SetFirmwareStatus(ctx context.Context, firmwareID string, status models.FirmwareStatus) (*models.Firmware, error) {
	switch status {
	case models.FirmwareStatusAvailable, models.FirmwareStatusDeprecated, models.FirmwareStatusWithdrawn:
	default:
		return nil, models.NewValidationError("unknown firmware status %q", status)
	}

	fw, err := s.firmware.GetFirmware(ctx, firmwareID)
	if err != nil {
		return nil, err
	}
	fw.Status = status
	if err := s.firmware.SaveFirmware(ctx, fw); err != nil {
		return nil, err
	}
	return fw, nil
}
