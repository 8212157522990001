package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

type fakeBinaryUploader struct {
	uploads map[string][]byte
}

func (u *fakeBinaryUploader) Upload(ctx context.Context, key string, data []byte) error {
	if u.uploads == nil {
		u.uploads = make(map[string][]byte)
	}
	u.uploads[key] = data
	return nil
}

func (u *fakeBinaryUploader) Bucket() string { return "fleet-firmware" }

func TestRegisterFirmware(t *testing.T) {
	uploader := &fakeBinaryUploader{}
	store := &fakeFirmwareStore{}
	svc := NewFirmwareService(store, uploader)

	image := []byte("firmware image bytes")
	fw, err := svc.RegisterFirmware(context.Background(), &RegisterFirmwareRequest{
		Version:     "v2.1.0",
		DeviceTypes: []string{"thermostat"},
		UploadedBy:  "user-1",
	}, image)
	require.NoError(t, err)

	assert.NotEmpty(t, fw.FirmwareID)
	assert.Equal(t, "v2.1.0", fw.Version.String())
	assert.Equal(t, models.FirmwareStatusAvailable, fw.Status)
	assert.Equal(t, "fleet-firmware", fw.Bucket)
	assert.Equal(t, int64(len(image)), fw.Size)

	sum := sha256.Sum256(image)
	assert.Equal(t, hex.EncodeToString(sum[:]), fw.Checksum)

	stored, ok := uploader.uploads[fw.Key]
	require.True(t, ok, "image uploaded under the record's key")
	assert.Equal(t, image, stored)
}

func TestRegisterFirmwareValidation(t *testing.T) {
	svc := NewFirmwareService(&fakeFirmwareStore{}, &fakeBinaryUploader{})

	_, err := svc.RegisterFirmware(context.Background(), &RegisterFirmwareRequest{
		Version: "two-point-one", DeviceTypes: []string{"thermostat"},
	}, []byte("x"))
	assert.Error(t, err)

	_, err = svc.RegisterFirmware(context.Background(), &RegisterFirmwareRequest{
		Version: "2.1.0",
	}, []byte("x"))
	assert.Error(t, err)

	_, err = svc.RegisterFirmware(context.Background(), &RegisterFirmwareRequest{
		Version: "2.1.0", DeviceTypes: []string{"thermostat"},
	}, nil)
	assert.Error(t, err)
}

func TestSetFirmwareStatus(t *testing.T) {
	store := &fakeFirmwareStore{fw: &models.Firmware{
		FirmwareID: "fw-1",
		Status:     models.FirmwareStatusAvailable,
	}}
	svc := NewFirmwareService(store, &fakeBinaryUploader{})

	fw, err := svc.SetFirmwareStatus(context.Background(), "fw-1", models.FirmwareStatusDeprecated)
	require.NoError(t, err)
	assert.Equal(t, models.FirmwareStatusDeprecated, fw.Status)

	_, err = svc.SetFirmwareStatus(context.Background(), "fw-1", "retired")
	assert.Error(t, err)
}
