package dispatch

import (
	"context"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// FirmwareRef is everything a device needs to fetch and verify an image.
type FirmwareRef struct {
	FirmwareID  string `json:"firmwareId"`
	Version     string `json:"version"`
	DownloadURL string `json:"downloadUrl"`
	Checksum    string `json:"checksum"`
	Size        int64  `json:"size"`
}

// BatchDispatcher pushes firmware update commands to the devices of one
// batch. Per-device success/failure comes back asynchronously through the
// orchestrator's outcome reporting, not through this call.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, deploymentID string, batch *models.DeploymentBatch, fw FirmwareRef) error
	// SignalStop tells the dispatcher to stop issuing per-device commands
	// for a rolled-back deployment.
	SignalStop(ctx context.Context, deploymentID string) error
}
