package models

import (
	"time"
)

// DeviceStatus is the fleet-registry state of a device
type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "online"
	DeviceStatusOffline     DeviceStatus = "offline"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
	DeviceStatusRegistered  DeviceStatus = "registered"
)

// OnlineWindow is how recently a device must have reported to count as
// online.
const OnlineWindow = 300 * time.Second

// Device is the registry entry for an IoT device.
type Device struct {
	DeviceID        string                 `json:"deviceId" dynamodbav:"deviceId"`
	OrganizationID  string                 `json:"organizationId" dynamodbav:"organizationId"`
	DeviceType      string                 `json:"deviceType" dynamodbav:"deviceType"`
	Name            string                 `json:"name" dynamodbav:"name"`
	Status          DeviceStatus           `json:"status" dynamodbav:"status"`
	FirmwareVersion string                 `json:"firmwareVersion,omitempty" dynamodbav:"firmwareVersion"`
	LastSeen        *time.Time             `json:"lastSeen,omitempty" dynamodbav:"lastSeen,unixtime,omitempty"`
	Tags            []string               `json:"tags,omitempty" dynamodbav:"tags,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"createdAt" dynamodbav:"createdAt,unixtime"`
}

// IsOnline reports whether the device is online and has been seen within
// the online window.
func (d *Device) IsOnline(now time.Time) bool {
	if d.Status != DeviceStatusOnline || d.LastSeen == nil {
		return false
	}
	return now.Sub(*d.LastSeen) < OnlineWindow
}

// NeedsUpdate reports whether the device runs something older than the
// target firmware version. A device with no reported version always needs
// the update.
func (d *Device) NeedsUpdate(target FirmwareVersion) bool {
	if d.FirmwareVersion == "" {
		return true
	}
	current, err := ParseFirmwareVersion(d.FirmwareVersion)
	if err != nil {
		return true
	}
	return current.Compare(target) < 0
}

// Reading is one telemetry report from one device: a bag of numeric metrics
// plus whatever extra attributes the device firmware sends. Unrecognized
// fields are preserved in Extra rather than dropped.
type Reading struct {
	DeviceID   string                 `json:"deviceId"`
	DeviceType string                 `json:"deviceType"`
	Metrics    map[string]float64     `json:"metrics"`
	Timestamp  time.Time              `json:"timestamp"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Validate reports whether the reading can be evaluated at all. A reading
// failing validation is skipped per-item; it never aborts the batch.
func (r *Reading) Validate() error {
	if r.DeviceID == "" {
		return NewValidationError("reading missing deviceId")
	}
	if len(r.Metrics) == 0 {
		return NewValidationError("reading for device %s has no metrics", r.DeviceID)
	}
	return nil
}
