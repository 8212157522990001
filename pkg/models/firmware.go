package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FirmwareStatus is the release state of a firmware image
type FirmwareStatus string

const (
	FirmwareStatusAvailable  FirmwareStatus = "available"
	FirmwareStatusDeprecated FirmwareStatus = "deprecated"
	FirmwareStatusWithdrawn  FirmwareStatus = "withdrawn"
)

// FirmwareVersion is a semantic major.minor.patch version
type FirmwareVersion struct {
	Major int `json:"major" dynamodbav:"major"`
	Minor int `json:"minor" dynamodbav:"minor"`
	Patch int `json:"patch" dynamodbav:"patch"`
}

// ParseFirmwareVersion parses "v2.1.0" or "2.1.0".
func ParseFirmwareVersion(s string) (FirmwareVersion, error) {
	trimmed := strings.TrimPrefix(s, "v")
	parts := strings.Split(trimmed, ".")
	if len(parts) != 3 {
		return FirmwareVersion{}, NewValidationError("invalid firmware version %q", s)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return FirmwareVersion{}, NewValidationError("invalid firmware version %q", s)
		}
		nums[i] = n
	}
	return FirmwareVersion{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Compare returns -1, 0 or 1 ordering v against other.
func (v FirmwareVersion) Compare(other FirmwareVersion) int {
	a := [3]int{v.Major, v.Minor, v.Patch}
	b := [3]int{other.Major, other.Minor, other.Patch}
	for i := 0; i < 3; i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Firmware is a registered firmware image. The binary itself lives in
// object storage; this entity carries the reference and integrity data.
type Firmware struct {
	FirmwareID  string          `json:"firmwareId" dynamodbav:"firmwareId"`
	Version     FirmwareVersion `json:"version" dynamodbav:"version"`
	DeviceTypes []string        `json:"deviceTypes" dynamodbav:"deviceTypes"`
	Bucket      string          `json:"bucket" dynamodbav:"bucket"`
	Key         string          `json:"key" dynamodbav:"key"`
	Checksum    string          `json:"checksum" dynamodbav:"checksum"`
	Size        int64           `json:"size" dynamodbav:"size"`
	Status      FirmwareStatus  `json:"status" dynamodbav:"status"`
	Changelog   string          `json:"changelog,omitempty" dynamodbav:"changelog"`
	UploadedBy  string          `json:"uploadedBy" dynamodbav:"uploadedBy"`
	UploadedAt  time.Time       `json:"uploadedAt" dynamodbav:"uploadedAt,unixtime"`
}

// IsCompatibleWith reports whether the image supports the device type.
func (f *Firmware) IsCompatibleWith(deviceType string) bool {
	for _, t := range f.DeviceTypes {
		if t == deviceType {
			return true
		}
	}
	return false
}
