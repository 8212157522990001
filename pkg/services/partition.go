package services

import (
	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// partitionBatches splits target devices into ordered rollout batches at
// scheduling time. Batch order is rollout order.
func partitionBatches(strategy models.DeploymentStrategy, devices []string, canaryPercent, stagedCount int) ([]models.DeploymentBatch, error) {
	if len(devices) == 0 {
		return nil, models.NewValidationError("deployment has no target devices")
	}

	switch strategy {
	case models.StrategyAllAtOnce:
		return []models.DeploymentBatch{newBatch(0, devices)}, nil

	case models.StrategyCanary:
		if canaryPercent <= 0 || canaryPercent >= 100 {
			return nil, models.NewValidationError("canary percent must be in (0, 100), got %d", canaryPercent)
		}
		canarySize := len(devices) * canaryPercent / 100
		if canarySize < 1 {
			canarySize = 1
		}
		batches := []models.DeploymentBatch{newBatch(0, devices[:canarySize])}
		if canarySize < len(devices) {
			batches = append(batches, newBatch(1, devices[canarySize:]))
		}
		return batches, nil

	case models.StrategyStaged:
		if stagedCount < 1 {
			return nil, models.NewValidationError("staged batch count must be at least 1, got %d", stagedCount)
		}
		if stagedCount > len(devices) {
			stagedCount = len(devices)
		}
		// Roughly equal batch sizes; the first (len % count) batches take
		// one extra device.
		base := len(devices) / stagedCount
		extra := len(devices) % stagedCount
		batches := make([]models.DeploymentBatch, 0, stagedCount)
		offset := 0
		for i := 0; i < stagedCount; i++ {
			size := base
			if i < extra {
				size++
			}
			batches = append(batches, newBatch(i, devices[offset:offset+size]))
			offset += size
		}
		return batches, nil

	default:
		return nil, models.NewValidationError("unknown deployment strategy %q", strategy)
	}
}

func newBatch(id int, devices []string) models.DeploymentBatch {
	owned := make([]string, len(devices))
	copy(owned, devices)
	return models.DeploymentBatch{
		BatchID: id,
		Devices: owned,
		Status:  models.BatchStatusPending,
	}
}
