package models

import (
	"time"
)

// DeploymentStrategy determines how target devices are partitioned into
// rollout batches at scheduling time.
type DeploymentStrategy string

const (
	StrategyAllAtOnce DeploymentStrategy = "all-at-once"
	StrategyCanary    DeploymentStrategy = "canary"
	StrategyStaged    DeploymentStrategy = "staged"
)

// DeploymentStatus is the rollout lifecycle state. completed, failed and
// rolled_back are terminal.
type DeploymentStatus string

const (
	DeploymentStatusScheduled  DeploymentStatus = "scheduled"
	DeploymentStatusInProgress DeploymentStatus = "in_progress"
	DeploymentStatusCompleted  DeploymentStatus = "completed"
	DeploymentStatusFailed     DeploymentStatus = "failed"
	DeploymentStatusRolledBack DeploymentStatus = "rolled_back"
)

// IsTerminal reports whether no further batch dispatching may happen.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentStatusCompleted || s == DeploymentStatusFailed || s == DeploymentStatusRolledBack
}

// BatchStatus is the per-batch rollout state
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// DefaultSuccessThreshold is the batch success rate (percent) required to
// advance to the next batch.
const DefaultSuccessThreshold = 95.0

// DeploymentBatch is an ordered subset of a deployment's target devices
// rolled out together. BatchID is the sequence position.
type DeploymentBatch struct {
	BatchID int         `json:"batchId" dynamodbav:"batchId"`
	Devices []string    `json:"devices" dynamodbav:"devices"`
	Status  BatchStatus `json:"status" dynamodbav:"status"`
	// Outcomes holds each device's reported result keyed by device ID.
	// Delivery is at least once; attribution by device keeps a redelivered
	// report from counting twice.
	Outcomes     map[string]bool `json:"outcomes,omitempty" dynamodbav:"outcomes,omitempty"`
	SuccessCount int             `json:"successCount" dynamodbav:"successCount"`
	FailureCount int             `json:"failureCount" dynamodbav:"failureCount"`
}

// RecordOutcome stores one device's result and keeps the counters in step.
// The first report per device wins; a repeat returns false and changes
// nothing.
func (b *DeploymentBatch) RecordOutcome(deviceID string, success bool) bool {
	if _, reported := b.Outcomes[deviceID]; reported {
		return false
	}
	if b.Outcomes == nil {
		b.Outcomes = make(map[string]bool)
	}
	b.Outcomes[deviceID] = success
	if success {
		b.SuccessCount++
	} else {
		b.FailureCount++
	}
	return true
}

// SuccessRate returns the percentage of recorded outcomes that succeeded,
// or 0 when no outcomes have been recorded yet. Callers must treat the
// zero-outcome case as "not yet evaluable", never as 100% failure. The
// orchestrator guarantees a batch is never marked completed with zero
// outcomes.
func (b *DeploymentBatch) SuccessRate() float64 {
	total := b.SuccessCount + b.FailureCount
	if total == 0 {
		return 0.0
	}
	return float64(b.SuccessCount) / float64(total) * 100
}

// OutcomeCount is the number of per-device results recorded so far.
func (b *DeploymentBatch) OutcomeCount() int {
	return b.SuccessCount + b.FailureCount
}

// DeploymentProgress is the fleet-wide aggregate, recomputed from batches.
type DeploymentProgress struct {
	Total      int `json:"total" dynamodbav:"total"`
	Succeeded  int `json:"succeeded" dynamodbav:"succeeded"`
	Failed     int `json:"failed" dynamodbav:"failed"`
	InProgress int `json:"inProgress" dynamodbav:"inProgress"`
	Pending    int `json:"pending" dynamodbav:"pending"`
}

// Deployment is a phased firmware rollout across a device fleet. Persisted
// state is the source of truth between orchestrator activations.
type Deployment struct {
	DeploymentID  string             `json:"deploymentId" dynamodbav:"deploymentId"`
	FirmwareID    string             `json:"firmwareId" dynamodbav:"firmwareId"`
	Strategy      DeploymentStrategy `json:"strategy" dynamodbav:"strategy"`
	TargetDevices []string           `json:"targetDevices" dynamodbav:"targetDevices"`
	Status        DeploymentStatus   `json:"status" dynamodbav:"status"`
	Batches       []DeploymentBatch  `json:"batches" dynamodbav:"batches"`
	Progress      DeploymentProgress `json:"progress" dynamodbav:"progress"`
	ScheduledAt   time.Time          `json:"scheduledAt" dynamodbav:"scheduledAt,unixtime"`
	StartedAt     *time.Time         `json:"startedAt,omitempty" dynamodbav:"startedAt,unixtime,omitempty"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty" dynamodbav:"completedAt,unixtime,omitempty"`
	CreatedBy     string             `json:"createdBy" dynamodbav:"createdBy"`
	// Revision increments on every persisted mutation; the store uses it as
	// a conditional-write guard so outcome application stays serialized per
	// deployment.
	Revision int64 `json:"revision" dynamodbav:"revision"`
}

// CanProceedToNextBatch reports whether rollout may advance past the most
// recently completed batch. With no batches, or none completed yet, there is
// nothing to gate on and the answer is true.
func (d *Deployment) CanProceedToNextBatch(successThreshold float64) bool {
	var last *DeploymentBatch
	for i := range d.Batches {
		if d.Batches[i].Status == BatchStatusCompleted {
			last = &d.Batches[i]
		}
	}
	if last == nil {
		return true
	}
	return last.SuccessRate() >= successThreshold
}

// UpdateProgress recomputes the aggregate from all batches. Pure and
// idempotent; must be called after every batch-status mutation.
func (d *Deployment) UpdateProgress() {
	p := DeploymentProgress{Total: len(d.TargetDevices)}
	for i := range d.Batches {
		b := &d.Batches[i]
		p.Succeeded += b.SuccessCount
		p.Failed += b.FailureCount
		switch b.Status {
		case BatchStatusInProgress:
			p.InProgress++
		case BatchStatusPending:
			p.Pending += len(b.Devices)
		}
	}
	d.Progress = p
}

// OverallSuccessRate returns the deployment-wide success percentage over
// all recorded outcomes, or 0 when none have been recorded.
func (d *Deployment) OverallSuccessRate() float64 {
	total := d.Progress.Succeeded + d.Progress.Failed
	if total == 0 {
		return 0.0
	}
	return float64(d.Progress.Succeeded) / float64(total) * 100
}

// NextPendingBatch returns the first batch still pending dispatch, or nil.
func (d *Deployment) NextPendingBatch() *DeploymentBatch {
	for i := range d.Batches {
		if d.Batches[i].Status == BatchStatusPending {
			return &d.Batches[i]
		}
	}
	return nil
}

// BatchByID returns the batch at the given sequence position, or nil.
func (d *Deployment) BatchByID(batchID int) *DeploymentBatch {
	for i := range d.Batches {
		if d.Batches[i].BatchID == batchID {
			return &d.Batches[i]
		}
	}
	return nil
}

// CreateDeploymentRequest is the payload for scheduling a deployment
type CreateDeploymentRequest struct {
	FirmwareID    string             `json:"firmwareId"`
	Strategy      DeploymentStrategy `json:"strategy"`
	TargetDevices []string           `json:"targetDevices"`
	// StagedBatchCount is the number of waves for the staged strategy;
	// ignored for the other strategies. Zero means the configured default.
	StagedBatchCount int `json:"stagedBatchCount,omitempty"`
	// CanaryPercent is the share of the fleet in the canary batch; zero
	// means the configured default.
	CanaryPercent int    `json:"canaryPercent,omitempty"`
	CreatedBy     string `json:"createdBy"`
}

// BatchOutcomeReport is a per-device result reported back by the deployment
// dispatcher. Outcomes may arrive out of order within a batch and are
// attributed by device ID.
type BatchOutcomeReport struct {
	BatchID  int    `json:"batchId"`
	DeviceID string `json:"deviceId"`
	Success  bool   `json:"success"`
}
