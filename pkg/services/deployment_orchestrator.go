package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/dispatch"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
)

// BinaryResolver turns a firmware record into a download reference devices
// can use. Implemented by the S3 binary store; faked in tests.
type BinaryResolver interface {
	PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// downloadURLExpiry is how long a dispatched firmware URL stays valid. Long
// enough for a slow fleet to drain a batch.
const downloadURLExpiry = 6 * time.Hour

// DeploymentOrchestrator drives a firmware rollout from scheduled to a
// terminal state. It is stateless across activations: every decision is
// reconstructed from the persisted deployment, and the store's
// revision-conditioned writes keep concurrent outcome reports from
// interleaving.
type DeploymentOrchestrator struct {
	deployments storage.DeploymentStore
	firmware    storage.FirmwareStore
	devices     storage.DeviceStore
	binaries    BinaryResolver
	dispatcher  dispatch.BatchDispatcher

	successThreshold float64
	canaryPercent    int
	stagedBatchCount int

	// now is swappable for tests
	now func() time.Time
}

// NewDeploymentOrchestrator creates an orchestrator with the given rollout
// tuning. Threshold is the batch success percentage required to advance.
func NewDeploymentOrchestrator(
	deployments storage.DeploymentStore,
	firmware storage.FirmwareStore,
	devices storage.DeviceStore,
	binaries BinaryResolver,
	dispatcher dispatch.BatchDispatcher,
	successThreshold float64,
	canaryPercent int,
	stagedBatchCount int,
) *DeploymentOrchestrator {
	return &DeploymentOrchestrator{
		deployments:      deployments,
		firmware:         firmware,
		devices:          devices,
		binaries:         binaries,
		dispatcher:       dispatcher,
		successThreshold: successThreshold,
		canaryPercent:    canaryPercent,
		stagedBatchCount: stagedBatchCount,
		now:              time.Now,
	}
}

// ScheduleDeployment validates the request, partitions the fleet per the
// strategy and persists the deployment in scheduled state. Nothing is
// dispatched yet.
func (o *DeploymentOrchestrator) ScheduleDeployment(ctx context.Context, req *models.CreateDeploymentRequest) (*models.Deployment, error) {
	if len(req.TargetDevices) == 0 {
		return nil, models.NewValidationError("deployment has no target devices")
	}

	fw, err := o.firmware.GetFirmware(ctx, req.FirmwareID)
	if err != nil {
		return nil, err
	}
	if fw.Status != models.FirmwareStatusAvailable {
		return nil, models.NewValidationError("firmware %s is %s, not available", fw.FirmwareID, fw.Status)
	}
	for _, deviceID := range req.TargetDevices {
		dev, err := o.devices.GetDevice(ctx, deviceID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, models.NewValidationError("device %s is not registered", deviceID)
			}
			return nil, err
		}
		if !fw.IsCompatibleWith(dev.DeviceType) {
			return nil, models.NewValidationError("firmware %s does not support device %s (type %s)",
				fw.FirmwareID, deviceID, dev.DeviceType)
		}
	}

	canaryPercent := req.CanaryPercent
	if canaryPercent == 0 {
		canaryPercent = o.canaryPercent
	}
	stagedCount := req.StagedBatchCount
	if stagedCount == 0 {
		stagedCount = o.stagedBatchCount
	}

	batches, err := partitionBatches(req.Strategy, req.TargetDevices, canaryPercent, stagedCount)
	if err != nil {
		return nil, err
	}

	d := &models.Deployment{
		DeploymentID:  uuid.New().String(),
		FirmwareID:    req.FirmwareID,
		Strategy:      req.Strategy,
		TargetDevices: req.TargetDevices,
		Status:        models.DeploymentStatusScheduled,
		Batches:       batches,
		ScheduledAt:   o.now(),
		CreatedBy:     req.CreatedBy,
	}
	d.UpdateProgress()

	if err := o.deployments.SaveDeployment(ctx, d); err != nil {
		return nil, err
	}
	logrus.Infof("Scheduled deployment %s: firmware %s, strategy %s, %d devices in %d batches",
		d.DeploymentID, d.FirmwareID, d.Strategy, len(d.TargetDevices), len(d.Batches))
	return d, nil
}

// StartDeployment moves a scheduled deployment to in_progress and
// dispatches its first batch.
func (o *DeploymentOrchestrator) StartDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	d, err := o.deployments.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentStatusScheduled {
		return nil, models.WrapDomain(models.ErrInvalidTransition,
			fmt.Errorf("deployment %s is %s, not scheduled", deploymentID, d.Status))
	}

	now := o.now()
	d.Status = models.DeploymentStatusInProgress
	d.StartedAt = &now

	if err := o.dispatchNextBatch(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// RecordOutcome applies one per-device result reported by the dispatch
// collaborator. Outcomes may arrive out of order within a batch; attribution
// is by device ID. When the batch's last outcome lands the progression gate
// runs: advance, complete, or fail the deployment.
func (o *DeploymentOrchestrator) RecordOutcome(ctx context.Context, deploymentID string, report *models.BatchOutcomeReport) (*models.Deployment, error) {
	d, err := o.deployments.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, models.WrapDomain(models.ErrInvalidTransition,
			fmt.Errorf("deployment %s is terminal (%s)", deploymentID, d.Status))
	}

	batch := d.BatchByID(report.BatchID)
	if batch == nil {
		return nil, models.NewValidationError("deployment %s has no batch %d", deploymentID, report.BatchID)
	}
	if batch.Status != models.BatchStatusInProgress {
		return nil, models.WrapDomain(models.ErrInvalidTransition,
			fmt.Errorf("batch %d is %s, not in_progress", report.BatchID, batch.Status))
	}
	if !containsDevice(batch.Devices, report.DeviceID) {
		return nil, models.NewValidationError("device %s is not in batch %d", report.DeviceID, report.BatchID)
	}
	if !batch.RecordOutcome(report.DeviceID, report.Success) {
		// Redelivered report; the first one already counted.
		logrus.Debugf("Duplicate outcome for device %s in batch %d of deployment %s, ignoring",
			report.DeviceID, report.BatchID, deploymentID)
		return d, nil
	}
	d.UpdateProgress()

	if batch.OutcomeCount() == len(batch.Devices) {
		if err := o.completeBatch(ctx, d, batch); err != nil {
			return nil, err
		}
		return d, nil
	}

	if err := o.deployments.UpdateDeployment(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// completeBatch marks the batch done and runs the progression gate.
func (o *DeploymentOrchestrator) completeBatch(ctx context.Context, d *models.Deployment, batch *models.DeploymentBatch) error {
	if batch.OutcomeCount() == 0 {
		// A completed batch with no outcomes would make its 0% success
		// rate indistinguishable from total failure at the gate.
		return models.WrapDomain(models.ErrBatchNotEvaluable,
			fmt.Errorf("batch %d of deployment %s", batch.BatchID, d.DeploymentID))
	}
	batch.Status = models.BatchStatusCompleted
	d.UpdateProgress()

	if !d.CanProceedToNextBatch(o.successThreshold) {
		// Gate failed: stop dispatching. Rollback is a separate operator
		// action, never automatic.
		now := o.now()
		d.Status = models.DeploymentStatusFailed
		d.CompletedAt = &now
		d.UpdateProgress()
		logrus.Warnf("Deployment %s failed: batch %d success rate %.1f%% below threshold %.1f%%",
			d.DeploymentID, batch.BatchID, batch.SuccessRate(), o.successThreshold)
		return o.deployments.UpdateDeployment(ctx, d)
	}

	if next := d.NextPendingBatch(); next != nil {
		return o.dispatchNextBatch(ctx, d)
	}

	now := o.now()
	d.Status = models.DeploymentStatusCompleted
	d.CompletedAt = &now
	d.UpdateProgress()
	logrus.Infof("Deployment %s completed: %d/%d devices succeeded",
		d.DeploymentID, d.Progress.Succeeded, d.Progress.Total)
	return o.deployments.UpdateDeployment(ctx, d)
}

// dispatchNextBatch marks the next pending batch in_progress, persists the
// state, then hands the batch to the dispatch collaborator. Dispatch failure
// leaves the batch in_progress for the caller to retry via RetryBatch.
func (o *DeploymentOrchestrator) dispatchNextBatch(ctx context.Context, d *models.Deployment) error {
	batch := d.NextPendingBatch()
	if batch == nil {
		return models.NewValidationError("deployment %s has no pending batch to dispatch", d.DeploymentID)
	}

	batch.Status = models.BatchStatusInProgress
	d.UpdateProgress()
	if err := o.deployments.UpdateDeployment(ctx, d); err != nil {
		return err
	}

	return o.dispatchBatch(ctx, d, batch)
}

// RetryBatch re-dispatches the deployment's in_progress batch after a
// dispatch failure. State is untouched; the commands are re-published.
func (o *DeploymentOrchestrator) RetryBatch(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	d, err := o.deployments.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentStatusInProgress {
		return nil, models.WrapDomain(models.ErrInvalidTransition,
			fmt.Errorf("deployment %s is %s, not in_progress", deploymentID, d.Status))
	}
	for i := range d.Batches {
		if d.Batches[i].Status == models.BatchStatusInProgress {
			return d, o.dispatchBatch(ctx, d, &d.Batches[i])
		}
	}
	return nil, models.NewValidationError("deployment %s has no in_progress batch", deploymentID)
}

func (o *DeploymentOrchestrator) dispatchBatch(ctx context.Context, d *models.Deployment, batch *models.DeploymentBatch) error {
	fw, err := o.firmware.GetFirmware(ctx, d.FirmwareID)
	if err != nil {
		return err
	}
	url, err := o.binaries.PresignDownload(ctx, fw.Key, downloadURLExpiry)
	if err != nil {
		return models.WrapDomain(models.ErrDispatchFailure, err)
	}

	ref := dispatch.FirmwareRef{
		FirmwareID:  fw.FirmwareID,
		Version:     fw.Version.String(),
		DownloadURL: url,
		Checksum:    fw.Checksum,
		Size:        fw.Size,
	}
	if err := o.dispatcher.DispatchBatch(ctx, d.DeploymentID, batch, ref); err != nil {
		// Batch stays in_progress; the caller retries the dispatch.
		return err
	}
	return nil
}

// RollbackDeployment is the explicit operator action. Legal from
// in_progress or completed; it signals the dispatcher to stop issuing
// per-device commands for anything still in flight.
func (o *DeploymentOrchestrator) RollbackDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	d, err := o.deployments.GetDeployment(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentStatusInProgress && d.Status != models.DeploymentStatusCompleted {
		return nil, models.WrapDomain(models.ErrInvalidTransition,
			fmt.Errorf("deployment %s is %s; rollback requires in_progress or completed", deploymentID, d.Status))
	}

	now := o.now()
	d.Status = models.DeploymentStatusRolledBack
	if d.CompletedAt == nil {
		d.CompletedAt = &now
	}
	d.UpdateProgress()
	if err := o.deployments.UpdateDeployment(ctx, d); err != nil {
		return nil, err
	}

	if err := o.dispatcher.SignalStop(ctx, deploymentID); err != nil {
		// The rollback is recorded; the stop signal is retryable.
		logrus.Errorf("Failed to signal stop for rolled-back deployment %s: %v", deploymentID, err)
	}
	logrus.Infof("Deployment %s rolled back", deploymentID)
	return d, nil
}

// GetDeployment returns one deployment
func (o *DeploymentOrchestrator) GetDeployment(ctx context.Context, deploymentID string) (*models.Deployment, error) {
	return o.deployments.GetDeployment(ctx, deploymentID)
}

// ListDeployments returns up to limit deployments
func (o *DeploymentOrchestrator) ListDeployments(ctx context.Context, limit int) ([]*models.Deployment, error) {
	return o.deployments.ListDeployments(ctx, limit)
}

func containsDevice(devices []string, deviceID string) bool {
	for _, d := range devices {
		if d == deviceID {
			return true
		}
	}
	return false
}
