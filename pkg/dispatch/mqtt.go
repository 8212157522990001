package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/config"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// MQTTDispatcher publishes OTA update commands to per-device command topics
// (<prefix>/<deviceId>/ota) and rollback stop signals to a per-deployment
// control topic. Devices report their install result back over telemetry,
// which reaches the orchestrator via the outcome endpoint.
type MQTTDispatcher struct {
	client mqtt.Client
	prefix string
	qos    byte
}

var _ BatchDispatcher = (*MQTTDispatcher)(nil)

// otaCommand is the message devices receive on their ota topic
type otaCommand struct {
	DeploymentID string      `json:"deploymentId"`
	BatchID      int         `json:"batchId"`
	Firmware     FirmwareRef `json:"firmware"`
}

// NewMQTTDispatcher connects to the broker and returns a dispatcher
func NewMQTTDispatcher(cfg *config.MQTTConfig) (*MQTTDispatcher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID + "-dispatch").
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTDispatcher{
		client: client,
		prefix: cfg.OTATopicPrefix,
		qos:    byte(cfg.QoS),
	}, nil
}

// DispatchBatch publishes one OTA command per device in the batch. A publish
// failure for one device does not stop the rest; any failure surfaces as a
// retryable DispatchFailure and the batch stays in_progress for the caller
// to retry.
func (d *MQTTDispatcher) DispatchBatch(ctx context.Context, deploymentID string, batch *models.DeploymentBatch, fw FirmwareRef) error {
	payload, err := json.Marshal(otaCommand{
		DeploymentID: deploymentID,
		BatchID:      batch.BatchID,
		Firmware:     fw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ota command: %w", err)
	}

	var failed int
	for _, deviceID := range batch.Devices {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		topic := fmt.Sprintf("%s/%s/ota", d.prefix, deviceID)
		if token := d.client.Publish(topic, d.qos, false, payload); token.Wait() && token.Error() != nil {
			logrus.Errorf("Failed to publish ota command to %s: %v", topic, token.Error())
			failed++
		}
	}

	if failed > 0 {
		return models.WrapDomain(models.ErrDispatchFailure,
			fmt.Errorf("%d of %d ota commands failed to publish", failed, len(batch.Devices)))
	}

	logrus.Infof("Dispatched batch %d of deployment %s to %d devices", batch.BatchID, deploymentID, len(batch.Devices))
	return nil
}

// SignalStop publishes a retained stop marker for the deployment so devices
// that have not yet applied the pending command abandon it.
func (d *MQTTDispatcher) SignalStop(ctx context.Context, deploymentID string) error {
	topic := fmt.Sprintf("%s/deployments/%s/stop", d.prefix, deploymentID)
	if token := d.client.Publish(topic, d.qos, true, []byte(`{"stop":true}`)); token.Wait() && token.Error() != nil {
		return models.WrapDomain(models.ErrDispatchFailure, token.Error())
	}
	return nil
}

// Close disconnects from the broker
func (d *MQTTDispatcher) Close() {
	d.client.Disconnect(250)
}
