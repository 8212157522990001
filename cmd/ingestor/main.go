package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/config"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/notify"
	"github.com/fleetgrid/fleet-gateway/pkg/services"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
	"github.com/fleetgrid/fleet-gateway/pkg/timeseries"
)

// flushInterval is how often buffered readings are evaluated as one batch
const flushInterval = 5 * time.Second

// bufferSize bounds the in-flight readings between flushes
const bufferSize = 1000

func main() {
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	configPath := flag.String("config", "", "path to config file")
	org := flag.String("org", "default", "organization the ingested fleet belongs to")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	dynamo, err := storage.NewDynamoClient(ctx, &cfg.AWS)
	if err != nil {
		logrus.Fatalf("Failed to create DynamoDB client: %v", err)
	}
	ruleStore := storage.NewDynamoRuleStore(dynamo, cfg.AWS.RulesTable)
	alertStore := storage.NewDynamoAlertStore(dynamo, cfg.AWS.AlertsTable)
	deviceStore := storage.NewDynamoDeviceStore(dynamo, cfg.AWS.DevicesTable)

	cooldownStore, err := storage.NewRedisCooldownStore(ctx, &cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect to cooldown store: %v", err)
	}

	notifier, err := notify.NewSNSDispatcher(ctx, cfg.AWS.Region, cfg.AWS.AlertTopicArn, cfg.AWS.EscalationTopicArn)
	if err != nil {
		logrus.Fatalf("Failed to create notification dispatcher: %v", err)
	}

	history, err := timeseries.NewClient(ctx, &cfg.Timeseries)
	if err != nil {
		logrus.Fatalf("Failed to connect to timeseries store: %v", err)
	}
	defer history.Close()

	engine := services.NewAlertEngine(ruleStore, alertStore, cooldownStore, notifier)

	readings := make(chan models.Reading, bufferSize)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.BrokerURL).
		SetClientID(cfg.MQTT.ClientID + "-ingest").
		SetUsername(cfg.MQTT.Username).
		SetPassword(cfg.MQTT.Password).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatalf("Failed to connect to MQTT broker: %v", token.Error())
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		var r models.Reading
		if err := json.Unmarshal(msg.Payload(), &r); err != nil {
			logrus.Warnf("Dropping unparseable telemetry on %s: %v", msg.Topic(), err)
			return
		}
		if r.DeviceID == "" {
			// fleet/<deviceId>/telemetry
			parts := strings.Split(msg.Topic(), "/")
			if len(parts) >= 2 {
				r.DeviceID = parts[1]
			}
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = time.Now().UTC()
		}
		select {
		case readings <- r:
		default:
			logrus.Warn("Reading buffer full, dropping telemetry")
		}
	}

	if token := client.Subscribe(cfg.MQTT.TelemetryTopic, byte(cfg.MQTT.QoS), handler); token.Wait() && token.Error() != nil {
		logrus.Fatalf("Failed to subscribe to %s: %v", cfg.MQTT.TelemetryTopic, token.Error())
	}
	logrus.Infof("Ingesting telemetry from %s for org %s", cfg.MQTT.TelemetryTopic, *org)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	var batch []models.Reading
	flush := func() {
		if len(batch) == 0 {
			return
		}
		for i := range batch {
			if err := history.InsertReading(ctx, &batch[i]); err != nil {
				logrus.Warnf("Failed to store reading for device %s: %v", batch[i].DeviceID, err)
			}
			if err := deviceStore.TouchDevice(ctx, *org, batch[i].DeviceID, batch[i].DeviceType, batch[i].Timestamp); err != nil {
				logrus.Warnf("Failed to touch device %s: %v", batch[i].DeviceID, err)
			}
		}
		result, err := engine.EvaluateBatch(ctx, *org, batch)
		if err != nil {
			logrus.Errorf("Batch evaluation failed: %v", err)
		} else if len(result.NewAlerts) > 0 || len(result.Failures) > 0 {
			logrus.Infof("Flushed %d readings: %d alerts, %d failures",
				len(batch), len(result.NewAlerts), len(result.Failures))
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-readings:
			batch = append(batch, r)
			if len(batch) >= bufferSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-quit:
			logrus.Info("Shutting down ingestor...")
			flush()
			return
		}
	}
}
