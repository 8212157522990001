package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

const (
	defaultDeviceCount = 5
	defaultIntervalMs  = 1000 // 1 second
)

// deviceTypes cycled across the simulated fleet
var deviceTypes = []string{"thermostat", "pump", "meter"}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	brokerURL := getEnv("MQTT_BROKER_URL", "tcp://localhost:1883")
	topicPrefix := getEnv("MQTT_TOPIC_PREFIX", "fleet")
	deviceCount, _ := strconv.Atoi(getEnv("DEVICE_COUNT", fmt.Sprintf("%d", defaultDeviceCount)))
	intervalMs, _ := strconv.Atoi(getEnv("INTERVAL_MS", fmt.Sprintf("%d", defaultIntervalMs)))
	spikeChance, _ := strconv.ParseFloat(getEnv("SPIKE_CHANCE", "0.05"), 64)

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID("fleet-simulator").
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatalf("Failed to connect to MQTT broker %s: %v", brokerURL, token.Error())
	}
	defer client.Disconnect(250)

	logrus.Infof("Simulating %d devices publishing every %d ms (spike chance %.0f%%)",
		deviceCount, intervalMs, spikeChance*100)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for i := 0; i < deviceCount; i++ {
				reading := simulatedReading(i, spikeChance)
				payload, err := json.Marshal(reading)
				if err != nil {
					logrus.Errorf("Failed to marshal reading: %v", err)
					continue
				}
				topic := fmt.Sprintf("%s/%s/telemetry", topicPrefix, reading.DeviceID)
				if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
					logrus.Warnf("Failed to publish to %s: %v", topic, token.Error())
				}
			}
		case <-quit:
			logrus.Info("Simulator stopped")
			return
		}
	}
}

// simulatedReading produces a plausible telemetry payload. Most readings sit
// in a normal band; an occasional spike pushes temperature past typical alert
// thresholds so downstream alerting has something to chew on.
func simulatedReading(index int, spikeChance float64) models.Reading {
	deviceType := deviceTypes[index%len(deviceTypes)]
	deviceID := fmt.Sprintf("sim-%s-%03d", deviceType, index)

	temperature := 20.0 + rand.Float64()*8.0
	if rand.Float64() < spikeChance {
		temperature = 35.0 + rand.Float64()*15.0
	}

	return models.Reading{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Metrics: map[string]float64{
			"temperature":   temperature,
			"humidity":      40.0 + rand.Float64()*20.0,
			"battery_level": 60.0 + rand.Float64()*40.0,
		},
		Timestamp: time.Now().UTC(),
	}
}
