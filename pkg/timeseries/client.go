// Package timeseries stores telemetry history in a Timeplus/proton stream.
// The alert engine works on the readings handed to each activation; this
// store exists for the API's recent-readings queries and for offline
// analysis of what a rule fired on.
package timeseries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	proton "github.com/timeplus-io/proton-go-driver/v2"

	"github.com/fleetgrid/fleet-gateway/pkg/config"
	"github.com/fleetgrid/fleet-gateway/pkg/models"
)

// MetricPoint is one stored metric sample
type MetricPoint struct {
	DeviceID   string    `json:"deviceId"`
	DeviceType string    `json:"deviceType"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Client wraps a proton connection for the telemetry stream
type Client struct {
	conn   proton.Conn
	stream string
}

// NewClient connects to the timeseries store and ensures the telemetry
// stream exists. Readings are stored one row per metric so new metrics need
// no schema change.
func NewClient(ctx context.Context, cfg *config.TimeseriesConfig) (*Client, error) {
	logrus.Infof("Connecting to timeseries store at %s", cfg.Address)

	opts := &proton.Options{
		Addr: []string{cfg.Address},
		Auth: proton.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		Compression: &proton.Compression{
			Method: proton.CompressionLZ4,
		},
	}

	conn, err := proton.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open timeseries connection: %w", err)
	}

	// Ping with retries; the store may still be starting
	var pingErr error
	for i := 0; i < 5; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr = conn.Ping(pingCtx)
		cancel()
		if pingErr == nil {
			break
		}
		logrus.Warnf("Failed to ping timeseries store (attempt %d/5): %v", i+1, pingErr)
		time.Sleep(2 * time.Second)
	}
	if pingErr != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping timeseries store: %w", pingErr)
	}

	c := &Client{conn: conn, stream: cfg.Stream}
	if err := c.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream(ctx context.Context) error {
	ddl := fmt.Sprintf(
		"CREATE STREAM IF NOT EXISTS `%s` (`device_id` string, `device_type` string, `metric` string, `value` float64, `ts` datetime64)",
		c.stream)
	if err := c.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure telemetry stream %s: %w", c.stream, err)
	}
	return nil
}

// InsertReading stores every metric of one reading
func (c *Client) InsertReading(ctx context.Context, r *models.Reading) error {
	if len(r.Metrics) == 0 {
		return nil
	}

	rows := make([]string, 0, len(r.Metrics))
	ts := r.Timestamp.UTC().Format("2006-01-02 15:04:05.000")
	for metric, value := range r.Metrics {
		rows = append(rows, fmt.Sprintf("('%s', '%s', '%s', %f, '%s')",
			escape(r.DeviceID), escape(r.DeviceType), escape(metric), value, ts))
	}

	query := fmt.Sprintf("INSERT INTO `%s` (device_id, device_type, metric, value, ts) VALUES %s",
		c.stream, strings.Join(rows, ", "))
	if err := c.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to insert reading for device %s: %w", r.DeviceID, err)
	}
	return nil
}

// RecentReadings returns the device's metric samples within the window,
// newest first.
func (c *Client) RecentReadings(ctx context.Context, deviceID string, window time.Duration) ([]MetricPoint, error) {
	since := time.Now().Add(-window).UTC().Format("2006-01-02 15:04:05.000")
	query := fmt.Sprintf(
		"SELECT device_id, device_type, metric, value, ts FROM table(`%s`) WHERE device_id = '%s' AND ts >= '%s' ORDER BY ts DESC",
		c.stream, escape(deviceID), since)

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent readings: %w", err)
	}
	defer rows.Close()

	var points []MetricPoint
	for rows.Next() {
		var p MetricPoint
		if err := rows.Scan(&p.DeviceID, &p.DeviceType, &p.Metric, &p.Value, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reading rows: %w", err)
	}
	return points, nil
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func escape(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
