package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	AWS        AWSConfig        `mapstructure:"aws"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Timeseries TimeseriesConfig `mapstructure:"timeseries"`
	Engine     EngineConfig     `mapstructure:"engine"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	AllowedOrigins  string `mapstructure:"allowedOrigins"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// AWSConfig holds region, table names and messaging resources
type AWSConfig struct {
	Region             string `mapstructure:"region"`
	RulesTable         string `mapstructure:"rulesTable"`
	AlertsTable        string `mapstructure:"alertsTable"`
	DeploymentsTable   string `mapstructure:"deploymentsTable"`
	FirmwareTable      string `mapstructure:"firmwareTable"`
	DevicesTable       string `mapstructure:"devicesTable"`
	AlertTopicArn      string `mapstructure:"alertTopicArn"`
	EscalationTopicArn string `mapstructure:"escalationTopicArn"`
	FirmwareBucket     string `mapstructure:"firmwareBucket"`
	DynamoEndpoint     string `mapstructure:"dynamoEndpoint"` // local override, empty in production
}

// RedisConfig holds the cooldown store connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MQTTConfig holds the broker settings for telemetry ingest and OTA dispatch
type MQTTConfig struct {
	BrokerURL      string `mapstructure:"brokerUrl"`
	ClientID       string `mapstructure:"clientId"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	TelemetryTopic string `mapstructure:"telemetryTopic"`
	OTATopicPrefix string `mapstructure:"otaTopicPrefix"`
	QoS            int    `mapstructure:"qos"`
}

// TimeseriesConfig holds the telemetry history store connection
type TimeseriesConfig struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Stream   string `mapstructure:"stream"`
}

// EngineConfig holds the evaluation and rollout tuning knobs
type EngineConfig struct {
	SuccessThreshold float64 `mapstructure:"successThreshold"` // percent
	CanaryPercent    int     `mapstructure:"canaryPercent"`
	StagedBatchCount int     `mapstructure:"stagedBatchCount"`
}

// LoadConfig loads the application configuration from file or environment
// variables. Environment variables use the FLEET_GATEWAY prefix.
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.shutdownTimeout", 10)

	viper.SetDefault("aws.region", "us-east-1")
	viper.SetDefault("aws.rulesTable", "fleet_alert_rules")
	viper.SetDefault("aws.alertsTable", "fleet_alerts")
	viper.SetDefault("aws.deploymentsTable", "fleet_deployments")
	viper.SetDefault("aws.firmwareTable", "fleet_firmware")
	viper.SetDefault("aws.devicesTable", "fleet_devices")
	viper.SetDefault("aws.firmwareBucket", "fleet-firmware-images")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mqtt.brokerUrl", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "fleet-gateway")
	viper.SetDefault("mqtt.telemetryTopic", "fleet/+/telemetry")
	viper.SetDefault("mqtt.otaTopicPrefix", "fleet")
	viper.SetDefault("mqtt.qos", 1)

	viper.SetDefault("timeseries.address", "localhost:8463")
	viper.SetDefault("timeseries.database", "default")
	viper.SetDefault("timeseries.stream", "device_telemetry")

	viper.SetDefault("engine.successThreshold", 95.0)
	viper.SetDefault("engine.canaryPercent", 5)
	viper.SetDefault("engine.stagedBatchCount", 3)

	// Allow environment variables to override config file
	viper.SetEnvPrefix("FLEET_GATEWAY")
	viper.AutomaticEnv()

	// If config file is provided, read it
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			logrus.Warnf("Error reading config file: %v", err)
		}
	}

	// Unmarshal config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
