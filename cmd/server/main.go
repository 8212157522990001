package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/fleetgrid/fleet-gateway/pkg/api"
	"github.com/fleetgrid/fleet-gateway/pkg/config"
	"github.com/fleetgrid/fleet-gateway/pkg/dispatch"
	"github.com/fleetgrid/fleet-gateway/pkg/notify"
	"github.com/fleetgrid/fleet-gateway/pkg/services"
	"github.com/fleetgrid/fleet-gateway/pkg/storage"
	"github.com/fleetgrid/fleet-gateway/pkg/timeseries"
)

// @title Fleet Gateway API
// @version 1.0
// @description API for alert rules, alerts and phased firmware deployments
// @BasePath /api

func main() {
	// Configure Log Level from Environment Variable
	logLevelStr := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(logLevelStr) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()

	// Storage
	dynamo, err := storage.NewDynamoClient(ctx, &cfg.AWS)
	if err != nil {
		logrus.Fatalf("Failed to create DynamoDB client: %v", err)
	}
	ruleStore := storage.NewDynamoRuleStore(dynamo, cfg.AWS.RulesTable)
	alertStore := storage.NewDynamoAlertStore(dynamo, cfg.AWS.AlertsTable)
	deploymentStore := storage.NewDynamoDeploymentStore(dynamo, cfg.AWS.DeploymentsTable)
	firmwareStore := storage.NewDynamoFirmwareStore(dynamo, cfg.AWS.FirmwareTable)
	deviceStore := storage.NewDynamoDeviceStore(dynamo, cfg.AWS.DevicesTable)

	cooldownStore, err := storage.NewRedisCooldownStore(ctx, &cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect to cooldown store: %v", err)
	}

	binaryStore, err := storage.NewFirmwareBinaryStore(ctx, cfg.AWS.Region, cfg.AWS.FirmwareBucket)
	if err != nil {
		logrus.Fatalf("Failed to create firmware binary store: %v", err)
	}

	// Messaging
	notifier, err := notify.NewSNSDispatcher(ctx, cfg.AWS.Region, cfg.AWS.AlertTopicArn, cfg.AWS.EscalationTopicArn)
	if err != nil {
		logrus.Fatalf("Failed to create notification dispatcher: %v", err)
	}
	otaDispatcher, err := dispatch.NewMQTTDispatcher(&cfg.MQTT)
	if err != nil {
		logrus.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer otaDispatcher.Close()

	// Telemetry history is optional; the API degrades without it.
	var history api.TelemetryHistory
	tsClient, err := timeseries.NewClient(ctx, &cfg.Timeseries)
	if err != nil {
		logrus.Warnf("Telemetry history unavailable: %v", err)
	} else {
		history = tsClient
		defer tsClient.Close()
	}

	// Services
	ruleService := services.NewRuleService(ruleStore)
	alertService := services.NewAlertService(alertStore)
	engine := services.NewAlertEngine(ruleStore, alertStore, cooldownStore, notifier)
	orchestrator := services.NewDeploymentOrchestrator(
		deploymentStore, firmwareStore, deviceStore, binaryStore, otaDispatcher,
		cfg.Engine.SuccessThreshold, cfg.Engine.CanaryPercent, cfg.Engine.StagedBatchCount,
	)
	firmwareService := services.NewFirmwareService(firmwareStore, binaryStore)
	deviceService := services.NewDeviceService(deviceStore, firmwareStore)

	// Set up the Echo server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: strings.Split(cfg.Server.AllowedOrigins, ","),
	}))

	apiHandler := api.NewAPIHandler(ruleService, alertService, engine, orchestrator, firmwareService, deviceService, history)
	apiHandler.SetupRoutes(e)

	// Swagger documentation
	e.GET("/swagger/*", echo.WrapHandler(httpSwagger.Handler()))

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Starting server on port %s", port)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}
	logrus.Info("Server exited properly")
}
