package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/fleetgrid/fleet-gateway/pkg/models"
	"github.com/fleetgrid/fleet-gateway/pkg/services"
	"github.com/fleetgrid/fleet-gateway/pkg/timeseries"
)

// defaultOrganization is used when a request carries no org header. Single
// tenant installs never set the header.
const defaultOrganization = "default"

// TelemetryHistory is the slice of the timeseries client the API needs
type TelemetryHistory interface {
	InsertReading(ctx context.Context, r *models.Reading) error
	RecentReadings(ctx context.Context, deviceID string, window time.Duration) ([]timeseries.MetricPoint, error)
}

// APIHandler handles HTTP API requests
type APIHandler struct {
	rules       *services.RuleService
	alerts      *services.AlertService
	engine      *services.AlertEngine
	deployments *services.DeploymentOrchestrator
	firmware    *services.FirmwareService
	devices     *services.DeviceService
	telemetry   TelemetryHistory
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	rules *services.RuleService,
	alerts *services.AlertService,
	engine *services.AlertEngine,
	deployments *services.DeploymentOrchestrator,
	firmware *services.FirmwareService,
	devices *services.DeviceService,
	telemetry TelemetryHistory,
) *APIHandler {
	return &APIHandler{
		rules:       rules,
		alerts:      alerts,
		engine:      engine,
		deployments: deployments,
		firmware:    firmware,
		devices:     devices,
		telemetry:   telemetry,
	}
}

func orgID(c echo.Context) string {
	if org := c.Request().Header.Get("X-Organization-Id"); org != "" {
		return org
	}
	return defaultOrganization
}

// errorResponse maps a domain error onto an HTTP status and a stable body
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var de *models.DomainError
	if errors.As(err, &de) {
		code = de.Code
		switch {
		case errors.Is(err, models.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrStorageConflict):
			status = http.StatusConflict
		case errors.Is(err, models.ErrDispatchFailure):
			status = http.StatusBadGateway
		default:
			status = http.StatusBadRequest
		}
	}
	return c.JSON(status, map[string]string{"error": err.Error(), "code": code})
}

// --- Rules ---

// GetRules returns all rules for the organization
func (h *APIHandler) GetRules(c echo.Context) error {
	rules, err := h.rules.ListRules(c.Request().Context(), orgID(c))
	if err != nil {
		logrus.Errorf("Error getting rules: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, rules)
}

// GetRule returns a rule by ID
func (h *APIHandler) GetRule(c echo.Context) error {
	id := c.Param("id")
	rule, err := h.rules.GetRule(c.Request().Context(), orgID(c), id)
	if err != nil {
		logrus.Errorf("Error getting rule %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// CreateRule creates a new rule
func (h *APIHandler) CreateRule(c echo.Context) error {
	var req models.CreateRuleRequest
	if err := c.Bind(&req); err != nil {
		logrus.Errorf("Error binding create rule request: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	rule, err := h.rules.CreateRule(c.Request().Context(), orgID(c), &req)
	if err != nil {
		logrus.Errorf("Error creating rule: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, rule)
}

// UpdateRule updates a rule
func (h *APIHandler) UpdateRule(c echo.Context) error {
	id := c.Param("id")
	var req models.UpdateRuleRequest
	if err := c.Bind(&req); err != nil {
		logrus.Errorf("Error binding update rule request: %v", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	rule, err := h.rules.UpdateRule(c.Request().Context(), orgID(c), id, &req)
	if err != nil {
		logrus.Errorf("Error updating rule %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// DeleteRule deletes a rule
func (h *APIHandler) DeleteRule(c echo.Context) error {
	id := c.Param("id")
	if err := h.rules.DeleteRule(c.Request().Context(), orgID(c), id); err != nil {
		logrus.Errorf("Error deleting rule %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Rule deleted successfully"})
}

// --- Alerts ---

// GetAlerts returns recent alerts for the organization
func (h *APIHandler) GetAlerts(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		limit = parsed
	}

	alerts, err := h.alerts.ListAlerts(c.Request().Context(), orgID(c), limit)
	if err != nil {
		logrus.Errorf("Error getting alerts: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, alerts)
}

// GetAlert returns an alert by ID
func (h *APIHandler) GetAlert(c echo.Context) error {
	id := c.Param("id")
	alert, err := h.alerts.GetAlert(c.Request().Context(), orgID(c), id)
	if err != nil {
		logrus.Errorf("Error getting alert %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, alert)
}

// AcknowledgeAlert acknowledges an alert
func (h *APIHandler) AcknowledgeAlert(c echo.Context) error {
	id := c.Param("id")
	var req models.AcknowledgeAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if req.AcknowledgedBy == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "acknowledgedBy is required"})
	}

	alert, err := h.alerts.AcknowledgeAlert(c.Request().Context(), orgID(c), id, req.AcknowledgedBy)
	if err != nil {
		logrus.Errorf("Error acknowledging alert %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, alert)
}

// ResolveAlert resolves an acknowledged alert
func (h *APIHandler) ResolveAlert(c echo.Context) error {
	id := c.Param("id")
	var req models.ResolveAlertRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	alert, err := h.alerts.ResolveAlert(c.Request().Context(), orgID(c), id, req.ResolutionNote)
	if err != nil {
		logrus.Errorf("Error resolving alert %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, alert)
}

// --- Telemetry ---

// IngestTelemetry accepts a batch of readings, stores them and runs one
// evaluation activation over them.
func (h *APIHandler) IngestTelemetry(c echo.Context) error {
	var readings []models.Reading
	if err := c.Bind(&readings); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if len(readings) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No readings in batch"})
	}

	ctx := c.Request().Context()
	if h.telemetry != nil {
		for i := range readings {
			if err := h.telemetry.InsertReading(ctx, &readings[i]); err != nil {
				// History is best-effort; evaluation still runs.
				logrus.Warnf("Failed to store reading for device %s: %v", readings[i].DeviceID, err)
			}
		}
	}

	result, err := h.engine.EvaluateBatch(ctx, orgID(c), readings)
	if err != nil {
		logrus.Errorf("Error evaluating telemetry batch: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetDeviceTelemetry returns a device's recent metric samples
func (h *APIHandler) GetDeviceTelemetry(c echo.Context) error {
	if h.telemetry == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "Telemetry history not configured"})
	}

	deviceID := c.Param("id")
	window := time.Hour
	if raw := c.QueryParam("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid window duration"})
		}
		window = parsed
	}

	points, err := h.telemetry.RecentReadings(c.Request().Context(), deviceID, window)
	if err != nil {
		logrus.Errorf("Error getting telemetry for device %s: %v", deviceID, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, points)
}

// --- Devices ---

// GetDevices returns the organization's device registry. The optional
// firmware query parameter annotates each device against that image.
func (h *APIHandler) GetDevices(c echo.Context) error {
	views, err := h.devices.ListDevices(c.Request().Context(), orgID(c), c.QueryParam("firmware"))
	if err != nil {
		logrus.Errorf("Error listing devices: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, views)
}

// GetDevice returns one device with its online state
func (h *APIHandler) GetDevice(c echo.Context) error {
	id := c.Param("id")
	view, err := h.devices.GetDevice(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error getting device %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// RegisterDevice upserts a registry entry
func (h *APIHandler) RegisterDevice(c echo.Context) error {
	var device models.Device
	if err := c.Bind(&device); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	registered, err := h.devices.RegisterDevice(c.Request().Context(), orgID(c), &device)
	if err != nil {
		logrus.Errorf("Error registering device: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, registered)
}

// --- Deployments ---

// CreateDeployment schedules a deployment
func (h *APIHandler) CreateDeployment(c echo.Context) error {
	var req models.CreateDeploymentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	d, err := h.deployments.ScheduleDeployment(c.Request().Context(), &req)
	if err != nil {
		logrus.Errorf("Error scheduling deployment: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

// GetDeployments returns recent deployments
func (h *APIHandler) GetDeployments(c echo.Context) error {
	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
		}
		limit = parsed
	}

	deployments, err := h.deployments.ListDeployments(c.Request().Context(), limit)
	if err != nil {
		logrus.Errorf("Error getting deployments: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, deployments)
}

// GetDeployment returns a deployment by ID
func (h *APIHandler) GetDeployment(c echo.Context) error {
	id := c.Param("id")
	d, err := h.deployments.GetDeployment(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error getting deployment %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// StartDeployment starts a scheduled deployment
func (h *APIHandler) StartDeployment(c echo.Context) error {
	id := c.Param("id")
	d, err := h.deployments.StartDeployment(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error starting deployment %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// RecordOutcome records one device's install result
func (h *APIHandler) RecordOutcome(c echo.Context) error {
	id := c.Param("id")
	var report models.BatchOutcomeReport
	if err := c.Bind(&report); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}
	if report.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "deviceId is required"})
	}

	d, err := h.deployments.RecordOutcome(c.Request().Context(), id, &report)
	if err != nil {
		logrus.Errorf("Error recording outcome for deployment %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// RetryBatch re-dispatches the deployment's in-flight batch
func (h *APIHandler) RetryBatch(c echo.Context) error {
	id := c.Param("id")
	d, err := h.deployments.RetryBatch(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error retrying batch for deployment %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// RollbackDeployment rolls back a deployment
func (h *APIHandler) RollbackDeployment(c echo.Context) error {
	id := c.Param("id")
	d, err := h.deployments.RollbackDeployment(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error rolling back deployment %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

// --- Firmware ---

// RegisterFirmware accepts a multipart upload: the image file plus its
// metadata fields.
func (h *APIHandler) RegisterFirmware(c echo.Context) error {
	file, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "image file is required"})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to open image upload"})
	}
	defer src.Close()
	image, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read image upload"})
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid multipart form"})
	}
	req := &services.RegisterFirmwareRequest{
		Version:     c.FormValue("version"),
		DeviceTypes: form.Value["deviceTypes"],
		Changelog:   c.FormValue("changelog"),
		UploadedBy:  c.FormValue("uploadedBy"),
	}

	fw, err := h.firmware.RegisterFirmware(c.Request().Context(), req, image)
	if err != nil {
		logrus.Errorf("Error registering firmware: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusCreated, fw)
}

// GetFirmwareList returns all registered firmware
func (h *APIHandler) GetFirmwareList(c echo.Context) error {
	list, err := h.firmware.ListFirmware(c.Request().Context())
	if err != nil {
		logrus.Errorf("Error listing firmware: %v", err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// GetFirmware returns one firmware record
func (h *APIHandler) GetFirmware(c echo.Context) error {
	id := c.Param("id")
	fw, err := h.firmware.GetFirmware(c.Request().Context(), id)
	if err != nil {
		logrus.Errorf("Error getting firmware %s: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, fw)
}

// SetFirmwareStatus updates a firmware record's availability
func (h *APIHandler) SetFirmwareStatus(c echo.Context) error {
	id := c.Param("id")
	var req struct {
		Status models.FirmwareStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
	}

	fw, err := h.firmware.SetFirmwareStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		logrus.Errorf("Error setting firmware %s status: %v", id, err)
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, fw)
}

// Healthz reports liveness
func (h *APIHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// SetupRoutes sets up the API routes
func (h *APIHandler) SetupRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	// Rule endpoints
	e.GET("/api/rules", h.GetRules)
	e.GET("/api/rules/:id", h.GetRule)
	e.POST("/api/rules", h.CreateRule)
	e.PUT("/api/rules/:id", h.UpdateRule)
	e.DELETE("/api/rules/:id", h.DeleteRule)

	// Alert endpoints
	e.GET("/api/alerts", h.GetAlerts)
	e.GET("/api/alerts/:id", h.GetAlert)
	e.POST("/api/alerts/:id/acknowledge", h.AcknowledgeAlert)
	e.POST("/api/alerts/:id/resolve", h.ResolveAlert)

	// Telemetry endpoints
	e.POST("/api/telemetry", h.IngestTelemetry)
	e.GET("/api/devices/:id/telemetry", h.GetDeviceTelemetry)

	// Device registry endpoints
	e.GET("/api/devices", h.GetDevices)
	e.GET("/api/devices/:id", h.GetDevice)
	e.POST("/api/devices", h.RegisterDevice)

	// Deployment endpoints
	e.POST("/api/deployments", h.CreateDeployment)
	e.GET("/api/deployments", h.GetDeployments)
	e.GET("/api/deployments/:id", h.GetDeployment)
	e.POST("/api/deployments/:id/start", h.StartDeployment)
	e.POST("/api/deployments/:id/outcomes", h.RecordOutcome)
	e.POST("/api/deployments/:id/retry", h.RetryBatch)
	e.POST("/api/deployments/:id/rollback", h.RollbackDeployment)

	// Firmware endpoints
	e.POST("/api/firmware", h.RegisterFirmware)
	e.GET("/api/firmware", h.GetFirmwareList)
	e.GET("/api/firmware/:id", h.GetFirmware)
	e.PUT("/api/firmware/:id/status", h.SetFirmwareStatus)
}
