// internal/handler/health_handler.go
package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-service/internal/config"
	"serial-service/internal/utils"
)

// Pinger is the journal database as seen by health checks
type Pinger interface {
	HealthCheck() error
	GetStats() sql.DBStats
}

// ConnectionStatus reports whether the serial link is up
type ConnectionStatus interface {
	IsConnected() bool
	ReaderRunning() bool
}

// HealthHandler serves liveness, readiness and dependency checks
type HealthHandler struct {
	db        Pinger
	serial    ConnectionStatus
	config    *config.Config
	startedAt time.Time
	logger    *utils.ServiceLogger
}

// NewHealthHandler creates a new health handler. db may be nil when the
// journal is disabled.
func NewHealthHandler(db Pinger, serial ConnectionStatus, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		serial:    serial,
		config:    config,
		startedAt: time.Now(),
		logger:    utils.NewServiceLogger(logger, "health-handler"),
	}
}

func (h *HealthHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", h.HealthCheck)
	router.GET("/health/db", h.DatabaseHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
}

// HealthCheck reports overall service health. A closed serial port is
// reported but does not make the service unhealthy.
// @Summary Service health
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks := map[string]CheckResult{"serial": h.serialCheck()}
	if h.db != nil {
		checks["database"] = h.databaseCheck()
	}

	status, code := "healthy", http.StatusOK
	for _, check := range checks {
		if check.Status == "unhealthy" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
	}

	c.JSON(code, &HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    checks,
	})
}

func (h *HealthHandler) serialCheck() CheckResult {
	connected := h.serial.IsConnected()
	result := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"connected":      connected,
			"reader_running": h.serial.ReaderRunning(),
		},
	}
	if !connected {
		result.Status, result.Message = "idle", "No port open"
	}
	return result
}

func (h *HealthHandler) databaseCheck() CheckResult {
	if err := h.db.HealthCheck(); err != nil {
		return CheckResult{Status: "unhealthy", Message: err.Error()}
	}
	return CheckResult{Status: "healthy", Data: poolStats(h.db.GetStats())}
}

func poolStats(stats sql.DBStats) map[string]interface{} {
	return map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}
}

// DatabaseHealthCheck pings the journal database
// @Summary Journal database health
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse "Journal disabled"
// @Failure 503 {object} utils.APIResponse "Database unreachable"
// @Router /health/db [get]
func (h *HealthHandler) DatabaseHealthCheck(c *gin.Context) {
	if h.db == nil {
		utils.ErrorResponse(c, http.StatusNotFound, "Journal database not configured", nil)
		return
	}

	began := time.Now()
	if err := h.db.HealthCheck(); err != nil {
		h.logger.Error("Journal database ping failed", zap.Error(err))
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Journal database unreachable", err)
		return
	}

	data := poolStats(h.db.GetStats())
	data["ping_ms"] = time.Since(began).Milliseconds()
	utils.SuccessResponse(c, http.StatusOK, "Journal database reachable", data)
}

// ReadinessCheck fails only when a configured journal database is down
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.db != nil && h.db.HealthCheck() != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": "journal database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "connected": h.serial.IsConnected()})
}

func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alive": true, "uptime": time.Since(h.startedAt).Round(time.Second).String()})
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
