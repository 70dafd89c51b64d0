// internal/handler/serial_handler.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-service/internal/model"
	"serial-service/internal/utils"
)

// ErrJournalDisabled is returned by journal endpoints when no database is configured
var ErrJournalDisabled = errors.New("command journal is disabled")

// SerialHandler exposes the serial manager over HTTP
type SerialHandler struct {
	manager SerialManager
	signals SignalStore
	journal Journal
	runner  SequenceRunner
	logger  *utils.ServiceLogger
}

// NewSerialHandler creates a serial handler. journal may be nil.
func NewSerialHandler(manager SerialManager, signals SignalStore, journal Journal, runner SequenceRunner, logger *zap.Logger) *SerialHandler {
	return &SerialHandler{
		manager: manager,
		signals: signals,
		journal: journal,
		runner:  runner,
		logger:  utils.NewServiceLogger(logger, "serial-handler"),
	}
}

// RegisterRoutes registers the serial routes on router
func (h *SerialHandler) RegisterRoutes(router *gin.RouterGroup) {
	serial := router.Group("/serial")
	{
		serial.GET("/ports", h.ListPorts)
		serial.GET("/status", h.GetStatus)
		serial.GET("/stats", h.GetStats)
		serial.POST("/connect", h.Connect)
		serial.POST("/disconnect", h.Disconnect)
		serial.POST("/reconnect", h.Reconnect)
		serial.POST("/flush", h.Flush)
		serial.POST("/commands", h.SendCommand)
		serial.POST("/commands/wait", h.SendAndWait)
		serial.GET("/signals", h.GetSignals)
		serial.GET("/journal", h.ListJournal)
		serial.GET("/journal/summary", h.JournalSummary)
		serial.GET("/sequences", h.ListSequences)
		serial.POST("/sequences/cancel", h.CancelSequence)
		serial.POST("/sequences/:name/run", h.RunSequence)
	}
}

// SerialSettings are optional framing overrides; zero fields keep the defaults
type SerialSettings struct {
	BaudRate       int    `json:"baud_rate,omitempty"`
	DataBits       int    `json:"data_bits,omitempty"`
	Parity         string `json:"parity,omitempty"`
	StopBits       int    `json:"stop_bits,omitempty"`
	ReadTimeoutMs  int    `json:"read_timeout_ms,omitempty"`
	WriteTimeoutMs int    `json:"write_timeout_ms,omitempty"`
}

// Options converts the overrides into settings options
func (r SerialSettings) Options() ([]model.SettingsOption, error) {
	var opts []model.SettingsOption
	if r.BaudRate != 0 {
		opts = append(opts, model.WithBaudRate(r.BaudRate))
	}
	if r.DataBits != 0 {
		opts = append(opts, model.WithDataBits(r.DataBits))
	}
	if r.Parity != "" {
		parity, err := model.ParseParity(r.Parity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, model.WithParity(parity))
	}
	if r.StopBits != 0 {
		opts = append(opts, model.WithStopBits(r.StopBits))
	}
	if r.ReadTimeoutMs > 0 {
		opts = append(opts, model.WithReadTimeout(time.Duration(r.ReadTimeoutMs)*time.Millisecond))
	}
	if r.WriteTimeoutMs > 0 {
		opts = append(opts, model.WithWriteTimeout(time.Duration(r.WriteTimeoutMs)*time.Millisecond))
	}
	return opts, nil
}

// ConnectRequest names the port to open
type ConnectRequest struct {
	Port string `json:"port" binding:"required"`
	SerialSettings
}

// CommandRequest is a command to send to the device
type CommandRequest struct {
	Command          string         `json:"command" binding:"required"`
	Params           map[string]any `json:"params,omitempty"`
	TimeoutMs        int            `json:"timeout_ms,omitempty"`
	Retries          int            `json:"retries,omitempty"`
	ExpectedResponse string         `json:"expected_response,omitempty"`
}

// StatusResponse describes the current connection
type StatusResponse struct {
	Connected     bool                  `json:"connected"`
	ReaderRunning bool                  `json:"reader_running"`
	State         model.ConnectionState `json:"state"`
}

// ListPorts lists the ports the operating system reports
// @Summary List serial ports
// @Tags Serial
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.PortInfo}
// @Failure 500 {object} utils.APIResponse "Internal error"
// @Router /api/v1/serial/ports [get]
func (h *SerialHandler) ListPorts(c *gin.Context) {
	ports, err := h.manager.AvailablePorts()
	if err != nil {
		h.logger.Error("Failed to enumerate ports", zap.Error(err))
		respondError(c, "Failed to enumerate ports", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Ports retrieved", ports)
}

// GetStatus returns the connection state
// @Summary Connection status
// @Tags Serial
// @Produce json
// @Success 200 {object} utils.APIResponse{data=StatusResponse}
// @Router /api/v1/serial/status [get]
func (h *SerialHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Status retrieved", h.status())
}

func (h *SerialHandler) status() StatusResponse {
	return StatusResponse{
		Connected:     h.manager.IsConnected(),
		ReaderRunning: h.manager.ReaderRunning(),
		State:         h.manager.State(),
	}
}

// GetStats returns manager statistics
func (h *SerialHandler) GetStats(c *gin.Context) {
	stats := gin.H{
		"serial":   h.manager.Stats(),
		"signals":  h.signals.Stats(),
		"sequence": h.runner.Stats(),
	}
	utils.SuccessResponse(c, http.StatusOK, "Statistics retrieved", stats)
}

// Connect opens a port
// @Summary Open a port
// @Tags Serial
// @Accept json
// @Produce json
// @Param request body ConnectRequest true "Port and optional settings"
// @Success 200 {object} utils.APIResponse{data=StatusResponse}
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Conflicting state"
// @Failure 503 {object} utils.APIResponse "Unavailable"
// @Router /api/v1/serial/connect [post]
func (h *SerialHandler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	opts, err := req.Options()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid serial settings", err)
		return
	}

	if err := h.manager.Connect(req.Port, opts...); err != nil {
		h.logger.Error("Failed to connect", zap.String("port", req.Port), zap.Error(err))
		respondError(c, "Failed to connect", err)
		return
	}

	h.logger.Info("Connected via API", zap.String("port", req.Port))
	utils.SuccessResponse(c, http.StatusOK, "Connected", h.status())
}

// Disconnect closes the current port
// @Summary Close the port
// @Tags Serial
// @Produce json
// @Success 200 {object} utils.APIResponse{data=StatusResponse}
// @Failure 500 {object} utils.APIResponse "Internal error"
// @Router /api/v1/serial/disconnect [post]
func (h *SerialHandler) Disconnect(c *gin.Context) {
	if err := h.manager.Disconnect(); err != nil {
		h.logger.Error("Failed to disconnect", zap.Error(err))
		respondError(c, "Failed to disconnect", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Disconnected", h.status())
}

// Reconnect reopens the last port. The body is optional.
func (h *SerialHandler) Reconnect(c *gin.Context) {
	var settings SerialSettings
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&settings); err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	opts, err := settings.Options()
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid serial settings", err)
		return
	}

	if err := h.manager.Reconnect(opts...); err != nil {
		h.logger.Error("Failed to reconnect", zap.Error(err))
		respondError(c, "Failed to reconnect", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Reconnected", h.status())
}

// Flush discards pending input and output
func (h *SerialHandler) Flush(c *gin.Context) {
	h.manager.FlushBuffers()
	utils.SuccessResponse(c, http.StatusOK, "Buffers flushed", nil)
}

// SendCommand writes a command without waiting for a response
// @Summary Send a command
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body CommandRequest true "Command"
// @Success 202 {object} utils.APIResponse
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Conflicting state"
// @Failure 502 {object} utils.APIResponse "Device error"
// @Router /api/v1/serial/commands [post]
func (h *SerialHandler) SendCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.manager.SendCommand(req.Command, req.Params); err != nil {
		h.logger.Warn("Command rejected", zap.String("command", req.Command), zap.Error(err))
		respondError(c, "Failed to send command", err)
		return
	}
	utils.SuccessResponse(c, http.StatusAccepted, "Command sent", gin.H{"command": req.Command})
}

// SendAndWait writes a command and returns the classified response
// @Summary Send a command and wait for the response
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body CommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=model.ProtocolResponse}
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "Conflicting state"
// @Failure 502 {object} utils.APIResponse "Device error"
// @Failure 504 {object} utils.APIResponse "Device timeout"
// @Router /api/v1/serial/commands/wait [post]
func (h *SerialHandler) SendAndWait(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	problems := make(map[string]string)
	if req.TimeoutMs < 0 {
		problems["timeout_ms"] = "must not be negative"
	}
	if req.Retries < 0 {
		problems["retries"] = "must not be negative"
	}
	if len(problems) > 0 {
		utils.ValidationErrorResponse(c, problems)
		return
	}

	cmd := model.Command{
		Text:             req.Command,
		Params:           req.Params,
		Retries:          req.Retries,
		ExpectedResponse: req.ExpectedResponse,
	}
	resp, err := h.manager.SendAndWait(c.Request.Context(), cmd, time.Duration(req.TimeoutMs)*time.Millisecond)
	if err != nil {
		h.logger.Warn("Command failed", zap.String("command", req.Command), zap.Error(err))
		respondError(c, "Command failed", err)
		return
	}

	message := "Command completed"
	if !resp.IsSuccess() {
		message = fmt.Sprintf("Device responded with status %s", resp.Status)
	}
	utils.SuccessResponse(c, http.StatusOK, message, resp)
}

// GetSignals returns the latest telemetry values and the active mappings
func (h *SerialHandler) GetSignals(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Signals retrieved", gin.H{
		"values":   h.signals.Values(),
		"mappings": h.signals.Mappings(),
	})
}

// ListJournal lists journaled commands
// @Summary List journaled commands
// @Tags Journal
// @Produce json
// @Param port query string false "Filter by port"
// @Param status query string false "Filter by status"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Page offset"
// @Success 200 {object} utils.APIResponse{data=[]model.CommandRecord}
// @Failure 503 {object} utils.APIResponse "Unavailable"
// @Router /api/v1/serial/journal [get]
func (h *SerialHandler) ListJournal(c *gin.Context) {
	if h.journal == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Journal unavailable", ErrJournalDisabled)
		return
	}

	filter, err := parseJournalFilter(c)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid query parameters", err)
		return
	}

	records, total, err := h.journal.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list journal", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list journal", err)
		return
	}

	utils.PaginatedResponse(c, "Journal retrieved", records, utils.Pagination{
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// JournalSummary aggregates the journal
func (h *SerialHandler) JournalSummary(c *gin.Context) {
	if h.journal == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Journal unavailable", ErrJournalDisabled)
		return
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		since = &t
	}

	stats, err := h.journal.Summary(c.Request.Context(), since)
	if err != nil {
		h.logger.Error("Failed to summarize journal", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to summarize journal", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Journal summary retrieved", stats)
}

func parseJournalFilter(c *gin.Context) (*model.JournalFilter, error) {
	filter := &model.JournalFilter{
		Port:   c.Query("port"),
		Status: model.ResponseStatus(c.Query("status")),
		Limit:  50,
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid limit %q", raw)
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("invalid offset %q", raw)
		}
		filter.Offset = offset
	}
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid since %q: %w", raw, err)
		}
		filter.Since = &t
	}
	return filter, nil
}

// SequenceInfo describes one library entry
type SequenceInfo struct {
	Name  string   `json:"name"`
	Steps []string `json:"steps"`
}

// ListSequences lists the sequence library
func (h *SerialHandler) ListSequences(c *gin.Context) {
	library := h.runner.Library()
	names := library.Names()
	out := make([]SequenceInfo, 0, len(names))
	for _, name := range names {
		steps, _ := library.Steps(name)
		out = append(out, SequenceInfo{Name: name, Steps: steps})
	}
	utils.SuccessResponse(c, http.StatusOK, "Sequences retrieved", gin.H{
		"sequences": out,
		"running":   h.runner.Running(),
	})
}

// RunSequence runs a named sequence. With ?async=true it returns 202 and
// runs in the background.
// @Summary Run a named sequence
// @Tags Sequences
// @Produce json
// @Param name path string true "Sequence name"
// @Param async query bool false "Run in the background"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse "Unknown sequence"
// @Failure 409 {object} utils.APIResponse "Conflicting state"
// @Router /api/v1/serial/sequences/{name}/run [post]
func (h *SerialHandler) RunSequence(c *gin.Context) {
	name := c.Param("name")

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if _, ok := h.runner.Library().Steps(name); !ok {
			utils.ErrorResponse(c, http.StatusNotFound, "Sequence not found", fmt.Errorf("unknown sequence %q", name))
			return
		}
		go func() {
			if _, err := h.runner.Run(context.Background(), name); err != nil {
				h.logger.Warn("Background sequence ended with error", zap.String("sequence", name), zap.Error(err))
			}
		}()
		utils.SuccessResponse(c, http.StatusAccepted, "Sequence started", gin.H{"sequence": name})
		return
	}

	result, err := h.runner.Run(c.Request.Context(), name)
	if err != nil {
		if result != nil {
			c.JSON(statusFor(err), utils.APIResponse{
				Success:   false,
				Message:   "Sequence failed",
				Data:      result,
				Error:     &utils.APIError{Code: "SEQUENCE_FAILED", Message: "Sequence failed", Details: err.Error()},
				Timestamp: time.Now(),
				RequestID: c.GetString(utils.RequestIDKey),
			})
			return
		}
		respondError(c, "Failed to run sequence", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, result.Message, result)
}

// CancelSequence stops the running sequence
func (h *SerialHandler) CancelSequence(c *gin.Context) {
	if !h.runner.Cancel() {
		utils.ErrorResponse(c, http.StatusConflict, "No sequence running", nil)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Sequence cancelled", nil)
}
