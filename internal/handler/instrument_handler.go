// internal/handler/instrument_handler.go
package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"scope-service/internal/model"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

// InstrumentHandler handles instrument-related HTTP requests
type InstrumentHandler struct {
	instrumentService *service.InstrumentService
	events            *InstrumentEventHandler
	logger            *utils.ServiceLogger
}

// MeasureRequest selects one immediate measurement
type MeasureRequest struct {
	Channel string `json:"channel" binding:"required"`
	Type    string `json:"type" binding:"required"`
}

// ExecuteRequest carries one raw instrument command
type ExecuteRequest struct {
	Command string `json:"command" binding:"required"`
}

// ExecuteResponse reports the outcome of a raw command
type ExecuteResponse struct {
	Command string `json:"command"`
	Query   bool   `json:"query"`
	Reply   string `json:"reply,omitempty"`
}

// NewInstrumentHandler creates a new instrument handler. events may be nil.
func NewInstrumentHandler(instrumentService *service.InstrumentService, events *InstrumentEventHandler, logger *zap.Logger) *InstrumentHandler {
	return &InstrumentHandler{
		instrumentService: instrumentService,
		events:            events,
		logger:            utils.NewServiceLogger(logger, "instrument-handler"),
	}
}

// RegisterRoutes registers instrument-related routes
func (h *InstrumentHandler) RegisterRoutes(router *gin.RouterGroup) {
	instrument := router.Group("/instrument")
	{
		instrument.POST("/connect", h.Connect)
		instrument.POST("/disconnect", h.Disconnect)
		instrument.GET("/status", h.GetStatus)
		instrument.GET("/id", h.Identify)
		instrument.GET("/events", h.GetEvents)
		instrument.POST("/measurements", h.Measure)
		instrument.POST("/commands", h.Execute)
	}

	router.GET("/log", h.GetLog)
}

// Connect opens the instrument session
// @Summary Connect instrument
// @Description Open the configured connection and identify the oscilloscope
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.InstrumentStatus} "Instrument connected"
// @Failure 502 {object} utils.APIResponse "Instrument unreachable"
// @Router /instrument/connect [post]
func (h *InstrumentHandler) Connect(c *gin.Context) {
	status, err := h.instrumentService.Connect(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to connect instrument", zap.Error(err))
		h.events.OnError("connect", err)
		utils.InstrumentErrorResponse(c, "Failed to connect instrument", err)
		return
	}

	h.events.OnConnected(status)
	utils.SuccessResponse(c, http.StatusOK, "Instrument connected", status)
}

// Disconnect closes the instrument session
// @Summary Disconnect instrument
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse "Instrument disconnected"
// @Router /instrument/disconnect [post]
func (h *InstrumentHandler) Disconnect(c *gin.Context) {
	if err := h.instrumentService.Disconnect(c.Request.Context()); err != nil {
		h.logger.Error("Failed to disconnect instrument", zap.Error(err))
		utils.InstrumentErrorResponse(c, "Failed to disconnect instrument", err)
		return
	}

	h.events.OnDisconnected("requested")
	utils.SuccessResponse(c, http.StatusOK, "Instrument disconnected", h.instrumentService.Status())
}

// GetStatus returns session and transport state
// @Summary Instrument status
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.InstrumentStatus} "Instrument status"
// @Router /instrument/status [get]
func (h *InstrumentHandler) GetStatus(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "Instrument status retrieved", h.instrumentService.Status())
}

// Identify queries the identification string
// @Summary Identify instrument
// @Tags Instrument
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{id=string}} "Identification string"
// @Failure 503 {object} utils.APIResponse "Instrument not connected"
// @Router /instrument/id [get]
func (h *InstrumentHandler) Identify(c *gin.Context) {
	id, err := h.instrumentService.Identify(c.Request.Context())
	if err != nil {
		h.fail(c, "identify", "Failed to identify instrument", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Instrument identified", gin.H{"id": id})
}

// GetEvents reads the event queue
// @Summary Read event queue
// @Description Drain the instrument event queue, verbatim or split into entries
// @Tags Instrument
// @Produce json
// @Param format query string false "Reply format" Enums(raw, structured) default(raw)
// @Success 200 {object} utils.APIResponse "Events retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid format"
// @Failure 503 {object} utils.APIResponse "Instrument not connected"
// @Router /instrument/events [get]
func (h *InstrumentHandler) GetEvents(c *gin.Context) {
	switch format := strings.ToLower(c.DefaultQuery("format", "raw")); format {
	case "raw":
		reply, err := h.instrumentService.ReadEventQueue(c.Request.Context())
		if err != nil {
			h.fail(c, "events", "Failed to read event queue", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Events retrieved", gin.H{"events": reply})

	case "structured":
		entries, err := h.instrumentService.ReadEvents(c.Request.Context())
		if err != nil {
			h.fail(c, "events", "Failed to read event queue", err)
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Events retrieved", gin.H{"events": entries})

	default:
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid format: "+format, nil)
	}
}

// Measure runs an immediate measurement
// @Summary Immediate measurement
// @Tags Instrument
// @Accept json
// @Produce json
// @Param request body MeasureRequest true "Channel and measurement type"
// @Success 200 {object} utils.APIResponse{data=model.Measurement} "Measurement taken"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Router /instrument/measurements [post]
func (h *InstrumentHandler) Measure(c *gin.Context) {
	var req MeasureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	channel, err := model.ParseChannel(req.Channel)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid channel", err)
		return
	}
	measurementType, err := model.ParseMeasurementType(req.Type)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid measurement type", err)
		return
	}

	measurement, err := h.instrumentService.Measure(c.Request.Context(), channel, measurementType)
	if err != nil {
		h.fail(c, "measure", "Failed to measure", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Measurement taken", measurement)
}

// Execute sends a raw command from the operator console
// @Summary Execute raw command
// @Description Send one command line; commands ending in '?' return the reply
// @Tags Instrument
// @Accept json
// @Produce json
// @Param request body ExecuteRequest true "Command line"
// @Success 200 {object} utils.APIResponse{data=ExecuteResponse} "Command executed"
// @Failure 400 {object} utils.APIResponse "Invalid command"
// @Failure 503 {object} utils.APIResponse "Instrument not connected"
// @Router /instrument/commands [post]
func (h *InstrumentHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	command := strings.TrimSpace(req.Command)
	if command == "" || strings.ContainsAny(command, "\r\n") {
		utils.ErrorResponse(c, http.StatusBadRequest, "Command must be a single non-empty line", nil)
		return
	}

	reply, err := h.instrumentService.Execute(c.Request.Context(), command)
	if err != nil {
		h.fail(c, "execute", "Command failed", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Command executed", &ExecuteResponse{
		Command: command,
		Query:   strings.HasSuffix(command, "?"),
		Reply:   reply,
	})
}

// GetLog returns journaled exchanges newer than ?since=<seq>
// @Summary Exchange log
// @Tags Log
// @Produce json
// @Param since query int false "Return events after this sequence number"
// @Success 200 {object} utils.APIResponse "Log retrieved"
// @Failure 400 {object} utils.APIResponse "Invalid since parameter"
// @Router /log [get]
func (h *InstrumentHandler) GetLog(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		since = parsed
	}

	journal := h.instrumentService.Journal()
	utils.SuccessResponse(c, http.StatusOK, "Log retrieved", gin.H{
		"events":   journal.Snapshot(since),
		"last_seq": journal.LastSeq(),
	})
}

// fail reports an instrument failure to the caller and to live clients
func (h *InstrumentHandler) fail(c *gin.Context, operation, message string, err error) {
	h.logger.Warn(message, zap.String("operation", operation), zap.Error(err))
	h.events.OnError(operation, err)
	utils.InstrumentErrorResponse(c, message, err)
}
