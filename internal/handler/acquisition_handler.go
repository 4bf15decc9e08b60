// internal/handler/acquisition_handler.go
package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"scope-service/internal/export"
	"scope-service/internal/model"
	"scope-service/internal/service"
	"scope-service/internal/utils"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// AcquisitionHandler handles acquisition-related HTTP requests
type AcquisitionHandler struct {
	instrumentService *service.InstrumentService
	events            *InstrumentEventHandler
	logger            *utils.ServiceLogger
}

// CaptureRequest lists the channels to capture. Empty means all channels.
type CaptureRequest struct {
	Channels []string `json:"channels"`
}

// SeriesResponse is an acquisition rendered as plot series
type SeriesResponse struct {
	ID     uuid.UUID       `json:"id"`
	Curve  model.CurveType `json:"curve"`
	Series []model.Series  `json:"series"`
}

// NewAcquisitionHandler creates a new acquisition handler. events may be nil.
func NewAcquisitionHandler(instrumentService *service.InstrumentService, events *InstrumentEventHandler, logger *zap.Logger) *AcquisitionHandler {
	return &AcquisitionHandler{
		instrumentService: instrumentService,
		events:            events,
		logger:            utils.NewServiceLogger(logger, "acquisition-handler"),
	}
}

// RegisterRoutes registers acquisition-related routes
func (h *AcquisitionHandler) RegisterRoutes(router *gin.RouterGroup) {
	acquisitions := router.Group("/acquisitions")
	{
		acquisitions.POST("", h.CreateAcquisition)
		acquisitions.GET("", h.ListAcquisitions)

		acquisition := acquisitions.Group("/:id")
		{
			acquisition.GET("", h.GetAcquisition)
			acquisition.DELETE("", h.DeleteAcquisition)
			acquisition.POST("/capture", h.Capture)
			acquisition.GET("/export.csv", h.ExportCSV)
		}
	}
}

// CreateAcquisition creates an empty acquisition
// @Summary Create acquisition
// @Tags Acquisitions
// @Produce json
// @Success 201 {object} utils.APIResponse{data=model.Acquisition} "Acquisition created"
// @Router /acquisitions [post]
func (h *AcquisitionHandler) CreateAcquisition(c *gin.Context) {
	acquisition, err := h.instrumentService.CreateAcquisition(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to create acquisition", zap.Error(err))
		utils.InstrumentErrorResponse(c, "Failed to create acquisition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Acquisition created", acquisition)
}

// ListAcquisitions lists acquisitions with pagination
// @Summary List acquisitions
// @Tags Acquisitions
// @Produce json
// @Param limit query int false "Items per page" default(20)
// @Param offset query int false "Items to skip" default(0)
// @Success 200 {object} utils.APIResponse{data=service.AcquisitionPage} "Acquisitions retrieved"
// @Router /acquisitions [get]
func (h *AcquisitionHandler) ListAcquisitions(c *gin.Context) {
	limit := defaultPageLimit
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if o, err := strconv.Atoi(raw); err == nil && o > 0 {
			offset = o
		}
	}

	page, err := h.instrumentService.ListAcquisitions(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list acquisitions", zap.Error(err))
		utils.InstrumentErrorResponse(c, "Failed to list acquisitions", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisitions retrieved", page)
}

// GetAcquisition returns an acquisition, or its plot series when ?curve= is set
// @Summary Get acquisition
// @Tags Acquisitions
// @Produce json
// @Param id path string true "Acquisition ID"
// @Param curve query string false "Series to plot against time" Enums(raw, voltage)
// @Success 200 {object} utils.APIResponse "Acquisition retrieved"
// @Failure 404 {object} utils.APIResponse "Acquisition not found"
// @Router /acquisitions/{id} [get]
func (h *AcquisitionHandler) GetAcquisition(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	acquisition, err := h.instrumentService.GetAcquisition(c.Request.Context(), id)
	if err != nil {
		utils.InstrumentErrorResponse(c, "Failed to get acquisition", err)
		return
	}

	raw := c.Query("curve")
	if raw == "" {
		utils.SuccessResponse(c, http.StatusOK, "Acquisition retrieved", acquisition)
		return
	}

	curve, err := model.ParseCurveType(raw)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid curve type", err)
		return
	}

	response := &SeriesResponse{
		ID:     acquisition.ID,
		Curve:  curve,
		Series: make([]model.Series, 0, len(acquisition.Waveforms)),
	}
	for _, channel := range model.Channels {
		if waveform, ok := acquisition.Waveforms[channel]; ok {
			response.Series = append(response.Series, waveform.Series(curve))
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisition series retrieved", response)
}

// DeleteAcquisition removes an acquisition
func (h *AcquisitionHandler) DeleteAcquisition(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.instrumentService.DeleteAcquisition(c.Request.Context(), id); err != nil {
		utils.InstrumentErrorResponse(c, "Failed to delete acquisition", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Acquisition deleted", nil)
}

// Capture acquires curves into an acquisition
// @Summary Capture waveforms
// @Description Transfer one curve per requested channel from the oscilloscope
// @Tags Acquisitions
// @Accept json
// @Produce json
// @Param id path string true "Acquisition ID"
// @Param request body CaptureRequest false "Channels to capture"
// @Success 200 {object} utils.APIResponse{data=model.Acquisition} "Waveforms captured"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 502 {object} utils.APIResponse "Malformed instrument reply"
// @Failure 504 {object} utils.APIResponse "Instrument timed out"
// @Router /acquisitions/{id}/capture [post]
func (h *AcquisitionHandler) Capture(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	channels := make([]model.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channel, err := model.ParseChannel(raw)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid channel", err)
			return
		}
		channels = append(channels, channel)
	}

	acquisition, err := h.instrumentService.Capture(c.Request.Context(), id, channels)
	if err != nil {
		h.logger.Warn("Capture failed",
			zap.String("acquisition_id", id.String()),
			zap.Error(err),
		)
		if !errors.Is(err, model.ErrNotFound) {
			h.events.OnError("capture", err)
		}
		utils.InstrumentErrorResponse(c, "Failed to capture waveforms", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Waveforms captured", acquisition)
}

// ExportCSV downloads an acquisition as CSV
// @Summary Export acquisition
// @Tags Acquisitions
// @Produce text/csv
// @Param id path string true "Acquisition ID"
// @Success 200 {string} string "CSV file"
// @Failure 409 {object} utils.APIResponse "Nothing captured yet"
// @Router /acquisitions/{id}/export.csv [get]
func (h *AcquisitionHandler) ExportCSV(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := h.instrumentService.ExportCSV(c.Request.Context(), id, &buf); err != nil {
		if errors.Is(err, export.ErrEmpty) {
			utils.ErrorResponse(c, http.StatusConflict, "Acquisition has no waveforms", err)
			return
		}
		utils.InstrumentErrorResponse(c, "Failed to export acquisition", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"acquisition-%s.csv\"", id))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *AcquisitionHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid acquisition ID", err)
		return uuid.Nil, false
	}
	return id, true
}
