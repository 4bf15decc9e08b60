// internal/handler/instrument_events.go
package handler

import (
	"go.uber.org/zap"

	"scope-service/internal/service"
)

// InstrumentEventHandler pushes session changes to WebSocket clients
type InstrumentEventHandler struct {
	websocketHandler *WebSocketHandler
	logger           *zap.Logger
}

// NewInstrumentEventHandler creates a new instrument event handler
func NewInstrumentEventHandler(websocketHandler *WebSocketHandler, logger *zap.Logger) *InstrumentEventHandler {
	return &InstrumentEventHandler{
		websocketHandler: websocketHandler,
		logger:           logger,
	}
}

// OnConnected handles instrument connected events
func (ieh *InstrumentEventHandler) OnConnected(status *service.InstrumentStatus) {
	if ieh == nil {
		return
	}
	ieh.websocketHandler.Broadcast(MessageTypeInstrumentEvent, map[string]interface{}{
		"event_type": "connected",
		"status":     status,
	})

	ieh.logger.Info("Instrument connected event broadcasted",
		zap.String("connection_type", string(status.ConnectionType)),
		zap.String("address", status.Address),
	)
}

// OnDisconnected handles instrument disconnected events
func (ieh *InstrumentEventHandler) OnDisconnected(reason string) {
	if ieh == nil {
		return
	}
	ieh.websocketHandler.Broadcast(MessageTypeInstrumentEvent, map[string]interface{}{
		"event_type": "disconnected",
		"reason":     reason,
	})

	ieh.logger.Info("Instrument disconnected event broadcasted", zap.String("reason", reason))
}

// OnError handles instrument failures
func (ieh *InstrumentEventHandler) OnError(operation string, err error) {
	if ieh == nil {
		return
	}
	ieh.websocketHandler.Broadcast(MessageTypeInstrumentEvent, map[string]interface{}{
		"event_type": "error",
		"operation":  operation,
		"error":      err.Error(),
	})

	ieh.logger.Warn("Instrument error event broadcasted",
		zap.String("operation", operation),
		zap.Error(err),
	)
}
