package observability

import (
	"log/slog"

	"veilmarket/core/events"
	"veilmarket/core/types"
)

// payloadCarrier is implemented by emitted events that wrap a full attribute
// payload.
type payloadCarrier interface {
	Event() *types.Event
}

// EventLogger writes every emitted domain event as a structured log line.
type EventLogger struct {
	logger *slog.Logger
}

// NewEventLogger logs events through logger, falling back to the default
// logger when nil.
func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger}
}

// Emit implements the emitter contract.
func (l *EventLogger) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			for key, value := range payload.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.logger.Info("domain event", attrs...)
}
