package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger
// at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns an adapter logging at the given level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	// Add optional identifiers
	if event.DeviceUUID != "" {
		attrs = append(attrs, slog.String("device_uuid", event.DeviceUUID))
	}
	if event.ServiceID != "" {
		attrs = append(attrs, slog.String("service", event.ServiceID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	// Add type-specific attributes
	switch {
	case event.Action != nil:
		attrs = append(attrs,
			slog.Uint64("call_id", event.Action.CallID),
			slog.String("msg_type", event.Action.Type.String()),
			slog.String("action", event.Action.Action),
		)
		if event.Action.Outcome != "" {
			attrs = append(attrs, slog.String("outcome", event.Action.Outcome))
		}
		if event.Action.HTTPStatus != 0 {
			attrs = append(attrs, slog.Int("http_status", event.Action.HTTPStatus))
		}
		if event.Action.FaultCode != nil {
			attrs = append(attrs, slog.Int("fault_code", *event.Action.FaultCode))
		}
		if event.Action.Duration != nil {
			attrs = append(attrs, slog.Duration("duration", *event.Action.Duration))
		}
	case event.GENA != nil:
		attrs = append(attrs, slog.String("method", event.GENA.Method))
		if event.GENA.SID != "" {
			attrs = append(attrs, slog.String("sid", event.GENA.SID))
		}
		if event.GENA.Seq != nil {
			attrs = append(attrs, slog.Uint64("seq", uint64(*event.GENA.Seq)))
		}
		if event.GENA.Timeout != nil {
			attrs = append(attrs, slog.Duration("timeout", *event.GENA.Timeout))
		}
		if event.GENA.Status != 0 {
			attrs = append(attrs, slog.Int("status", event.GENA.Status))
		}
		if len(event.GENA.Variables) > 0 {
			attrs = append(attrs, slog.Int("variables", len(event.GENA.Variables)))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
