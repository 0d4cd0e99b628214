// Package log provides structured protocol logging for UPnP control points.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (SOAP, GENA, connection).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/upnp/controller.ulog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - SOAP: Action requests and their outcomes (ActionEvent)
//   - GENA: SUBSCRIBE/RENEW/UNSUBSCRIBE exchanges and NOTIFY messages (GENAEvent)
//   - Connection: Connection, subscription and call state changes (StateChangeEvent)
//
// Errors have a dedicated event type.
//
// # File Format
//
// Log files use CBOR encoding with .ulog extension. The upnp-log CLI tool
// provides viewing, filtering, and export capabilities.
package log
