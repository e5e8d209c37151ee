// Package logging provides structured logging for the hub link.
//
// It wraps log/slog so every component logs with the same format, level
// and default fields (service, version). Components never import this
// package directly; they accept a small Logger interface and the process
// entry point hands them a *logging.Logger, usually narrowed with
// Component.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log the hub access token or MQTT credentials.
package logging
