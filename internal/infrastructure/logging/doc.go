// Package logging provides structured logging for LumiSync Core.
//
// It wraps log/slog so every component logs the same way:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stderr"   # stdout, stderr, discard
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Component("discovery").Info("scan complete", "devices", 2)
//
// Never log MQTT credentials or the InfluxDB token.
package logging
