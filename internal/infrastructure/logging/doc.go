// Package logging provides structured logging for SerialHome Core.
//
// It wraps log/slog so every component logs with the same default fields
// (service, version) and level filtering. JSON is used in production and
// text during development:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("serial link open", "device", cfg.Serial.Device)
//
// Never log MQTT passwords or InfluxDB tokens.
package logging
