// Package logging provides structured logging for the P2Plant IOC.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The command line -v flag raises the level: once for info, twice for debug.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("bootstrap complete", "pvs", 12)
//	logger.Error("plant request failed", "error", err)
//
// Never log secrets such as the MQTT password or the API JWT secret.
package logging
