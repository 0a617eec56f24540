// Package logging provides structured logging for CCBC Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	sessionLog := logger.Component("session")
//	sessionLog.Warn("unparseable reading", "serial", addr, "error", err)
//
// Never log secrets, tokens or passwords.
package logging
