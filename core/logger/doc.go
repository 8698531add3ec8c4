// Package logger provides a structured logging facility based on Zap.
//
// It offers a configured logger instance that supports different environments
// (development vs production) and a small helper for correlating log entries
// by player account.
//
// # Configuration
//
// The package supports configuration for:
//   - Level: debug, info, warn, error
//   - Format: json (production) or console (development)
//
// # Usage
//
//	log, _ := logger.New(&logger.Config{Level: "info"})
//	log.Info("Store connected")
//
//	// When serving one account:
//	l := logger.WithPlayer(log, playerID)
//	l.Warn("Balance read fell back to stale cache")
package logger
