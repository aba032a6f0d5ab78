// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output at debug level
//
// Setting Config.FilePath tees every entry into a JSON file rotated by
// lumberjack. The terminal client points OutputPaths at a file instead so
// logs never reach the screen.
//
// Request-scoped fields used across the server: conn_id, request_id, provider.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info", FilePath: "chat.log"})
//	logger.Info("Server starting", zap.String("port", "8080"))
//	logger.Named("ws").With(zap.String("conn_id", id)).Debug("frame received")
package logging
