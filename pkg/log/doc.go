/*
Package log provides structured logging for Corral using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Configuration:
  - Level: debug/info/warn/error threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer destination (stdout, file)

Context Loggers:
  - WithComponent: tag all logs with a subsystem name
  - WithHost: tag logs with the cluster host being operated on
  - WithUser: tag logs with the username a quota or kill concerns

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("cluster")
	logger.Info().Str("host", addr).Msg("refreshing device state")

Remote-operation failures are logged at error level and never fatal: one
host's failure must not take down the daemon.
*/
package log
