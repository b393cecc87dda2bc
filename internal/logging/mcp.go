package logging

import (
	"log/slog"
)

// SetupMCPMode installs file-only logging for MCP server mode. The MCP
// transport owns stdout for JSON-RPC frames, and agent clients also
// read stderr; a single stray log line on either stream corrupts the
// session. So in this mode every record goes to the rotating file, at
// debug level, and nowhere else.
func SetupMCPMode() (func(), error) {
	return setupMCPMode("debug")
}

// SetupMCPModeWithLevel is SetupMCPMode at an explicit level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	return setupMCPMode(level)
}

func setupMCPMode(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // stdout/stderr belong to the protocol
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	slog.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}
