package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes one logging setup. Every process logs structured
// JSON; the daemon and MCP modes differ only in where the bytes go
// (the file, or the file plus stderr; never stdout, which the MCP
// transport owns).
type Config struct {
	// Level is the minimum level: debug, info, warn, error.
	Level string
	// FilePath is the log file. File logging cannot be turned off: an
	// empty path makes Setup fail when it opens the file.
	FilePath string
	// MaxSizeMB rotates the file past this size.
	MaxSizeMB int
	// MaxFiles bounds how many rotated files survive.
	MaxFiles int
	// WriteToStderr mirrors records to stderr.
	WriteToStderr bool
}

// DefaultConfig: info level, rotating file plus stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup builds a JSON slog.Logger per cfg and returns it with the
// cleanup that flushes and closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	if err := EnsureLogDir(); err != nil {
		return nil, nil, err
	}

	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var output io.Writer = writer
	if cfg.WriteToStderr {
		output = io.MultiWriter(writer, os.Stderr)
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs a debug-level logger as the process default
// and returns its cleanup.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DebugConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel tolerates "warning" for warn; anything unrecognized is
// info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromString is parseLevel for callers outside the package (the
// log viewer's filter flag).
func LevelFromString(level string) slog.Level {
	return parseLevel(level)
}
