package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir is ~/.ggrep/logs, or a temp-dir equivalent when no
// home directory resolves.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ggrep", "logs")
	}
	return filepath.Join(home, ".ggrep", "logs")
}

// DefaultLogPath is the daemon/CLI log file.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// MLXLogPath is the embedding sidecar's log file; the viewer can
// merge it with the Go log into one timeline.
func MLXLogPath() string {
	return filepath.Join(DefaultLogDir(), "mlx-server.log")
}

// LogSource selects whose logs the viewer reads.
type LogSource string

const (
	// LogSourceGo is the Go server logs (default).
	LogSourceGo LogSource = "go"
	// LogSourceMLX is the MLX Python server logs.
	LogSourceMLX LogSource = "mlx"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile resolves the log file to view: an explicit path wins,
// else the default server log. Missing files are errors, not empty
// views, so the user learns logging was never enabled.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	// Try global path
	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Server may not have run with --debug yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource lists the existing log files for a source. The
// error for an empty result names every path checked plus the command
// that would have produced logs.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceGo:
		goPath := DefaultLogPath()
		checked = append(checked, goPath)
		if _, err := os.Stat(goPath); err == nil {
			paths = append(paths, goPath)
		}

	case LogSourceMLX:
		mlxPath := MLXLogPath()
		checked = append(checked, mlxPath)
		if _, err := os.Stat(mlxPath); err == nil {
			paths = append(paths, mlxPath)
		}

	case LogSourceAll:
		goPath := DefaultLogPath()
		mlxPath := MLXLogPath()
		checked = append(checked, goPath, mlxPath)

		if _, err := os.Stat(goPath); err == nil {
			paths = append(paths, goPath)
		}
		if _, err := os.Stat(mlxPath); err == nil {
			paths = append(paths, mlxPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: go, mlx, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource maps a flag value to a LogSource, defaulting to the
// Go server log.
func ParseLogSource(s string) LogSource {
	switch s {
	case "mlx":
		return LogSourceMLX
	case "all":
		return LogSourceAll
	default:
		return LogSourceGo
	}
}

// EnsureLogDir creates the log directory.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint tells the user how to produce the missing logs.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceGo:
		return "To generate Go server logs:\n  ggrep --debug serve"
	case LogSourceMLX:
		return "To generate MLX server logs:\n  cd mlx-server && python server.py"
	case LogSourceAll:
		return "To generate logs:\n  Go:  ggrep --debug serve\n  MLX: cd mlx-server && python server.py"
	default:
		return ""
	}
}
