// Package logging is the process's structured-logging setup: JSON
// records through slog, rotated files under ~/.ggrep/logs/, and the
// viewer behind ggrep-logs. Three output modes cover every entry
// point: stderr-only for casual CLI use, file+stderr under --debug,
// and file-only for MCP mode where both standard streams belong to
// the protocol.
package logging
