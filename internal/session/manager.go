package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultMaxSessions bounds stored sessions; each one carries a full
// index copy, so the limit is really a disk budget.
const DefaultMaxSessions = 20

// ManagerConfig locates and bounds session storage.
type ManagerConfig struct {
	// StoragePath is the directory where sessions are stored.
	// Defaults to ~/.ggrep/sessions
	StoragePath string

	// MaxSessions is the maximum number of sessions allowed.
	// Defaults to DefaultMaxSessions (20).
	MaxSessions int
}

// Manager owns the sessions directory: open, list, delete, prune.
type Manager struct {
	storagePath string
	maxSessions int
}

// NewManager creates the storage directory and returns a Manager
// over it.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.StoragePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	if err := os.MkdirAll(cfg.StoragePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session storage: %w", err)
	}

	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &Manager{
		storagePath: cfg.StoragePath,
		maxSessions: maxSessions,
	}, nil
}

// Open loads the named session or creates it. A name collision with a
// different project path is refused; silently rebinding a session
// would discard the other project's saved index.
func (m *Manager) Open(name, projectPath string) (*Session, error) {
	if err := ValidateSessionName(name); err != nil {
		return nil, fmt.Errorf("invalid session name: %w", err)
	}

	sessionDir := filepath.Join(m.storagePath, name)

	if m.Exists(name) {
		sess, err := LoadSession(sessionDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing session: %w", err)
		}

		if sess.ProjectPath != projectPath {
			return nil, fmt.Errorf("session '%s' already exists for %s (requested: %s)",
				name, sess.ProjectPath, projectPath)
		}

		sess.SessionDir = sessionDir
		return sess, nil
	}

	count, err := m.sessionCount()
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if count >= m.maxSessions {
		return nil, fmt.Errorf("maximum %d sessions reached; delete old sessions first", m.maxSessions)
	}

	sess := NewSession(name, projectPath, sessionDir)
	if err := SaveSession(sess); err != nil {
		return nil, fmt.Errorf("failed to save new session: %w", err)
	}

	return sess, nil
}

// Save persists the session, stamping LastUsed so Prune's age math
// reflects real usage.
func (m *Manager) Save(sess *Session) error {
	sess.UpdateLastUsed()
	return SaveSession(sess)
}

// List reads every session directory, skipping unparseable ones, and
// annotates each with its disk size and whether its project path
// still exists.
func (m *Manager) List() ([]*SessionInfo, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*SessionInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []*SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		sessionDir := filepath.Join(m.storagePath, entry.Name())
		sess, err := LoadSession(sessionDir)
		if err != nil {
			continue
		}

		valid := true
		if _, err := os.Stat(sess.ProjectPath); os.IsNotExist(err) {
			valid = false
		}

		size, _ := CalculateDirSize(sessionDir)

		sessions = append(sessions, sess.ToInfo(size, valid))
	}

	return sessions, nil
}

// Get loads a session without touching LastUsed.
func (m *Manager) Get(name string) (*Session, error) {
	if !m.Exists(name) {
		return nil, fmt.Errorf("session '%s' not found", name)
	}

	sessionDir := filepath.Join(m.storagePath, name)
	return LoadSession(sessionDir)
}

// Delete removes the session and its copied index data.
func (m *Manager) Delete(name string) error {
	if !m.Exists(name) {
		return fmt.Errorf("session '%s' not found", name)
	}

	sessionDir := filepath.Join(m.storagePath, name)
	if err := os.RemoveAll(sessionDir); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// Prune deletes sessions idle longer than olderThan and reports how
// many went.
func (m *Manager) Prune(olderThan time.Duration) (int, error) {
	sessions, err := m.List()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, info := range sessions {
		if time.Since(info.LastUsed) > olderThan {
			if err := m.Delete(info.Name); err != nil {
				continue
			}
			deleted++
		}
	}

	return deleted, nil
}

// Exists checks for the session's metadata file, not just its
// directory; a half-created directory does not count.
func (m *Manager) Exists(name string) bool {
	sessionDir := filepath.Join(m.storagePath, name)
	sessionFile := filepath.Join(sessionDir, sessionFileName)
	_, err := os.Stat(sessionFile)
	return err == nil
}

// sessionCount counts directories holding a metadata file.
func (m *Manager) sessionCount() (int, error) {
	entries, err := os.ReadDir(m.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			sessionFile := filepath.Join(m.storagePath, entry.Name(), sessionFileName)
			if _, err := os.Stat(sessionFile); err == nil {
				count++
			}
		}
	}

	return count, nil
}

// SessionDir is where the named session's data lives.
func (m *Manager) SessionDir(name string) string {
	return filepath.Join(m.storagePath, name)
}
