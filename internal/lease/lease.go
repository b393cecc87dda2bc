// Package lease implements the writer lease and reader lock primitives that
// make a store single-writer/many-reader: a heartbeated lease carrying a
// monotonically increasing fencing epoch, an flock guard (lease_guard.lock)
// serializing lease mutation, and a shared/exclusive offline reader lock.
// The guard is an OS file lock, not an exclusive-create file: it has no
// TTL of its own and is released when its holder unlocks or exits.
package lease

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// ErrNotHeld is returned when an operation requires lease ownership the
// caller no longer has.
var ErrNotHeld = errors.New("lease: not held")

// ErrHeldByOther is returned when acquisition fails because a live lease is
// held by a different owner.
var ErrHeldByOther = errors.New("lease: held by another writer")

// Lease is the on-disk writer lease record, persisted as
// locks/writer_lease.json.
type Lease struct {
	OwnerID         string    `json:"owner_id"`
	PID             int       `json:"pid"`
	Hostname        string    `json:"hostname"`
	StartedAt       time.Time `json:"started_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	LeaseEpoch      int64     `json:"lease_epoch"`
	LeaseTTLMs      int64     `json:"lease_ttl_ms"`
	StagingTxnID    string    `json:"staging_txn_id"`
}

func (l *Lease) stale(now time.Time) bool {
	ttl := time.Duration(l.LeaseTTLMs) * time.Millisecond
	return now.Sub(l.LastHeartbeatAt) > ttl
}

// Manager serializes lease acquisition, heartbeat, and release for one
// store directory. Grounded on the FileLock pattern of
// internal/embed/lock.go (github.com/gofrs/flock), generalized from a
// single download lock into the lease guard + lease file + reader lock
// triad described by the store's locks/ directory.
type Manager struct {
	locksDir string
	guard    *flock.Flock
	readers  *flock.Flock

	ownerID      string
	held         bool
	epoch        int64
	stagingTxnID string
	stop         chan struct{}
}

// New creates a lease manager rooted at <store>/locks.
func New(locksDir string) (*Manager, error) {
	if err := os.MkdirAll(locksDir, 0o700); err != nil {
		return nil, fmt.Errorf("lease: create locks dir: %w", err)
	}
	return &Manager{
		locksDir: locksDir,
		guard:    flock.New(filepath.Join(locksDir, "lease_guard.lock")),
		readers:  flock.New(filepath.Join(locksDir, "readers.lock")),
		ownerID:  uuid.NewString(),
	}, nil
}

func (m *Manager) leasePath() string {
	return filepath.Join(m.locksDir, "writer_lease.json")
}

// AcquireWriter attempts to acquire the writer lease with the given TTL,
// stealing a stale lease via compare-and-swap. It returns the granted
// fencing epoch.
func (m *Manager) AcquireWriter(ttl time.Duration) (int64, error) {
	if err := m.guard.Lock(); err != nil {
		return 0, fmt.Errorf("lease: acquire guard: %w", err)
	}
	defer m.guard.Unlock()

	existing, err := m.readLeaseLocked()
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	now := time.Now()
	var nextEpoch int64 = 1
	if existing != nil {
		if !existing.stale(now) && existing.OwnerID != m.ownerID {
			return 0, ErrHeldByOther
		}
		nextEpoch = existing.LeaseEpoch + 1
	}

	txnID := uuid.NewString()
	l := &Lease{
		OwnerID:         m.ownerID,
		PID:             os.Getpid(),
		Hostname:        hostname(),
		StartedAt:       now,
		LastHeartbeatAt: now,
		LeaseEpoch:      nextEpoch,
		LeaseTTLMs:      ttl.Milliseconds(),
		StagingTxnID:    txnID,
	}
	if err := writeLeaseAtomic(m.leasePath(), l); err != nil {
		return 0, err
	}

	m.held = true
	m.epoch = nextEpoch
	m.stagingTxnID = txnID
	m.startHeartbeat(ttl)

	return nextEpoch, nil
}

// StealIfStale is AcquireWriter under another name: it grants the lease
// when none is recorded, when the recorded one has exceeded its TTL, or
// when this manager already owns it, and returns ErrHeldByOther for a
// live lease of another owner. It never blocks waiting for a live writer.
func (m *Manager) StealIfStale(ttl time.Duration) (int64, error) {
	return m.AcquireWriter(ttl)
}

// Heartbeat refreshes last_heartbeat_at for the currently held lease. It
// fails with ErrNotHeld if ownership was lost (another writer stole it).
func (m *Manager) Heartbeat() error {
	if !m.held {
		return ErrNotHeld
	}
	if err := m.guard.Lock(); err != nil {
		return fmt.Errorf("lease: acquire guard: %w", err)
	}
	defer m.guard.Unlock()

	existing, err := m.readLeaseLocked()
	if err != nil {
		return err
	}
	if existing.OwnerID != m.ownerID || existing.LeaseEpoch != m.epoch {
		m.held = false
		return ErrNotHeld
	}
	existing.LastHeartbeatAt = time.Now()
	return writeLeaseAtomic(m.leasePath(), existing)
}

// VerifyOwnership re-reads the lease and asserts (owner_id, lease_epoch)
// still match what this manager was granted. The writer MUST call this
// before any expensive stage and again as the pointer-swap preflight.
func (m *Manager) VerifyOwnership() error {
	if !m.held {
		return ErrNotHeld
	}
	existing, err := m.readLease()
	if err != nil {
		return err
	}
	if existing.OwnerID != m.ownerID || existing.LeaseEpoch != m.epoch {
		m.held = false
		return ErrNotHeld
	}
	return nil
}

// Epoch returns the fencing epoch granted at acquisition. Callers embed
// this in the manifest they publish.
func (m *Manager) Epoch() int64 { return m.epoch }

// StagingTxnID returns the staging transaction id referenced from the lease.
func (m *Manager) StagingTxnID() string { return m.stagingTxnID }

// Release gives up the writer lease. It does not error if the lease was
// already lost to another writer.
func (m *Manager) Release() error {
	if !m.held {
		return nil
	}
	m.stopHeartbeat()

	if err := m.guard.Lock(); err != nil {
		return fmt.Errorf("lease: acquire guard: %w", err)
	}
	defer m.guard.Unlock()

	existing, err := m.readLeaseLocked()
	if err == nil && existing.OwnerID == m.ownerID {
		_ = os.Remove(m.leasePath())
	}
	m.held = false
	return nil
}

func (m *Manager) readLease() (*Lease, error) {
	if err := m.guard.Lock(); err != nil {
		return nil, fmt.Errorf("lease: acquire guard: %w", err)
	}
	defer m.guard.Unlock()
	return m.readLeaseLocked()
}

func (m *Manager) readLeaseLocked() (*Lease, error) {
	data, err := os.ReadFile(m.leasePath())
	if err != nil {
		return nil, err
	}
	var l Lease
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("lease: parse lease file: %w", err)
	}
	return &l, nil
}

func writeLeaseAtomic(path string, l *Lease) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("lease: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("lease: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("lease: rename: %w", err)
	}
	return nil
}

func (m *Manager) startHeartbeat(ttl time.Duration) {
	m.stop = make(chan struct{})
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Second
	}
	go func(stop chan struct{}) {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				_ = m.Heartbeat()
			}
		}
	}(m.stop)
}

func (m *Manager) stopHeartbeat() {
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

// LockReaderShared acquires the shared offline reader lock, allowing an
// offline process to hold a reader pin concurrently with other readers.
func (m *Manager) LockReaderShared() error {
	return m.readers.RLock()
}

// LockReaderExclusive acquires the exclusive offline reader lock; GC
// requires this form to guarantee no offline reader is pinning artifacts.
func (m *Manager) LockReaderExclusive() error {
	return m.readers.Lock()
}

// UnlockReader releases whichever form of the reader lock is held.
func (m *Manager) UnlockReader() error {
	return m.readers.Unlock()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
