package lease

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	return m
}

func TestAcquireWriter_GrantsIncreasingEpoch(t *testing.T) {
	m := newTestManager(t)

	epoch1, err := m.AcquireWriter(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), epoch1)
	require.NoError(t, m.Release())

	epoch2, err := m.AcquireWriter(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), epoch2)
}

func TestAcquireWriter_RejectsLiveOwner(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	_, err = a.AcquireWriter(time.Minute)
	require.NoError(t, err)

	b, err := New(dir)
	require.NoError(t, err)
	_, err = b.AcquireWriter(time.Minute)
	assert.ErrorIs(t, err, ErrHeldByOther)
}

func TestStealIfStale_AllowsTakeoverAfterTTL(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir)
	require.NoError(t, err)
	_, err = a.AcquireWriter(10 * time.Millisecond)
	require.NoError(t, err)
	a.stopHeartbeat()

	time.Sleep(30 * time.Millisecond)

	b, err := New(dir)
	require.NoError(t, err)
	epoch, err := b.StealIfStale(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), epoch)

	assert.ErrorIs(t, a.VerifyOwnership(), ErrNotHeld)
}

func TestVerifyOwnership_FailsAfterRelease(t *testing.T) {
	m := newTestManager(t)
	_, err := m.AcquireWriter(time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release())
	assert.ErrorIs(t, m.VerifyOwnership(), ErrNotHeld)
}

func TestSweepStaging_RemovesOnlyUnreferencedAndExpired(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "txn-keep")
	stale := filepath.Join(dir, "txn-stale")
	fresh := filepath.Join(dir, "txn-fresh")
	require.NoError(t, os.MkdirAll(keep, 0o755))
	require.NoError(t, os.MkdirAll(stale, 0o755))
	require.NoError(t, os.MkdirAll(fresh, 0o755))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(keep, old, old))

	err := SweepStaging(dir, 30*time.Minute, map[string]bool{"txn-keep": true})
	require.NoError(t, err)

	_, err = os.Stat(keep)
	assert.NoError(t, err)
	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
