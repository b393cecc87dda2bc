package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/config"
)

// mockEmbedder is a simple embedder for daemon tests that doesn't require
// a live model.
type mockEmbedder struct {
	dims int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return make([]float32, m.dims), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i := range texts {
		result[i] = make([]float32, m.dims)
	}
	return result, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }

func (m *mockEmbedder) ModelName() string { return "mock-embedder" }

func (m *mockEmbedder) Available(_ context.Context) bool { return true }

func (m *mockEmbedder) Close() error { return nil }

func (m *mockEmbedder) SetBatchIndex(_ int) {}

func (m *mockEmbedder) SetFinalBatch(_ bool) {}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dims: 8}
}

// daemonTestSetup builds a Daemon rooted in a fresh temp directory, with its
// own store base dir and socket dir so tests never collide.
func daemonTestSetup(t *testing.T) (*Daemon, Config) {
	t.Helper()

	root := t.TempDir()
	storeBase := t.TempDir()

	cfg := config.NewConfig()
	cfg.Store.BaseDir = storeBase
	cfg.Embeddings.Dimensions = 8

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	daemonCfg := DefaultConfig()
	daemonCfg.SocketDir = filepath.Join(t.TempDir(), "sockets")
	daemonCfg.PIDPath = filepath.Join(t.TempDir(), fmt.Sprintf("daemon-%s.pid", suffix))
	daemonCfg.Timeout = 5 * time.Second
	daemonCfg.ShutdownGracePeriod = 2 * time.Second

	d, err := NewDaemon(cfg, root, daemonCfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)
	return d, daemonCfg
}

func startDaemon(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = d.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(d.SocketPath())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewDaemon(t *testing.T) {
	d, daemonCfg := daemonTestSetup(t)

	assert.NotNil(t, d)
	assert.NotEmpty(t, d.StoreID())
	assert.NotEmpty(t, d.ConfigFingerprint())
	assert.Equal(t, daemonCfg.SocketPathForStore(d.StoreID(), d.ConfigFingerprint()), d.SocketPath())
}

func TestDaemon_StartStop(t *testing.T) {
	d, _ := daemonTestSetup(t)
	startDaemon(t, d)

	_, err := os.Stat(d.SocketPath())
	require.NoError(t, err, "socket should exist")

	require.NoError(t, d.Stop())
}

func TestDaemon_ClientCanConnect(t *testing.T) {
	d, daemonCfg := daemonTestSetup(t)
	startDaemon(t, d)

	client := NewClient(daemonCfg, d.SocketPath(), d.StoreID(), d.ConfigFingerprint(), "test-client")
	assert.True(t, client.IsRunning())

	err := client.Ping(context.Background())
	require.NoError(t, err)
}

func TestDaemon_Status(t *testing.T) {
	d, daemonCfg := daemonTestSetup(t)
	startDaemon(t, d)

	client := NewClient(daemonCfg, d.SocketPath(), d.StoreID(), d.ConfigFingerprint(), "test-client")
	status, err := client.Status(context.Background())
	require.NoError(t, err)

	assert.True(t, status.Running)
	assert.Equal(t, d.StoreID(), status.StoreID)
	assert.Contains(t, status.EmbedderType, "mockEmbedder")
}

func TestDaemon_Query_NoSnapshotYet(t *testing.T) {
	d, daemonCfg := daemonTestSetup(t)
	startDaemon(t, d)

	client := NewClient(daemonCfg, d.SocketPath(), d.StoreID(), d.ConfigFingerprint(), "test-client")

	_, err := client.Query(context.Background(), QueryParams{Query: "find handler"})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "invalid_request", remote.Code)
}

func TestDaemon_HandleQuery_RejectsEmptyQuery(t *testing.T) {
	d, _ := daemonTestSetup(t)

	_, err := d.HandleQuery(context.Background(), "client-1", QueryParams{Query: "   "})
	require.Error(t, err)
}

func TestNewDaemon_ResolvesSameIdentityForSameConfig(t *testing.T) {
	root := t.TempDir()
	storeBase := t.TempDir()

	cfg := config.NewConfig()
	cfg.Store.BaseDir = storeBase
	cfg.Embeddings.Dimensions = 8

	daemonCfg := DefaultConfig()
	daemonCfg.SocketDir = t.TempDir()

	d1, err := NewDaemon(cfg, root, daemonCfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)
	d2, err := NewDaemon(cfg, root, daemonCfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	assert.Equal(t, d1.StoreID(), d2.StoreID())
	assert.Equal(t, d1.ConfigFingerprint(), d2.ConfigFingerprint())
	assert.Equal(t, d1.SocketPath(), d2.SocketPath())
}

func TestDaemon_MarkStaleConfig(t *testing.T) {
	d, _ := daemonTestSetup(t)

	assert.False(t, d.Status().StaleConfig)
	d.MarkStaleConfig()
	assert.True(t, d.Status().StaleConfig)
}

func TestDaemon_CheckConfigFingerprint(t *testing.T) {
	d, _ := daemonTestSetup(t)

	// The config on disk (none: pure defaults) disagrees with the
	// daemon's identity only if the daemon was built from different
	// inputs. Here it was built from modified defaults (dimensions=8),
	// so a reload derives a different fingerprint and the daemon goes
	// stale rather than writing under the wrong identity.
	require.False(t, d.Status().StaleConfig)
	d.checkConfigFingerprint()
	assert.True(t, d.Status().StaleConfig)
}

func TestDaemon_CheckConfigFingerprint_NoDrift(t *testing.T) {
	root := t.TempDir()
	cfg := config.NewConfig()
	cfg.Store.BaseDir = t.TempDir()

	daemonCfg := DefaultConfig()
	daemonCfg.SocketDir = filepath.Join(t.TempDir(), "sockets")
	daemonCfg.PIDPath = filepath.Join(t.TempDir(), "daemon.pid")

	d, err := NewDaemon(cfg, root, daemonCfg, WithEmbedder(newMockEmbedder()))
	require.NoError(t, err)

	// Built from the same defaults config.Load reconstructs: no drift,
	// no stale state.
	d.checkConfigFingerprint()
	assert.False(t, d.Status().StaleConfig)
}
