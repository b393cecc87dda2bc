package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggrep/ggrep/internal/query"
)

// testSocketPath creates a unique socket path that's short enough for Unix sockets.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("ggrep-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

func startClientTestServer(t *testing.T, h Handler) string {
	t.Helper()
	socketPath := testSocketPath(t)

	srv, err := NewServer(socketPath, 0, 0)
	require.NoError(t, err)
	srv.SetHandler(h)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	return socketPath
}

func TestNewClient(t *testing.T) {
	cfg := DefaultConfig()
	client := NewClient(cfg, "/tmp/some.sock", "store-1", "fp-1", "client-1")

	assert.NotNil(t, client)
	assert.Equal(t, "/tmp/some.sock", client.socketPath)
	assert.Equal(t, cfg.Timeout, client.timeout)
}

func TestClient_IsRunning_NoSocket(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	client := NewClient(cfg, filepath.Join(tmpDir, "nonexistent.sock"), "store-1", "fp-1", "")

	assert.False(t, client.IsRunning(), "Should return false when socket doesn't exist")
}

func TestClient_IsRunning_WithSocket(t *testing.T) {
	socketPath := testSocketPath(t)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "store-1", "fp-1", "")

	assert.True(t, client.IsRunning(), "Should return true when socket is listening")
}

func TestClient_Ping_Success(t *testing.T) {
	socketPath := startClientTestServer(t, &stubHandler{storeID: "store-1", configFingerprint: "fp-1"})

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "store-1", "fp-1", "test-client")

	err := client.Ping(context.Background())
	require.NoError(t, err)
}

func TestClient_Query_Success(t *testing.T) {
	want := &QueryResultWire{
		SnapshotID: 9,
		Mode:       "balanced",
		Confidence: "strong",
		Results: []QueryResultRow{
			{Path: "a.go", StartLine: 1, NumLines: 3, Score: 0.9, Content: "func main() {}"},
		},
	}
	socketPath := startClientTestServer(t, &stubHandler{storeID: "store-1", configFingerprint: "fp-1", queryResult: want})

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "store-1", "fp-1", "test-client")

	got, err := client.Query(context.Background(), QueryParams{Query: "main"})
	require.NoError(t, err)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "a.go", got.Results[0].Path)
	assert.Equal(t, want.Confidence, got.Confidence)
}

func TestClient_Query_Error(t *testing.T) {
	socketPath := startClientTestServer(t, &stubHandler{
		storeID:           "store-1",
		configFingerprint: "fp-1",
		queryErr:          &query.Error{Code: query.ErrInvalidRequest, Message: "query must not be empty"},
	})

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "store-1", "fp-1", "test-client")

	_, err := client.Query(context.Background(), QueryParams{Query: ""})
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "invalid_request", remote.Code)
}

func TestClient_Status_Success(t *testing.T) {
	socketPath := startClientTestServer(t, &stubHandler{storeID: "store-1", configFingerprint: "fp-1"})

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "store-1", "fp-1", "test-client")

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, "store-1", status.StoreID)
}

func TestClient_Handshake_StoreMismatch(t *testing.T) {
	socketPath := startClientTestServer(t, &stubHandler{storeID: "store-1", configFingerprint: "fp-1"})

	cfg := DefaultConfig()
	client := NewClient(cfg, socketPath, "wrong-store", "fp-1", "test-client")

	err := client.Ping(context.Background())
	require.Error(t, err)
}

func TestClient_Connect_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "nonexistent.sock")

	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond

	client := NewClient(cfg, socketPath, "store-1", "fp-1", "")

	err := client.Ping(context.Background())
	require.Error(t, err)
}
