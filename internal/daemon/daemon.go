package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggrep/ggrep/internal/admission"
	"github.com/ggrep/ggrep/internal/change"
	"github.com/ggrep/ggrep/internal/chunk"
	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/identity"
	"github.com/ggrep/ggrep/internal/lease"
	"github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/internal/snapshot"
	ggrepsync "github.com/ggrep/ggrep/internal/sync"
	"github.com/ggrep/ggrep/internal/watcher"
)

// chunkerVersion mirrors cmd/ggrep/cmd's resolveIdentity: the daemon needs
// the same (config_fingerprint, store_id) pair sync/maintain compute, but
// cmd imports internal, not the other way around, so the derivation is
// repeated here against the same inputs.
const chunkerVersion = ggrepsync.ChunkerVersion

// resolveIdentity derives (config_fingerprint, store_id) from cfg and root
// alone, the same way cmd/ggrep/cmd's sync and maintain commands do, so a
// daemon started against a given root always lands on the store that a
// concurrent `ggrep sync` of the same root would write to.
func resolveIdentity(cfg *config.Config, root string) identity.Identity {
	id := identity.Identity{
		CanonicalRoot: root,
		ConfigFingerprint: identity.ConfigFingerprint(identity.ConfigInputs{
			ChunkerVersion:   chunkerVersion,
			EmbedModelID:     cfg.Embeddings.Model,
			EmbedDimensions:  cfg.Embeddings.Dimensions,
			MaxFileSizeBytes: cfg.Store.MaxFileSizeBytes,
			SchemaVersion:    snapshot.ManifestSchemaVersion,
		}),
	}
	id.StoreID = identity.StoreID(id.CanonicalRoot, id.ConfigFingerprint)
	return id
}

// Option configures a Daemon at construction.
type Option func(*Daemon)

// WithEmbedder sets the daemon's query-time embedder; without it the
// daemon has none. `ggrep daemon` passes the configured embedder and
// tests pass a stub.
func WithEmbedder(e embed.Embedder) Option {
	return func(d *Daemon) { d.embedder = e }
}

// Daemon is the long-lived process that serves one (store_id,
// config_fingerprint) pair over a Unix socket: it owns the query engine,
// the admission plane, the writer-side watcher-triggered reconciliation
// loop, and the stale-config lifecycle.
type Daemon struct {
	root   string
	cfg    *config.Config
	id     identity.Identity
	layout snapshot.Layout

	manager   *snapshot.Manager
	engine    *query.Engine
	admission *admission.Controller
	embedder  embed.Embedder
	leaseMgr  *lease.Manager

	server     *Server
	socketPath string

	reconcileInterval time.Duration
	debounceWindow    time.Duration

	mu          sync.RWMutex
	staleConfig bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDaemon builds a Daemon for root. It resolves identity and layout,
// opens the snapshot manager, and wires the query engine and admission
// controller, but does not start listening or watching; call Start for
// that.
func NewDaemon(cfg *config.Config, root string, daemonCfg Config, opts ...Option) (*Daemon, error) {
	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	leaseMgr, err := lease.New(layout.LocksDir())
	if err != nil {
		return nil, fmt.Errorf("daemon: open lease manager: %w", err)
	}

	segments := snapshot.NewFileSegmentStore(layout)
	manager := snapshot.NewManager(layout, segments)

	d := &Daemon{
		root:              root,
		cfg:               cfg,
		id:                id,
		layout:            layout,
		manager:           manager,
		leaseMgr:          leaseMgr,
		admission:         admission.New(cfg.Admission, daemonCfg.SlowQueryMs),
		reconcileInterval: 3 * time.Minute,
		debounceWindow:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}

	engine, err := query.NewEngine(manager, d.embedder, cfg)
	if err != nil {
		return nil, fmt.Errorf("daemon: build query engine: %w", err)
	}
	d.engine = engine

	socketPath := daemonCfg.SocketPathForStore(id.StoreID, id.ConfigFingerprint)
	server, err := NewServer(socketPath, daemonCfg.MaxRequestBytes, daemonCfg.MaxResponseBytes)
	if err != nil {
		return nil, fmt.Errorf("daemon: create server: %w", err)
	}
	d.server = server
	d.socketPath = socketPath
	server.SetHandler(d)

	return d, nil
}

// SocketPath returns the Unix socket path this daemon listens on.
func (d *Daemon) SocketPath() string { return d.socketPath }

// StoreID implements Handler.
func (d *Daemon) StoreID() string { return d.id.StoreID }

// ConfigFingerprint implements Handler.
func (d *Daemon) ConfigFingerprint() string { return d.id.ConfigFingerprint }

// Start runs the daemon until ctx is cancelled: it starts the watcher in
// the background, kicks off periodic reconciliation, and blocks serving
// connections. The watcher is a hint source only, never a dependency;
// if it fails to start, reconciliation alone keeps the store current.
func (d *Daemon) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runWatcher(runCtx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runPeriodicReconciliation(runCtx)
	}()

	err := d.server.ListenAndServe(runCtx)
	cancel()
	d.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the daemon's background work and closes its listener.
func (d *Daemon) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	_ = d.leaseMgr.Release()
	return d.server.Close()
}

// runWatcher starts the filesystem watcher and, on every debounced batch
// of events, triggers a reconciliation sync. A watcher that fails to
// start or that errors out mid-run simply stops; reconciliation's
// periodic leg is the backstop described for this degraded path.
func (d *Daemon) runWatcher(ctx context.Context) {
	w, err := watcher.NewHybridWatcher(watcher.Options{
		DebounceWindow: d.debounceWindow,
		IgnorePatterns: []string{d.cfg.Store.BaseDir + "/**"},
	})
	if err != nil {
		slog.Warn("daemon: watcher init failed, relying on periodic reconciliation", slog.String("error", err.Error()))
		return
	}
	if err := w.Start(ctx, d.root); err != nil {
		slog.Warn("daemon: watcher start failed, relying on periodic reconciliation", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.Events():
			if !ok {
				return
			}
			slog.Debug("daemon: watcher batch observed", slog.Int("count", len(batch)))
			for _, ev := range batch {
				if ev.Operation == watcher.OpConfigChange {
					// The debounce window has already coalesced rapid
					// config edits, so this check cannot restart-loop.
					d.checkConfigFingerprint()
					break
				}
			}
			d.reconcile(ctx, "watcher")
		case werr, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("daemon: watcher error, continuing degraded", slog.String("error", werr.Error()))
		}
	}
}

// runPeriodicReconciliation is the time-based backstop: it runs whether
// or not the watcher is healthy, so a missed or coalesced-away event
// never leaves the store stale indefinitely.
func (d *Daemon) runPeriodicReconciliation(ctx context.Context) {
	ticker := time.NewTicker(d.reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcile(ctx, "periodic")
		}
	}
}

// checkConfigFingerprint reloads the on-disk config and compares the
// identity it derives against the one this daemon was started with. A
// drift means this process is serving a store that no longer matches
// the configuration: it stops writing and stamps reads with
// stale_config_warning until a fresh daemon takes over. An unreadable
// config counts as drift; continuing to publish under a config we can
// no longer parse would be guessing.
func (d *Daemon) checkConfigFingerprint() {
	freshCfg, err := config.Load(d.root)
	if err != nil {
		slog.Warn("daemon: config reload failed, entering stale-config state", slog.String("error", err.Error()))
		d.MarkStaleConfig()
		return
	}
	freshID := resolveIdentity(freshCfg, d.root)
	if freshID.ConfigFingerprint != d.id.ConfigFingerprint {
		slog.Warn("daemon: config fingerprint changed, entering stale-config state",
			slog.String("was", d.id.ConfigFingerprint),
			slog.String("now", freshID.ConfigFingerprint))
		d.MarkStaleConfig()
	}
}

// reconcile runs one sync pass under the writer lease and the admission
// plane's reserved maintenance pool, so it is never starved by query
// load and never competes with a concurrent `ggrep sync` invocation.
func (d *Daemon) reconcile(ctx context.Context, trigger string) {
	if d.staleConfigSnapshot() {
		return
	}

	permit, err := d.admission.AcquireMaintenance(ctx)
	if err != nil {
		return
	}
	defer permit.Release()

	if _, err := d.leaseMgr.AcquireWriter(5 * time.Minute); err != nil {
		slog.Debug("daemon: reconcile skipped, writer lease held elsewhere", slog.String("trigger", trigger))
		return
	}
	defer func() { _ = d.leaseMgr.Release() }()

	syncer, closeSyncer, err := d.newSyncer()
	if err != nil {
		slog.Warn("daemon: reconcile sync setup failed", slog.String("error", err.Error()))
		return
	}
	defer closeSyncer()

	result, err := syncer.Sync(ctx, d.root)
	if err != nil {
		slog.Warn("daemon: reconcile sync failed", slog.String("trigger", trigger), slog.String("error", err.Error()))
		return
	}
	if result.Manifest != nil {
		slog.Info("daemon: reconciled", slog.String("trigger", trigger),
			slog.Int64("snapshot_id", result.Manifest.SnapshotID),
			slog.Int("rows_embedded", result.RowsEmbedded))
	}
}

func (d *Daemon) newSyncer() (*ggrepsync.Syncer, func(), error) {
	detector, err := change.NewDetector()
	if err != nil {
		return nil, nil, fmt.Errorf("create change detector: %w", err)
	}
	codeChunker := chunk.NewCodeChunker()

	syncer := &ggrepsync.Syncer{
		Layout:   d.layout,
		Segments: snapshot.NewFileSegmentStore(d.layout),
		Lease:    d.leaseMgr,
		Detector: detector,
		Chunkers: ggrepsync.Chunkers{
			Code:     codeChunker,
			Markdown: chunk.NewMarkdownChunker(),
		},
		Embedder:      d.embedder,
		Config:        d.cfg,
		Identity:      d.id,
		DetectRenames: true,
	}
	return syncer, codeChunker.Close, nil
}

// MarkStaleConfig flips the daemon into the stale-config lifecycle: it
// refuses further writes and stamps a warning on reads, rather than
// restarting outright, to avoid a restart loop on a flapping config file.
func (d *Daemon) MarkStaleConfig() {
	d.mu.Lock()
	d.staleConfig = true
	d.mu.Unlock()
}

func (d *Daemon) staleConfigSnapshot() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.staleConfig
}

// HandleQuery implements Handler: admit, deadline, execute, translate.
func (d *Daemon) HandleQuery(ctx context.Context, clientID string, params QueryParams) (*QueryResultWire, error) {
	permit, err := d.admission.Acquire(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	if params.QueryTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.QueryTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	req := params.toEngineRequest(clientID)
	resp, err := d.engine.Execute(ctx, req)
	if err != nil {
		if isNeverSynced, nsErr := d.neverSynced(err); isNeverSynced {
			return nil, nsErr
		}
		return nil, err
	}

	wire := fromEngineResponse(resp)
	if d.staleConfigSnapshot() {
		wire.Warnings = append(wire.Warnings, "stale_config_warning")
	}
	return wire, nil
}

// neverSynced distinguishes "this store was never published to" from
// genuine corruption: OpenLatestValid reports both as ErrStoreCorrupt,
// but a client asking about a project that simply hasn't been synced
// yet deserves a friendlier, invalid_request-shaped answer.
func (d *Daemon) neverSynced(err error) (bool, *query.Error) {
	var qe *query.Error
	if !errors.As(err, &qe) || qe.Cause == nil {
		return false, nil
	}
	if !errors.Is(qe.Cause, snapshot.ErrStoreCorrupt) {
		return false, nil
	}
	ids, listErr := snapshot.ListSnapshotIDs(d.layout)
	if listErr == nil && len(ids) == 0 {
		return true, &query.Error{
			Code:    query.ErrInvalidRequest,
			Message: "no snapshot has been published for this store yet; run sync first",
			Cause:   err,
		}
	}
	return false, nil
}

// Status implements Handler.
func (d *Daemon) Status() StatusResult {
	counters := d.admission.Snapshot()
	var snapshotID int64
	if view, err := d.manager.Open(); err == nil {
		snapshotID = view.Manifest().SnapshotID
		_ = view.Close()
	}

	embedderType := "none"
	if d.embedder != nil {
		embedderType = fmt.Sprintf("%T", d.embedder)
	}

	return StatusResult{
		Running:           true,
		StoreID:           d.id.StoreID,
		ConfigFingerprint: d.id.ConfigFingerprint,
		SnapshotID:        snapshotID,
		LeaseHeld:         d.leaseMgr.VerifyOwnership() == nil,
		StaleConfig:       d.staleConfigSnapshot(),
		EmbedderType:      embedderType,
		InFlight:          counters.InFlight,
		QueueDepth:        counters.QueueDepth,
		Admitted:          counters.Admitted,
		BusyTotal:         counters.BusyTotal,
		TimeoutTotal:      counters.TimeoutTotal,
		SlowTotal:         counters.SlowTotal,
	}
}
