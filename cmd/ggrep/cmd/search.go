package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/daemon"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/logging"
	"github.com/ggrep/ggrep/internal/output"
	"github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/internal/snapshot"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit    int
	filter   string   // "all", "code", "docs"
	language string
	format   string   // "text", "json"
	scopes   []string // path prefixes for filtering
	bm25Only bool     // skip semantic search, use BM25 only
	local    bool     // Force local search (bypass daemon)
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Search the indexed codebase using hybrid search.

Combines BM25 (keyword) and semantic (embedding) search
with Reciprocal Rank Fusion for optimal results.

Examples:
  ggrep search "authentication middleware"
  ggrep search "handleRequest" --type code --limit 5
  ggrep search "setup instructions" --type docs
  ggrep search "error handling" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.filter, "type", "t", "all", "Filter by type: all, code, docs")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g., go, python)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable, e.g., --scope services/api)")
	cmd.Flags().BoolVar(&opts.bm25Only, "bm25-only", false, "Use keyword search only (skip semantic search)")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local search (bypass daemon)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	// Try daemon-based search first (fast, keeps the snapshot pinned and the
	// embedder loaded). Skip the daemon if --local flag is set.
	if !opts.local {
		if wire, ok := tryDaemonQuery(ctx, root, query, opts); ok {
			slog.Info("search_complete", slog.String("mode", "daemon"), slog.Int("results", len(wire.Results)))
			return formatWireResults(cmd, out, query, wire, opts.format)
		}
	}

	slog.Info("search_using_local")
	return runLocalSearch(ctx, cmd, out, root, query, opts)
}

// tryDaemonQuery resolves this root's store identity and, if a daemon is
// already running for it, routes the query through it. The bool return is
// false on any resolution or daemon failure so the caller always has a
// clean path to fall back to the in-process engine.
func tryDaemonQuery(ctx context.Context, root, query string, opts searchOptions) (*daemon.QueryResultWire, bool) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, false
	}
	id := resolveIdentity(cfg, root)
	daemonCfg := daemon.DefaultConfig()
	socketPath := daemonCfg.SocketPathForStore(id.StoreID, id.ConfigFingerprint)

	client := daemon.NewClient(daemonCfg, socketPath, id.StoreID, id.ConfigFingerprint, "ggrep-cli")
	if !client.IsRunning() {
		return nil, false
	}

	pathScope := ""
	if len(opts.scopes) > 0 {
		pathScope = opts.scopes[0]
	}

	slog.Info("search_using_daemon")
	wire, err := client.Query(ctx, daemon.QueryParams{
		Query:      query,
		Mode:       "balanced",
		MaxResults: opts.limit,
		PathScope:  pathScope,
		Rerank:     true,
		Snippet:    "short",
	})
	if err != nil {
		slog.Warn("daemon query failed, falling back to local", slog.String("error", err.Error()))
		return nil, false
	}
	return wire, true
}

// runLocalSearch runs a query.Engine in-process against the store's active
// snapshot, the same tombstone-filtered path the daemon and `ggrep serve`
// use, for callers who passed --local or have no daemon running. Output is
// built through the same QueryResultWire shape the daemon returns, so
// --format text/json stays identical regardless of which path answered.
func runLocalSearch(ctx context.Context, cmd *cobra.Command, out *output.Writer, root, searchQuery string, opts searchOptions) error {
	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	id := resolveIdentity(cfg, root)
	layout := snapshot.NewLayout(cfg.Store.BaseDir, id.StoreID)

	if _, err := snapshot.ReadActiveSnapshotID(layout); err != nil {
		return fmt.Errorf("no index found. Run 'ggrep sync' first")
	}

	var embedder embed.Embedder
	if opts.bm25Only {
		embedder = embed.NewStaticEmbedder768()
	} else {
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			slog.Warn("embedder_unavailable_falling_back_static", slog.String("error", err.Error()))
			embedder = embed.NewStaticEmbedder768()
		}
	}
	defer func() { _ = embedder.Close() }()

	segments := snapshot.NewFileSegmentStore(layout)
	manager := snapshot.NewManager(layout, segments)
	engine, err := query.NewEngine(manager, embedder, cfg)
	if err != nil {
		return fmt.Errorf("failed to build query engine: %w", err)
	}

	pathScope := ""
	if len(opts.scopes) > 0 {
		pathScope = opts.scopes[0]
	}

	resp, err := engine.Execute(ctx, query.Request{
		Query:      searchQuery,
		Mode:       query.ModeBalanced,
		MaxResults: opts.limit,
		PathScope:  pathScope,
		Rerank:     true,
		Snippet:    query.SnippetShort,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	results := filterLocalResults(resp.Results, opts)
	slog.Info("search_complete", slog.String("mode", "local"), slog.Int("results", len(results)))

	wire := &daemon.QueryResultWire{
		SnapshotID: resp.SnapshotID,
		Mode:       string(resp.Mode),
		LimitsHit:  resp.LimitsHit,
		Warnings:   resp.Warnings,
		Confidence: string(resp.Confidence),
		Results:    make([]daemon.QueryResultRow, 0, len(results)),
	}
	for _, r := range results {
		wire.Results = append(wire.Results, daemon.QueryResultRow{
			Path:        r.Path,
			StartLine:   r.StartLine,
			NumLines:    r.NumLines,
			ChunkType:   string(r.ChunkType),
			IsAnchor:    r.IsAnchor,
			Score:       r.Score,
			Content:     r.Content,
			Reason:      r.Reason,
			MatchReason: r.MatchReason,
		})
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(wire)
	}
	return formatWireResults(cmd, out, searchQuery, wire, opts.format)
}

// filterLocalResults applies the --type and --language flags the daemon
// path never needs to (the daemon's QueryParams has no such fields yet):
// the query.Engine itself is content-type and language agnostic, so the
// filtering happens here, after retrieval.
func filterLocalResults(results []query.Result, opts searchOptions) []query.Result {
	out := results
	if opts.filter == "code" || opts.filter == "docs" {
		filtered := make([]query.Result, 0, len(out))
		for _, r := range out {
			if isDocPath(r.Path) == (opts.filter == "docs") {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}
	if opts.language != "" {
		filtered := make([]query.Result, 0, len(out))
		for _, r := range out {
			if strings.EqualFold(languageForExt(r.Path), opts.language) {
				filtered = append(filtered, r)
			}
		}
		out = filtered
	}
	return out
}

// isDocPath reports whether path is a documentation file by extension,
// mirroring internal/mcp's filter=docs classification.
func isDocPath(path string) bool {
	switch {
	case strings.HasSuffix(path, ".md"), strings.HasSuffix(path, ".mdx"),
		strings.HasSuffix(path, ".rst"), strings.HasSuffix(path, ".txt"):
		return true
	default:
		return false
	}
}

// languageForExt maps a file extension to a language name for the
// --language filter, mirroring internal/mcp's languageForPath.
func languageForExt(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".rs"):
		return "rust"
	case strings.HasSuffix(path, ".java"):
		return "java"
	case strings.HasSuffix(path, ".c"), strings.HasSuffix(path, ".h"):
		return "c"
	case strings.HasSuffix(path, ".cpp"), strings.HasSuffix(path, ".cc"), strings.HasSuffix(path, ".hpp"):
		return "cpp"
	case strings.HasSuffix(path, ".md"), strings.HasSuffix(path, ".mdx"):
		return "markdown"
	default:
		return ""
	}
}

// formatWireResults formats query results returned by the daemon or the
// in-process engine fallback; both paths produce the same wire shape.
func formatWireResults(cmd *cobra.Command, out *output.Writer, query string, wire *daemon.QueryResultWire, format string) error {
	if len(wire.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(wire)
	default:
		out.Statusf("🔍", "Found %d results for %q (confidence: %s):", len(wire.Results), query, wire.Confidence)
		out.Newline()

		for i, r := range wire.Results {
			location := r.Path
			if r.StartLine > 0 {
				location = fmt.Sprintf("%s:%d", r.Path, r.StartLine)
			}
			out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
			if r.Reason != "" {
				out.Status("", "   "+r.Reason)
			}

			snippet := getSnippet(r.Content, 3)
			for _, line := range snippet {
				out.Status("", "   "+line)
			}
			out.Newline()
		}
		for _, w := range wire.Warnings {
			out.Status("⚠", w)
		}
		return nil
	}
}

// getSnippet returns the first n lines of content.
func getSnippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	// Trim trailing empty lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
