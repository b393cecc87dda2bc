package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ggrep/ggrep/internal/async"
	"github.com/ggrep/ggrep/internal/config"
	"github.com/ggrep/ggrep/internal/embed"
	"github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/internal/snapshot"
	"github.com/ggrep/ggrep/internal/telemetry"
	"github.com/ggrep/ggrep/pkg/version"
)

// Server is the MCP server for Ggrep.
// It bridges AI clients (Claude Code, Cursor) with the hybrid query engine,
// routed through the same snapshot-pinning path every other entry point uses
// so a tombstoned file never surfaces here either.
type Server struct {
	mcp      *mcp.Server
	engine   *query.Engine
	manager  *snapshot.Manager
	embedder embed.Embedder // Embedder for capability signaling
	config   *config.Config
	logger   *slog.Logger

	// Project identification for resource operations
	projectID string
	rootPath  string

	// Background indexing progress (nil if not indexing)
	indexProgress *async.IndexProgress

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter   string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, typescript"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput defines a single search result with context-rich metadata.
type SearchResultOutput struct {
	FilePath    string `json:"file_path" jsonschema:"file path relative to project root"`
	StartLine   int    `json:"start_line" jsonschema:"1-based line the result starts at"`
	NumLines    int    `json:"num_lines" jsonschema:"number of lines the result spans"`
	Content     string `json:"content" jsonschema:"matched content snippet"`
	Score       float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language    string `json:"language,omitempty" jsonschema:"programming language of the file"`
	ChunkType   string `json:"chunk_type,omitempty" jsonschema:"text or anchor"`
	IsAnchor    bool   `json:"is_anchor,omitempty" jsonschema:"true if this result is a structural anchor rather than prose"`
	MatchReason string `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
}

// NewServer creates a new MCP server bound to engine's snapshot store.
// The embedder parameter is used for capability signaling - AI clients can query
// the actual embedder state to adjust their search strategies.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(engine *query.Engine, manager *snapshot.Manager, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("query engine is required")
	}
	if manager == nil {
		return nil, errors.New("snapshot manager is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		manager:  manager,
		embedder: embedder, // May be nil - will report as unavailable
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Ggrep",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
// This enables the server to report indexing progress via index_status and
// return appropriate messages when search is called during indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	// Register query_metrics resource if metrics is provided
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "Ggrep", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "search",
			Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
		},
		{
			Name:        "search_code",
			Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language filtering.",
		},
		{
			Name:        "search_docs",
			Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides.",
		},
		{
			Name:        "index_status",
			Description: "Check if the codebase snapshot is ready and which embedder is active. Use before searching to verify the snapshot is current.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "search_code":
		return s.handleSearchCodeTool(ctx, args)
	case "search_docs":
		return s.handleSearchDocsTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// executeQuery is the single path every search tool funnels through: it
// builds a query.Request, runs it against the engine bound to this
// server's snapshot manager, and applies the content-type/language
// filters the engine itself does not know about.
func (s *Server) executeQuery(ctx context.Context, q string, limit int, filter, language string, scope []string) ([]query.Result, error) {
	req := query.Request{
		Query:      q,
		Mode:       query.ModeBalanced,
		MaxResults: limit,
	}
	if len(scope) > 0 {
		req.PathScope = scope[0]
	}

	resp, err := s.engine.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	results := resp.Results
	if filter == "code" || filter == "docs" {
		filtered := make([]query.Result, 0, len(results))
		for _, r := range results {
			if isDocPath(r.Path) == (filter == "docs") {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if language != "" {
		filtered := make([]query.Result, 0, len(results))
		for _, r := range results {
			if strings.EqualFold(languageForPath(r.Path), language) {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if len(scope) > 1 {
		filtered := make([]query.Result, 0, len(results))
		for _, r := range results {
			for _, sc := range scope {
				if strings.HasPrefix(r.Path, sc) {
					filtered = append(filtered, r)
					break
				}
			}
		}
		results = filtered
	}
	return results, nil
}

// handleSearchTool handles the search tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	// Check if indexing is in progress
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil && progress.IsIndexing() {
		snap := progress.Snapshot()
		return fmt.Sprintf("## Indexing in Progress\n\n"+
			"**Progress:** %.1f%% (%d/%d files)\n"+
			"**Stage:** %s\n\n"+
			"Search results may be incomplete or unavailable. Please try again in a moment.",
			snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.Stage), nil
	}

	start := time.Now()
	requestID := generateRequestID()

	queryStr, ok := args["query"].(string)
	if !ok || queryStr == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if strings.TrimSpace(queryStr) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	var filter, language string
	var scope []string
	if f, ok := args["filter"].(string); ok {
		filter = f
	}
	if lang, ok := args["language"].(string); ok {
		language = lang
	}
	if sc, ok := args["scope"].([]interface{}); ok {
		for _, s := range sc {
			if str, ok := s.(string); ok {
				scope = append(scope, str)
			}
		}
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", queryStr),
		slog.Int("limit", limit))

	results, err := s.executeQuery(ctx, queryStr, limit, filter, language, scope)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return FormatSearchResults(queryStr, results), nil
}

// handleSearchCodeTool handles the search_code tool invocation.
// Returns markdown-formatted code results with language filtering.
func (s *Server) handleSearchCodeTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	queryStr, ok := args["query"].(string)
	if !ok || queryStr == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	limit := clampLimit(0, 10, 1, 50)
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	var langFilter string
	if lang, ok := args["language"].(string); ok {
		langFilter = lang
	}
	var scope []string
	if sc, ok := args["scope"].([]interface{}); ok {
		for _, s := range sc {
			if str, ok := s.(string); ok {
				scope = append(scope, str)
			}
		}
	}

	s.logger.Info("search_code started",
		slog.String("request_id", requestID),
		slog.String("query", queryStr),
		slog.Int("limit", limit))

	results, err := s.executeQuery(ctx, queryStr, limit, "code", langFilter, scope)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_code failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_code completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return FormatCodeResults(queryStr, results, langFilter), nil
}

// handleSearchDocsTool handles the search_docs tool invocation.
// Returns markdown-formatted documentation results.
func (s *Server) handleSearchDocsTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	queryStr, ok := args["query"].(string)
	if !ok || queryStr == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	limit := clampLimit(0, 10, 1, 50)
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	var scope []string
	if sc, ok := args["scope"].([]interface{}); ok {
		for _, s := range sc {
			if str, ok := s.(string); ok {
				scope = append(scope, str)
			}
		}
	}

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", queryStr),
		slog.Int("limit", limit))

	results, err := s.executeQuery(ctx, queryStr, limit, "docs", "", scope)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_docs failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	return FormatDocsResults(queryStr, results), nil
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns JSON-formatted index statistics including embedder capability info.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started",
		slog.String("request_id", requestID))

	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()

		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions

		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			// The live provider is whatever the config resolved to;
			// the embedder itself only knows its model name.
			actualProvider = string(embed.ParseProvider(s.config.Embeddings.Provider))
			semanticQuality = "high"
		}

		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		actualProvider = "none"
		actualModel = "none"
		dimensions = 0
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	output := &IndexStatusOutput{
		Project: *projectInfo,
		Embeddings: EmbeddingInfo{
			Provider:         s.config.Embeddings.Provider,
			Model:            s.config.Embeddings.Model,
			Status:           status,
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	if view, err := s.manager.Open(); err == nil {
		output.Stats.ChunkCount = len(view.Rows())
		output.Stats.LastIndexed = view.Manifest().CreatedAt.Format(time.RFC3339)
		_ = view.Close()
	} else {
		output.Stats.LastIndexed = time.Now().Format(time.RFC3339)
	}

	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil {
		snap := progress.Snapshot()
		output.Indexing = &IndexingProgress{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ChunksIndexed:  snap.ChunksIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	duration := time.Since(start)
	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("project_name", projectInfo.Name),
		slog.String("project_type", projectInfo.Type))

	return output, nil
}

// registerQueryMetricsResource is a placeholder hook for wiring the
// query_metrics resource into the MCP server; not yet implemented.
func (s *Server) registerQueryMetricsResource() {}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
	}, s.mcpSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language filtering.",
	}, s.mcpSearchCodeHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_code"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides.",
	}, s.mcpSearchDocsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_docs"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase snapshot is ready and which embedder is active. Use before searching to verify the snapshot is current.",
	}, s.mcpIndexStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_status"))

	s.logger.Info("MCP tools registered", slog.Int("count", 4))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	limit := 10
	if input.Limit > 0 {
		limit = input.Limit
	}

	results, err := s.executeQuery(ctx, input.Query, limit, input.Filter, input.Language, input.Scope)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	return nil, toSearchOutput(results), nil
}

// mcpSearchCodeHandler is the MCP SDK handler for the search_code tool.
func (s *Server) mcpSearchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	limit := 10
	if input.Limit > 0 {
		limit = input.Limit
	}

	results, err := s.executeQuery(ctx, input.Query, limit, "code", input.Language, input.Scope)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	return nil, toSearchOutput(results), nil
}

// mcpSearchDocsHandler is the MCP SDK handler for the search_docs tool.
func (s *Server) mcpSearchDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	limit := 10
	if input.Limit > 0 {
		limit = input.Limit
	}

	results, err := s.executeQuery(ctx, input.Query, limit, "docs", "", input.Scope)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	return nil, toSearchOutput(results), nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources: one per live path_key in
// the active snapshot.
func (s *Server) ListResources(_ context.Context, _ string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view, err := s.manager.Open()
	if err != nil {
		return nil, "", err
	}
	defer view.Close()

	seen := make(map[string]bool)
	var resources []ResourceInfo
	for _, row := range view.Rows() {
		if seen[row.PathKey] {
			continue
		}
		seen[row.PathKey] = true
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", row.PathKey),
			Name:     row.PathKey,
			MIMEType: mimeTypeForLanguage(row.Language),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI, resolving a chunk://<row_id> URI
// against the active snapshot's live rows.
func (s *Server) ReadResource(_ context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rowID string
	switch {
	case strings.HasPrefix(uri, "chunk://"):
		rowID = strings.TrimPrefix(uri, "chunk://")
	default:
		return nil, NewResourceNotFoundError(uri)
	}

	view, err := s.manager.Open()
	if err != nil {
		return nil, err
	}
	defer view.Close()

	for _, row := range view.Rows() {
		if row.RowID == rowID {
			return &ResourceContent{
				URI:      uri,
				Content:  row.Text,
				MIMEType: mimeTypeForLanguage(row.Language),
			}, nil
		}
	}

	return nil, NewResourceNotFoundError(uri)
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	return nil
}

// isDocPath reports whether path's extension marks it as documentation
// rather than code.
func isDocPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdx", ".rst", ".txt":
		return true
	default:
		return false
	}
}

// languageForPath infers a language name from a file extension, the same
// mapping search_code's language filter is specified against.
func languageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".md", ".mdx":
		return "markdown"
	default:
		return ""
	}
}

// mimeTypeForLanguage returns the MIME type for a programming language.
func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
