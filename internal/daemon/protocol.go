package daemon

import (
	"encoding/json"
	"fmt"

	"github.com/ggrep/ggrep/internal/query"
)

// SupportedProtocolVersions is the protocol version range this binary
// speaks. A single-element slice today; grows when the wire format needs
// a breaking change the handshake must negotiate around.
var SupportedProtocolVersions = []int{1}

// Method is the handshake-negotiated request vocabulary. Every connection's
// first frame must be a handshake; every frame after that carries one of
// these.
type Method string

const (
	MethodHandshake Method = "handshake"
	MethodQuery     Method = "query"
	MethodStatus    Method = "status"
	MethodPing      Method = "ping"
	MethodShutdown  Method = "shutdown"
)

// HandshakeParams is the client's mandatory first message: the protocol
// versions it understands, the store it expects to be talking to, and an
// optional client id used for the admission plane's per-client fairness
// cap.
type HandshakeParams struct {
	ProtocolVersions  []int    `json:"protocol_versions"`
	StoreID           string   `json:"store_id"`
	ConfigFingerprint string   `json:"config_fingerprint"`
	ClientID          string   `json:"client_id"`
	Capabilities      []string `json:"capabilities,omitempty"`
}

// HandshakeResult is the daemon's reply: its own supported version list,
// binary version, and the store identity it actually holds, so a client can
// detect a stale or mismatched connection before issuing any query.
type HandshakeResult struct {
	ProtocolVersion   int    `json:"protocol_version"`
	BinaryVersion     string `json:"binary_version"`
	StoreID           string `json:"store_id"`
	ConfigFingerprint string `json:"config_fingerprint"`
}

// negotiateVersion picks the highest version common to both lists, per the
// handshake's selection rule. ok is false when there is no overlap.
func negotiateVersion(offered []int) (version int, ok bool) {
	supported := make(map[int]bool, len(SupportedProtocolVersions))
	for _, v := range SupportedProtocolVersions {
		supported[v] = true
	}
	for _, v := range offered {
		if supported[v] && v > version {
			version, ok = v, true
		}
	}
	return version, ok
}

// QueryParams is the wire form of query.Request: every field is a plain
// JSON-safe type so it survives the client/daemon version skew the
// handshake already bounds.
type QueryParams struct {
	Query          string `json:"query"`
	Mode           string `json:"mode,omitempty"`
	MaxResults     int    `json:"max_results,omitempty"`
	PathScope      string `json:"path_scope,omitempty"`
	Rerank         bool   `json:"rerank,omitempty"`
	Snippet        string `json:"snippet,omitempty"`
	IncludeAnchor  bool   `json:"include_anchor,omitempty"`
	Raw            bool   `json:"raw,omitempty"`
	Deterministic  bool   `json:"deterministic,omitempty"`
	QueryTimeoutMs int64  `json:"query_timeout_ms,omitempty"`
}

func (p QueryParams) toEngineRequest(clientID string) query.Request {
	return query.Request{
		Query:         p.Query,
		Mode:          query.Mode(p.Mode),
		MaxResults:    p.MaxResults,
		PathScope:     p.PathScope,
		Rerank:        p.Rerank,
		Snippet:       query.SnippetMode(p.Snippet),
		IncludeAnchor: p.IncludeAnchor,
		ClientID:      clientID,
		Raw:           p.Raw,
		Deterministic: p.Deterministic,
	}
}

// QueryResultWire is the wire form of query.Response.
type QueryResultWire struct {
	SnapshotID int64            `json:"snapshot_id"`
	Mode       string           `json:"mode"`
	LimitsHit  []string         `json:"limits_hit,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
	Confidence string           `json:"confidence"`
	Results    []QueryResultRow `json:"results"`
}

// QueryResultRow is one ranked, capped, shaped hit.
type QueryResultRow struct {
	Path        string  `json:"path"`
	StartLine   int     `json:"start_line"`
	NumLines    int     `json:"num_lines"`
	ChunkType   string  `json:"chunk_type"`
	IsAnchor    bool    `json:"is_anchor"`
	Score       float64 `json:"score"`
	Content     string  `json:"content,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	MatchReason string  `json:"match_reason,omitempty"`
}

func fromEngineResponse(resp *query.Response) *QueryResultWire {
	rows := make([]QueryResultRow, 0, len(resp.Results))
	for _, r := range resp.Results {
		rows = append(rows, QueryResultRow{
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
	return &QueryResultWire{
		SnapshotID: resp.SnapshotID,
		Mode:       string(resp.Mode),
		LimitsHit:  resp.LimitsHit,
		Warnings:   resp.Warnings,
		Confidence: string(resp.Confidence),
		Results:    rows,
	}
}

// StatusResult answers the "status" method: admission counters, lease and
// snapshot state, and the basics a CLI `ggrep daemon status` prints.
type StatusResult struct {
	Running           bool   `json:"running"`
	PID               int    `json:"pid"`
	Uptime            string `json:"uptime"`
	StoreID           string `json:"store_id"`
	ConfigFingerprint string `json:"config_fingerprint"`
	SnapshotID        int64  `json:"snapshot_id"`
	LeaseHeld         bool   `json:"lease_held"`
	StaleConfig       bool   `json:"stale_config"`
	EmbedderType      string `json:"embedder_type"`
	InFlight          int64  `json:"in_flight"`
	QueueDepth        int64  `json:"queue_depth"`
	Admitted          int64  `json:"admitted"`
	BusyTotal         int64  `json:"busy_total"`
	TimeoutTotal      int64  `json:"timeout_total"`
	SlowTotal         int64  `json:"slow_total"`
}

// PingResult answers the "ping" method.
type PingResult struct {
	Pong bool `json:"pong"`
}

// Request is one frame's envelope. Method and ID are always present;
// Params is the method-specific payload, deferred as raw JSON until the
// method is known.
type Request struct {
	Method Method          `json:"method"`
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one frame's reply envelope. Exactly one of Result/Error is
// set on a well-formed response.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload is the small client-visible error vocabulary a failed
// request carries; Code is drawn from internal/errors.ClientCode's stable
// set ("busy", "timeout", "cancelled", "invalid_request", "internal",
// "incompatible").
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMs int    `json:"retry_after_ms,omitempty"`
}

func newRequest(method Method, id string, params any) (*Request, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("daemon: marshal %s params: %w", method, err)
	}
	return &Request{Method: method, ID: id, Params: body}, nil
}

func newResultResponse(id string, result any) (*Response, error) {
	body, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("daemon: marshal result: %w", err)
	}
	return &Response{ID: id, Result: body}, nil
}

func newErrorResponse(id, code, message string, retryAfterMs int) *Response {
	return &Response{ID: id, Error: &ErrorPayload{Code: code, Message: message, RetryAfterMs: retryAfterMs}}
}

func (r *Response) decodeInto(v any) error {
	if r.Error != nil {
		return &RemoteError{Code: r.Error.Code, Message: r.Error.Message, RetryAfterMs: r.Error.RetryAfterMs}
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(r.Result, v)
}

// RemoteError wraps an ErrorPayload the daemon sent back, so a client can
// switch on Code without re-parsing the envelope.
type RemoteError struct {
	Code         string
	Message      string
	RetryAfterMs int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon: %s (%s)", e.Message, e.Code)
}
