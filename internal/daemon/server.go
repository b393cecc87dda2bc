package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	ggreperrors "github.com/ggrep/ggrep/internal/errors"
	qerr "github.com/ggrep/ggrep/internal/query"
	"github.com/ggrep/ggrep/pkg/version"
)

// Handler serves the methods a connection may issue once it has
// completed the handshake.
type Handler interface {
	StoreID() string
	ConfigFingerprint() string
	HandleQuery(ctx context.Context, clientID string, params QueryParams) (*QueryResultWire, error)
	Status() StatusResult
}

// Server listens on a Unix socket and speaks the framed, handshake-first
// protocol: each connection is persistent, starts with a mandatory
// handshake, and may then issue any number of ping/status/query/shutdown
// requests until the peer disconnects.
type Server struct {
	socketPath       string
	maxRequestBytes  int
	maxResponseBytes int

	handler  Handler
	listener net.Listener
	started  time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath once
// ListenAndServe is called. maxRequestBytes/maxResponseBytes of 0 disable
// the corresponding size check.
func NewServer(socketPath string, maxRequestBytes, maxResponseBytes int) (*Server, error) {
	return &Server{
		socketPath:       socketPath,
		maxRequestBytes:  maxRequestBytes,
		maxResponseBytes: maxResponseBytes,
	}, nil
}

// SetHandler sets the request handler.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon server listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("daemon accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

// handleConnection owns one client connection end to end: the mandatory
// handshake first, then any number of framed requests until the peer
// disconnects, the context is cancelled, or a shutdown request arrives.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientID := ""
	handshakeDone := false

	for {
		if err := conn.SetDeadline(time.Now().Add(5 * time.Minute)); err != nil {
			slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
		}

		frame, err := ReadFrame(conn, s.maxRequestBytes)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			s.writeResponse(conn, newErrorResponse("", "invalid_request", "malformed request frame", 0))
			return
		}

		if !handshakeDone {
			if req.Method != MethodHandshake {
				s.writeResponse(conn, newErrorResponse(req.ID, "invalid_request", "handshake must be the first message", 0))
				return
			}
			resp, hp, ok := s.handleHandshake(req)
			s.writeResponse(conn, resp)
			if !ok {
				return
			}
			handshakeDone = true
			clientID = hp.ClientID
			continue
		}

		resp := s.handleRequest(ctx, clientID, req)
		s.writeResponse(conn, resp)
		if req.Method == MethodShutdown {
			return
		}
	}
}

func (s *Server) handleHandshake(req Request) (*Response, HandshakeParams, bool) {
	var hp HandshakeParams
	if err := json.Unmarshal(req.Params, &hp); err != nil {
		return newErrorResponse(req.ID, "invalid_request", "malformed handshake params", 0), hp, false
	}

	negotiated, ok := negotiateVersion(hp.ProtocolVersions)
	if !ok {
		return newErrorResponse(req.ID, "incompatible", "no protocol version in common", 0), hp, false
	}

	if s.handler != nil {
		if hp.StoreID != "" && hp.StoreID != s.handler.StoreID() {
			return newErrorResponse(req.ID, "invalid_request", "store_id mismatch", 0), hp, false
		}
		if hp.ConfigFingerprint != "" && hp.ConfigFingerprint != s.handler.ConfigFingerprint() {
			return newErrorResponse(req.ID, "invalid_request", "config_fingerprint mismatch", 0), hp, false
		}
	}

	result := HandshakeResult{ProtocolVersion: negotiated, BinaryVersion: version.Version}
	if s.handler != nil {
		result.StoreID = s.handler.StoreID()
		result.ConfigFingerprint = s.handler.ConfigFingerprint()
	}
	resp, err := newResultResponse(req.ID, result)
	if err != nil {
		return newErrorResponse(req.ID, "internal", err.Error(), 0), hp, false
	}
	return resp, hp, true
}

func (s *Server) handleRequest(ctx context.Context, clientID string, req Request) *Response {
	switch req.Method {
	case MethodPing:
		resp, _ := newResultResponse(req.ID, PingResult{Pong: true})
		return resp

	case MethodStatus:
		resp, err := newResultResponse(req.ID, s.status())
		if err != nil {
			return newErrorResponse(req.ID, "internal", err.Error(), 0)
		}
		return resp

	case MethodQuery:
		return s.handleQuery(ctx, clientID, req)

	case MethodShutdown:
		resp, _ := newResultResponse(req.ID, PingResult{Pong: true})
		return resp

	default:
		return newErrorResponse(req.ID, "invalid_request", fmt.Sprintf("method not found: %s", req.Method), 0)
	}
}

func (s *Server) handleQuery(ctx context.Context, clientID string, req Request) *Response {
	if s.handler == nil {
		return newErrorResponse(req.ID, "internal", "no query handler configured", 0)
	}

	var params QueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return newErrorResponse(req.ID, "invalid_request", "failed to decode query params", 0)
	}

	result, err := s.handler.HandleQuery(ctx, clientID, params)
	if err != nil {
		return errorResponseFromErr(req.ID, err)
	}

	resp, err := newResultResponse(req.ID, result)
	if err != nil {
		return newErrorResponse(req.ID, "internal", err.Error(), 0)
	}
	return resp
}

// errorResponseFromErr maps a query/admission failure onto the client
// error vocabulary the protocol exposes.
func errorResponseFromErr(id string, err error) *Response {
	var qe *qerr.Error
	if errors.As(err, &qe) {
		return newErrorResponse(id, string(qe.Code), qe.Message, 0)
	}

	var ae *ggreperrors.GgrepError
	if errors.As(err, &ae) {
		retry := 0
		if v, ok := ae.Details["retry_after_ms"]; ok {
			fmt.Sscanf(v, "%d", &retry)
		}
		return newErrorResponse(id, ae.ClientCode(), ae.Message, retry)
	}

	return newErrorResponse(id, "internal", err.Error(), 0)
}

func (s *Server) status() StatusResult {
	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
	if s.handler != nil {
		handlerStatus := s.handler.Status()
		status.StoreID = handlerStatus.StoreID
		status.ConfigFingerprint = handlerStatus.ConfigFingerprint
		status.SnapshotID = handlerStatus.SnapshotID
		status.LeaseHeld = handlerStatus.LeaseHeld
		status.StaleConfig = handlerStatus.StaleConfig
		status.EmbedderType = handlerStatus.EmbedderType
		status.InFlight = handlerStatus.InFlight
		status.QueueDepth = handlerStatus.QueueDepth
		status.Admitted = handlerStatus.Admitted
		status.BusyTotal = handlerStatus.BusyTotal
		status.TimeoutTotal = handlerStatus.TimeoutTotal
		status.SlowTotal = handlerStatus.SlowTotal
	}
	return status
}

func (s *Server) writeResponse(conn net.Conn, resp *Response) {
	body, err := json.Marshal(resp)
	if err != nil {
		slog.Error("daemon: failed to marshal response", slog.String("error", err.Error()))
		return
	}
	if err := WriteFrame(conn, body, s.maxResponseBytes); err != nil {
		slog.Warn("daemon: failed to write response frame", slog.String("error", err.Error()))
	}
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
