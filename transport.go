package toolrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmaxmax/go-sse"
)

// RequestHandler processes one decoded JSON-RPC request and returns the
// response envelope to write back. Whatever composes the transport with a
// registry supplies it; the transport itself knows nothing about methods.
type RequestHandler func(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage

// SessionIDHeader is the response header carrying the SSE session id.
const SessionIDHeader = "X-Session-Id"

// HTTPServer is the wire transport: it accepts connections on a configured
// address, decodes JSON-RPC envelopes from POST bodies, exposes a streaming
// SSE channel for server-initiated events, and serves health and metrics
// endpoints. Instances are created with NewHTTPServer and shut down with Stop,
// which is idempotent.
type HTTPServer struct {
	addr         string
	info         Info
	handler      RequestHandler
	monitor      *Monitor
	logger       *slog.Logger
	pingInterval time.Duration

	httpServer *http.Server
	listener   net.Listener

	sessions  sync.Map // session id -> *sseSession
	startedAt time.Time
	requests  atomic.Int64

	stopOnce sync.Once
	done     chan struct{}
}

type sseSession struct {
	id   string
	sess *sse.Session

	// mu serializes Send+Flush pairs; the sse library is not safe for
	// concurrent writers on one session.
	mu sync.Mutex
}

func (s *sseSession) send(eventType string, data string) error {
	msg := &sse.Message{Type: sse.Type(eventType)}
	msg.AppendData(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sess.Send(msg); err != nil {
		return err
	}
	return s.sess.Flush()
}

// HTTPServerOption configures an HTTPServer.
type HTTPServerOption func(*HTTPServer)

// WithTransportLogger sets the logger used for transport diagnostics.
func WithTransportLogger(l *slog.Logger) HTTPServerOption {
	return func(s *HTTPServer) { s.logger = l }
}

// WithPingInterval sets the keep-alive cadence on SSE sessions. Default: 15s.
func WithPingInterval(d time.Duration) HTTPServerOption {
	return func(s *HTTPServer) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithHealthMonitor attaches a Monitor whose status enriches the health
// endpoints.
func WithHealthMonitor(m *Monitor) HTTPServerOption {
	return func(s *HTTPServer) { s.monitor = m }
}

// NewHTTPServer creates the transport listening on addr once started. handler
// receives every decoded RPC request.
func NewHTTPServer(addr string, info Info, handler RequestHandler, options ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{
		addr:         addr,
		info:         info,
		handler:      handler,
		logger:       slog.Default(),
		pingInterval: 15 * time.Second,
		startedAt:    time.Now(),
		done:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Handler returns the full route table as an http.Handler, usable directly
// with httptest or an embedding HTTP server.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/health", s.handleStatus)
	mux.HandleFunc("/mcp", s.handleRPC)
	mux.HandleFunc("/message", s.handleRPC)
	mux.HandleFunc("/sse", s.handleSSE)
	mux.HandleFunc("/mcp/sse", s.handleSSE)
	mux.Handle("/metrics", promhttp.Handler())
	return s.withCommonHeaders(mux)
}

// Start binds the listening socket and begins serving in the background. A
// bind failure is returned to the caller; serve-loop faults are logged and do
// not terminate the process.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("transport serve loop ended", "err", err)
		}
	}()

	s.logger.Info("transport listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *HTTPServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop cancels the accept loop, closes every open streaming session and
// releases the socket. It is safe to call multiple times.
func (s *HTTPServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		s.logger.Info("transport stopped")
	})
	return err
}

// Broadcast pushes an event to every open SSE session. Sessions that fail to
// receive are logged and skipped; delivery is best effort.
func (s *HTTPServer) Broadcast(eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("broadcast payload not serializable", "event", eventType, "err", err)
		return
	}

	s.sessions.Range(func(_, value any) bool {
		sess := value.(*sseSession)
		if err := sess.send(eventType, string(data)); err != nil {
			s.logger.Warn("broadcast delivery failed", "session", sess.id, "err", err)
		}
		return true
	})
}

// SessionCount returns the number of open SSE sessions.
func (s *HTTPServer) SessionCount() int {
	n := 0
	s.sessions.Range(func(any, any) bool { n++; return true })
	return n
}

// withCommonHeaders wraps next with the permissive cross-origin policy and
// identifying server headers every response carries, and answers preflight
// requests with no body.
func (s *HTTPServer) withCommonHeaders(next http.Handler) http.Handler {
	serverID := fmt.Sprintf("%s/%s", s.info.Name, s.info.Version)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("X-Server", serverID)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/health" {
		http.NotFound(w, r)
		return
	}

	status := map[string]any{
		"server":        s.info.Name,
		"version":       s.info.Version,
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"connections":   s.SessionCount(),
		"requests":      s.requests.Load(),
	}
	if s.monitor != nil {
		status["status"] = s.monitor.QuickStatus()
		if r.URL.Query().Get("full") == "true" {
			status["report"] = s.monitor.FullReport()
		}
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleMetadata(w)
	case http.MethodPost:
		s.handleRPCPost(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleMetadata serves static server/protocol information on GET.
func (s *HTTPServer) handleMetadata(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"serverInfo":      s.info,
		"protocolVersion": protocolVersion,
		"capabilities": ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
	})
}

func (s *HTTPServer) handleRPCPost(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, jsonRPCParseErrorCode, "failed to read request body"))
		return
	}

	var msg JSONRPCMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, jsonRPCParseErrorCode, "parse error"))
		return
	}
	if code, reason := validateRequest(msg); code != 0 {
		writeJSON(w, http.StatusOK, errorResponse(msg.ID, code, reason))
		return
	}

	resp := s.handler(r.Context(), msg)

	// Notifications get no response body.
	if msg.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	sessID := uuid.New().String()
	w.Header().Set(SessionIDHeader, sessID)

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Error("failed to upgrade SSE session", "err", err)
		http.Error(w, "failed to upgrade session", http.StatusInternalServerError)
		return
	}

	srvSess := &sseSession{id: sessID, sess: sess}
	s.sessions.Store(sessID, srvSess)
	defer func() {
		s.sessions.Delete(sessID)
		s.logger.Debug("SSE session closed", "session", sessID)
	}()

	connected, _ := json.Marshal(map[string]string{"sessionId": sessID, "server": s.info.Name})
	if err := srvSess.send("connected", string(connected)); err != nil {
		s.logger.Warn("failed to send connected event", "session", sessID, "err", err)
		return
	}
	s.logger.Info("SSE session opened", "session", sessID)

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			ping, _ := json.Marshal(map[string]int64{"uptimeSeconds": int64(time.Since(s.startedAt).Seconds())})
			if err := srvSess.send("ping", string(ping)); err != nil {
				// Client is gone; the request context will cancel shortly.
				return
			}
		}
	}
}

// errorResponse builds an error envelope echoing the request's raw id. When
// the id could not be determined the response carries an explicit null, as the
// protocol requires.
func errorResponse(id json.RawMessage, code int, message string) JSONRPCMessage {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to write response", "err", err)
	}
}
