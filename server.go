package toolrt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Server exposes a Runtime over the wire transport. It owns the JSON-RPC
// method dispatch and the built-in introspection resources, and broadcasts a
// toolsChanged event whenever the catalog changes.
type Server struct {
	info      Info
	rt        *Runtime
	transport *HTTPServer
	logger    *slog.Logger

	resources map[string]func() (any, error)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger used for server diagnostics.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer composes rt with a wire transport configured from cfg.
func NewServer(cfg *Config, rt *Runtime, options ...ServerOption) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Server{
		info: Info{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
		},
		rt:     rt,
		logger: slog.Default(),
	}
	if s.info.Name == "" {
		s.info.Name = "go-toolrt"
	}
	for _, opt := range options {
		opt(s)
	}

	transportOpts := []HTTPServerOption{
		WithTransportLogger(s.logger),
		WithHealthMonitor(rt.Monitor),
	}
	if d := cfg.Server.PingInterval.Std(); d > 0 {
		transportOpts = append(transportOpts, WithPingInterval(d))
	}
	s.transport = NewHTTPServer(cfg.Server.ListenAddr, s.info, s.handleMessage, transportOpts...)

	s.resources = map[string]func() (any, error){
		"toolrt://stats":    func() (any, error) { return rt.Registry.Stats(), nil },
		"toolrt://health":   func() (any, error) { return rt.Monitor.FullReport(), nil },
		"toolrt://circuits": func() (any, error) { return rt.Breakers.OpenCircuits(), nil },
		"toolrt://cache":    func() (any, error) { return rt.Cache.Stats(), nil },
	}

	rt.Registry.Subscribe(func(ev Event) {
		if ev.Kind != EventRegistered && ev.Kind != EventUnregistered {
			return
		}
		s.transport.Broadcast("toolsChanged", map[string]any{
			"tool":  ev.Tool,
			"count": rt.Registry.Len(),
		})
	})

	return s
}

// Transport returns the underlying wire transport.
func (s *Server) Transport() *HTTPServer { return s.transport }

// Handler returns the transport's route table, usable directly with httptest.
func (s *Server) Handler() http.Handler { return s.transport.Handler() }

// Start binds the transport socket. The executor is not started; call Run or
// drive Runtime.Executor separately.
func (s *Server) Start() error { return s.transport.Start() }

// Stop shuts the transport down. Safe to call multiple times.
func (s *Server) Stop(ctx context.Context) error { return s.transport.Stop(ctx) }

// Run starts the transport, drives the executor until ctx is cancelled, then
// stops the transport.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	s.rt.Run(ctx)
	return s.Stop(context.Background())
}

// handleMessage routes one validated request envelope to the matching
// operation.
func (s *Server) handleMessage(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	switch msg.Method {
	case methodInitialize:
		return s.handleInitialize(msg)
	case methodPing:
		return resultResponse(msg.ID, struct{}{})
	case MethodToolsList:
		return resultResponse(msg.ID, ListToolsResult{Tools: s.rt.Registry.List()})
	case MethodToolsCall:
		return s.handleToolsCall(ctx, msg)
	case MethodToolsBatch:
		return s.handleToolsBatch(ctx, msg)
	case MethodResourcesRead:
		return s.handleResourcesRead(msg)
	default:
		return errorResponse(msg.ID, jsonRPCMethodNotFoundCode,
			fmt.Sprintf("method not found: %s", msg.Method))
	}
}

func (s *Server) handleInitialize(msg JSONRPCMessage) JSONRPCMessage {
	var params initializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "malformed initialize params")
		}
	}
	s.logger.Info("client initialized",
		"client", params.ClientInfo.Name,
		"clientVersion", params.ClientInfo.Version,
		"protocolVersion", params.ProtocolVersion)

	return resultResponse(msg.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: ServerCapabilities{
			Tools:     &ToolsCapability{ListChanged: true},
			Resources: &ResourcesCapability{},
		},
		ServerInfo: s.info,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "malformed tools/call params")
	}
	if params.Name == "" {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "tools/call requires a tool name")
	}

	result := s.rt.Registry.Execute(ctx, params.Name, params.Arguments)
	return resultResponse(msg.ID, result)
}

func (s *Server) handleToolsBatch(ctx context.Context, msg JSONRPCMessage) JSONRPCMessage {
	var params BatchCallParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "malformed tools/batch params")
	}
	if len(params.Calls) == 0 {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "tools/batch requires at least one call")
	}

	results := s.rt.Registry.ExecuteBatch(ctx, params.Calls, params.Parallel)
	return resultResponse(msg.ID, BatchResult{Results: results})
}

// handleResourcesRead serves the built-in introspection resources. Each
// resource snapshot is rendered as a JSON text document.
func (s *Server) handleResourcesRead(msg JSONRPCMessage) JSONRPCMessage {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode, "malformed resources/read params")
	}

	fetch, ok := s.resources[params.URI]
	if !ok {
		return errorResponse(msg.ID, jsonRPCInvalidParamsCode,
			fmt.Sprintf("unknown resource: %s", params.URI))
	}

	snapshot, err := fetch()
	if err != nil {
		return errorResponse(msg.ID, jsonRPCInternalErrorCode, err.Error())
	}
	text, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errorResponse(msg.ID, jsonRPCInternalErrorCode, err.Error())
	}

	return resultResponse(msg.ID, ReadResourceResult{
		Contents: []ResourceContents{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     string(text),
		}},
	})
}

// resultResponse builds a success envelope echoing the request's raw id, so a
// numeric id comes back as a number and a string id as a string.
func resultResponse(id json.RawMessage, result any) JSONRPCMessage {
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, jsonRPCInternalErrorCode, "failed to encode result")
	}
	return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Result: raw}
}
