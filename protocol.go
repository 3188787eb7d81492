package toolrt

import (
	"encoding/json"
	"fmt"
)

// JSONRPCMessage represents a JSON-RPC 2.0 message. It can represent either a
// request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs. It may be a string or a
	// number on the wire; the raw bytes are kept so responses echo the id with
	// the exact type the client sent. Strict clients match ids by value and
	// type.
	ID json.RawMessage `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol,
// following the standard error object format.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error. The value is
	// unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a JSON object of argument name-value pairs. Must satisfy
	// required arguments defined in the tool's InputSchema field.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult represents the outcome of a tool invocation.
// IsError indicates whether the operation failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// ContentType represents the type of content in tool results.
type ContentType string

// Content types that may appear in a CallToolResult.
const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// Content represents one typed block in a tool result.
type Content struct {
	Type ContentType `json:"type"`

	// For ContentTypeText
	Text string `json:"text,omitempty"`

	// For ContentTypeImage
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Tool describes a callable tool with its input schema.
// InputSchema defines the expected format of arguments for tools/call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult represents the catalog returned by tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// BatchCallItem is one entry in a tools/batch request. CallID is the caller's
// correlation identifier, preserved verbatim in the matching BatchCallResult.
type BatchCallItem struct {
	CallID    string          `json:"callId"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// BatchCallParams contains parameters for executing several tools in one request.
// When Parallel is true the items are executed concurrently; otherwise they run
// strictly in the order given. Each item succeeds or fails independently.
type BatchCallParams struct {
	Calls    []BatchCallItem `json:"calls"`
	Parallel bool            `json:"parallel,omitempty"`
}

// BatchCallResult pairs a caller-supplied correlation id with the outcome of one
// batch item and its execution time in milliseconds.
type BatchCallResult struct {
	CallID    string         `json:"callId"`
	Result    CallToolResult `json:"result"`
	ElapsedMS int64          `json:"elapsedMs"`
}

// BatchResult represents the result of a tools/batch request. Results appear in
// the same order as the request's Calls slice.
type BatchResult struct {
	Results []BatchCallResult `json:"results"`
}

// ReadResourceParams contains parameters for retrieving a specific resource.
type ReadResourceParams struct {
	// URI is the unique identifier of the resource to retrieve.
	URI string `json:"uri"`
}

// ResourceContents represents either text or blob resource contents.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult represents the result of a resources/read request.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// Info contains metadata about a server instance.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities advertises which optional server features are available.
type ServerCapabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
}

// ToolsCapability represents tools-specific capabilities.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability represents resources-specific capabilities.
type ResourcesCapability struct{}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
	ClientInfo      Info   `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// MethodToolsList is the method name for retrieving the tool catalog.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"
	// MethodToolsBatch is the method name for invoking several tools in one request.
	MethodToolsBatch = "tools/batch"
	// MethodResourcesRead is the method name for reading the content of a resource.
	MethodResourcesRead = "resources/read"

	protocolVersion = "2024-11-05"

	methodPing       = "ping"
	methodInitialize = "initialize"

	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603
)

// TextResult builds a successful single-text-block tool result.
func TextResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
		IsError: false,
	}
}

// ErrorResult builds a failed tool result carrying a human-readable message.
func ErrorResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: text}},
		IsError: true,
	}
}

// ImageResult builds a successful tool result carrying base64 binary content.
func ImageResult(data, mimeType string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: ContentTypeImage, Data: data, MimeType: mimeType}},
		IsError: false,
	}
}

// validateRequest checks the structural invariants of an inbound request
// envelope. A zero return means the message is acceptable; otherwise the
// returned code is one of the standard JSON-RPC error codes.
func validateRequest(msg JSONRPCMessage) (int, string) {
	if msg.JSONRPC != JSONRPCVersion {
		return jsonRPCInvalidRequestCode, fmt.Sprintf("unsupported jsonrpc version %q", msg.JSONRPC)
	}
	if msg.Method == "" {
		return jsonRPCInvalidRequestCode, "missing method"
	}
	return 0, ""
}

// IsNotification reports whether msg is a notification, meaning it carries no
// usable id and must not receive a response. An explicit null id counts.
func (msg JSONRPCMessage) IsNotification() bool {
	return len(msg.ID) == 0 || string(msg.ID) == "null"
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
