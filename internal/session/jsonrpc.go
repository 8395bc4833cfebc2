package session

import (
	"context"
	"encoding/json"
)

// Request is a JSON-RPC 2.0 request or notification (ID is nil for the
// latter), grounded on mcp-north-cloud/internal/mcp.Request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object (§6.3, §7).
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error codes per §6.3/§7.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeApplicationError is the low end of the -32000..-32099
	// application-defined range.
	CodeApplicationError = -32000
)

// IsNotification reports whether req carries no ID and therefore expects no
// response (§6.3).
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

func errorResponse(id any, code int, message string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultResponse(id any, result any) *Response {
	payload, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, CodeInternalError, "marshal result: "+err.Error())
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: payload}
}

// Dispatcher routes a decoded JSON-RPC request to application logic (task
// execution, job control, etc.); internal/api supplies the concrete
// implementation. Handle must not block past ctx's deadline.
type Dispatcher interface {
	Handle(ctx context.Context, sessionID string, req *Request) *Response
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, sessionID string, req *Request) *Response

func (f DispatcherFunc) Handle(ctx context.Context, sessionID string, req *Request) *Response {
	return f(ctx, sessionID, req)
}
