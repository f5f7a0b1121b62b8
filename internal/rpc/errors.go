package rpc

import (
	"encoding/json"
	"errors"
)

// JSON-RPC 2.0 error codes used at the proxy boundary.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

// Sentinel errors forming the proxy error taxonomy. They are produced deep in
// the supervisor/framer and translated to HTTP + JSON-RPC envelopes at the
// router boundary.
var (
	ErrNotFound        = errors.New("service not found")
	ErrIllegalState    = errors.New("service is not running")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrInvalidRequest  = errors.New("invalid request envelope")
	ErrInvalidParams   = errors.New("invalid params")
	ErrTimeout         = errors.New("request timed out")
	ErrTransportClosed = errors.New("transport closed")
	ErrUnauthorized    = errors.New("unauthorized")
)

// ErrorResponse builds a serialised JSON-RPC error envelope echoing id.
// A missing id is rendered as null per JSON-RPC 2.0.
func ErrorResponse(id json.RawMessage, code int, message string) []byte {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	resp := Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
	b, _ := json.Marshal(resp)
	return b
}
