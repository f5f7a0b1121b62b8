package rpc

import (
	"bytes"
	"encoding/json"
)

// Version is the only protocol version accepted on the wire.
const Version = "2.0"

// Kind classifies a parsed wire message.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// ErrorObject is the JSON-RPC 2.0 error member.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is a decoded JSON-RPC 2.0 envelope. ID, Params and Result are kept
// raw so that responses can be forwarded byte-exact through the cache layer.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// HasID reports whether the message carries a non-null id member.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(m.ID, []byte("null"))
}

// Classify determines the variant of an already-decoded message.
// A message with an id and exactly one of result/error is a response;
// a message with a method and no id is a notification; a message with both
// method and id is a server-initiated request. Anything else is invalid.
func (m *Message) Classify() Kind {
	hasResult := len(m.Result) > 0
	hasError := m.Error != nil
	switch {
	case hasResult || hasError:
		if m.HasID() && !(hasResult && hasError) {
			return KindResponse
		}
		return KindInvalid
	case m.Method != "":
		if m.HasID() {
			return KindRequest
		}
		return KindNotification
	default:
		return KindInvalid
	}
}

// Parse decodes one wire line into a Message and classifies it.
// A decode failure yields (nil, KindInvalid).
func Parse(line []byte) (*Message, Kind) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, KindInvalid
	}
	return &m, m.Classify()
}

// looseEnvelope mirrors the request envelope with raw members so that type
// violations (e.g. a numeric method) surface as validation errors instead of
// decode errors.
type looseEnvelope struct {
	JSONRPC json.RawMessage `json:"jsonrpc"`
	Method  json.RawMessage `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// ValidateRequest checks an inbound HTTP body against the request envelope
// rules: jsonrpc must be the string "2.0", method a non-empty string, id a
// string, number or absent. It returns the decoded request on success.
func ValidateRequest(body []byte) (*Message, error) {
	var le looseEnvelope
	if err := json.Unmarshal(body, &le); err != nil {
		return nil, ErrInvalidRequest
	}
	var version string
	if err := json.Unmarshal(le.JSONRPC, &version); err != nil || version != Version {
		return nil, ErrInvalidRequest
	}
	var method string
	if err := json.Unmarshal(le.Method, &method); err != nil || method == "" {
		return nil, ErrInvalidRequest
	}
	if len(le.ID) > 0 && !bytes.Equal(le.ID, []byte("null")) {
		if !validID(le.ID) {
			return nil, ErrInvalidRequest
		}
	}
	return &Message{JSONRPC: version, Method: method, Params: le.Params, ID: le.ID}, nil
}

// validID accepts a JSON string or number.
func validID(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch trimmed[0] {
	case '"':
		var s string
		return json.Unmarshal(trimmed, &s) == nil
	case '{', '[', 't', 'f', 'n':
		return false
	default:
		var f float64
		return json.Unmarshal(trimmed, &f) == nil
	}
}

// Encode serialises a message for the wire without a trailing newline.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// NumberID renders n as a JSON number id.
func NumberID(n uint64) json.RawMessage {
	return json.RawMessage(jsonUint(n))
}

func jsonUint(n uint64) []byte {
	if n == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[i:]
}
