package rpc

import (
	"bytes"
	"encoding/json"
)

// Canonicalize re-encodes a JSON document with object keys sorted and
// insignificant whitespace removed, so that semantically equal request bodies
// produce the same bytes. Numbers are preserved verbatim via json.Number.
// Invalid JSON is returned unchanged; the caller will reject it separately.
func Canonicalize(body []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return body
	}
	// encoding/json sorts map keys during marshal, which is exactly the
	// canonical form we need.
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
