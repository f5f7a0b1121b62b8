package rpc

import "encoding/json"

// RewriteID returns body with its id member replaced by newID, along with the
// original raw id (nil when absent). Used by the supervisor to guarantee
// unique outstanding ids on the child's wire.
func RewriteID(body, newID json.RawMessage) ([]byte, json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil, err
	}
	orig := obj["id"]
	obj["id"] = newID
	out, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, err
	}
	return out, orig, nil
}

// RestoreID returns resp with its id member replaced by orig so the caller
// sees the id it sent. A nil orig renders null per JSON-RPC 2.0. Malformed
// responses pass through unchanged.
func RestoreID(resp, orig json.RawMessage) []byte {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(resp, &obj); err != nil {
		return resp
	}
	if orig == nil {
		obj["id"] = json.RawMessage("null")
	} else {
		obj["id"] = orig
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return resp
	}
	return out
}
