package rpc

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Kind
	}{
		{"response result", `{"jsonrpc":"2.0","result":{"ok":true},"id":1}`, KindResponse},
		{"response error", `{"jsonrpc":"2.0","error":{"code":-32000,"message":"boom"},"id":"a"}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"progress","params":{"pct":50}}`, KindNotification},
		{"server request", `{"jsonrpc":"2.0","method":"roots/list","id":9}`, KindRequest},
		{"result and error", `{"jsonrpc":"2.0","result":1,"error":{"code":1,"message":"x"},"id":1}`, KindInvalid},
		{"response without id", `{"jsonrpc":"2.0","result":1}`, KindInvalid},
		{"empty object", `{}`, KindInvalid},
		{"not json", `hello world`, KindInvalid},
	}
	for _, tc := range cases {
		_, kind := Parse([]byte(tc.line))
		if kind != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, kind, tc.want)
		}
	}
}

func TestValidateRequest(t *testing.T) {
	valid := []string{
		`{"jsonrpc":"2.0","method":"ping"}`,
		`{"jsonrpc":"2.0","method":"ping","id":7}`,
		`{"jsonrpc":"2.0","method":"ping","id":"abc","params":[1,2]}`,
		`{"jsonrpc":"2.0","method":"ping","id":null}`,
	}
	for _, body := range valid {
		if _, err := ValidateRequest([]byte(body)); err != nil {
			t.Errorf("expected valid: %s: %v", body, err)
		}
	}

	invalid := []string{
		`{"jsonrpc":"1.0","method":"ping"}`,
		`{"jsonrpc":"2.0","method":""}`,
		`{"jsonrpc":"2.0"}`,
		`{"jsonrpc":"2.0","method":42}`,
		`{"jsonrpc":"2.0","method":"ping","id":{"a":1}}`,
		`{"jsonrpc":"2.0","method":"ping","id":true}`,
		`{"method":"ping"}`,
		`not json at all`,
	}
	for _, body := range invalid {
		if _, err := ValidateRequest([]byte(body)); err == nil {
			t.Errorf("expected invalid: %s", body)
		}
	}
}

func TestValidateRequestKeepsRawID(t *testing.T) {
	msg, err := ValidateRequest([]byte(`{"jsonrpc":"2.0","method":"ping","id":7}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if string(msg.ID) != "7" {
		t.Fatalf("id not preserved raw: %q", msg.ID)
	}
}

func TestCanonicalize(t *testing.T) {
	a := []byte(`{"b": 2, "a": {"y": 1, "x": [1, 2.5, "s"]}}`)
	b := []byte(`{"a":{"x":[1,2.5,"s"],"y":1},"b":2}`)
	ca := Canonicalize(a)
	cb := Canonicalize(b)
	if string(ca) != string(cb) {
		t.Fatalf("canonical forms differ: %s vs %s", ca, cb)
	}
	// Large integers must not lose precision through float64.
	big := []byte(`{"id":9007199254740993}`)
	if string(Canonicalize(big)) != `{"id":9007199254740993}` {
		t.Fatalf("number precision lost: %s", Canonicalize(big))
	}
}

func TestErrorResponse(t *testing.T) {
	b := ErrorResponse(json.RawMessage("7"), CodeInvalidRequest, "Invalid Request")
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Error == nil || m.Error.Code != CodeInvalidRequest {
		t.Fatalf("unexpected error member: %+v", m.Error)
	}
	if string(m.ID) != "7" {
		t.Fatalf("id not echoed: %q", m.ID)
	}
	// Missing id becomes null.
	b = ErrorResponse(nil, CodeInternal, "Internal error")
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(m.ID) != "null" {
		t.Fatalf("missing id should render null, got %q", m.ID)
	}
}

func TestNumberID(t *testing.T) {
	for _, n := range []uint64{0, 1, 42, 18446744073709551615} {
		var back uint64
		if err := json.Unmarshal(NumberID(n), &back); err != nil || back != n {
			t.Fatalf("NumberID(%d) round-trip failed: %v", n, err)
		}
	}
}
