package cache

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) (*Cache, *time.Time) {
	t.Helper()
	now := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return now }
	t.Cleanup(c.Close)
	return c, &now
}

func TestFingerprintCanonicalises(t *testing.T) {
	a := Fingerprint("svc", []byte(`{"jsonrpc":"2.0","id":1,"method":"m","params":{"a":1,"b":2}}`))
	b := Fingerprint("svc", []byte(`{ "params": {"b":2, "a":1}, "method":"m", "id":1, "jsonrpc":"2.0" }`))
	if a != b {
		t.Fatal("semantically equal bodies should share a fingerprint")
	}

	other := Fingerprint("svc", []byte(`{"jsonrpc":"2.0","id":2,"method":"m"}`))
	if a == other {
		t.Fatal("different bodies should not collide")
	}
	otherService := Fingerprint("svc2", []byte(`{"jsonrpc":"2.0","id":1,"method":"m","params":{"a":1,"b":2}}`))
	if a == otherService {
		t.Fatal("fingerprints must be service-scoped")
	}
}

func TestGetPutAndExpiry(t *testing.T) {
	c, now := newTestCache(t)

	fp := Fingerprint("svc", []byte(`{"jsonrpc":"2.0","id":1,"method":"m"}`))
	res := []byte(`{"jsonrpc":"2.0","id":1,"result":"ok"}`)
	c.Put(fp, res, 30*time.Second)

	got, ok := c.Get(fp)
	if !ok || string(got) != string(res) {
		t.Fatalf("get: ok=%v body=%s", ok, got)
	}

	*now = now.Add(31 * time.Second)
	if _, ok := c.Get(fp); ok {
		t.Fatal("expired entry served")
	}
}

func TestErrorResponsesNeverCached(t *testing.T) {
	c, _ := newTestCache(t)
	fp := "fp"
	c.Put(fp, []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32603,"message":"boom"}}`), time.Minute)
	if _, ok := c.Get(fp); ok {
		t.Fatal("error response was cached")
	}
	if c.Len() != 0 {
		t.Fatalf("len=%d, want 0", c.Len())
	}
}

func TestZeroTTLDisables(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("fp", []byte(`{"jsonrpc":"2.0","id":1,"result":1}`), 0)
	if c.Len() != 0 {
		t.Fatal("zero TTL should not store")
	}
}

func TestCachedBytesAreIsolated(t *testing.T) {
	c, _ := newTestCache(t)
	body := []byte(`{"jsonrpc":"2.0","id":1,"result":"x"}`)
	c.Put("fp", body, time.Minute)
	body[len(body)-2] = 'y'

	got, ok := c.Get("fp")
	if !ok || string(got) != `{"jsonrpc":"2.0","id":1,"result":"x"}` {
		t.Fatalf("stored bytes were aliased: %s", got)
	}
}
