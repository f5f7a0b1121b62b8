package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, length time.Duration) (*Limiter, *time.Time) {
	t.Helper()
	now := time.Now()
	l := New(length)
	l.now = func() time.Time { return now }
	t.Cleanup(l.Close)
	return l, &now
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)

	for i := 0; i < 3; i++ {
		ok, info := l.Allow("svc", "1.2.3.4", 3)
		if !ok {
			t.Fatalf("request %d blocked", i)
		}
		if info.Remaining != 2-i {
			t.Fatalf("remaining=%d, want %d", info.Remaining, 2-i)
		}
	}

	ok, info := l.Allow("svc", "1.2.3.4", 3)
	if ok {
		t.Fatal("fourth request should be blocked")
	}
	if info.Remaining != 0 || info.RetryAfter < 1 || info.RetryAfter > 60 {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestWindowRollsOver(t *testing.T) {
	l, now := newTestLimiter(t, time.Minute)

	if ok, _ := l.Allow("svc", "c", 1); !ok {
		t.Fatal("first blocked")
	}
	if ok, _ := l.Allow("svc", "c", 1); ok {
		t.Fatal("second should be blocked")
	}

	*now = now.Add(61 * time.Second)
	if ok, _ := l.Allow("svc", "c", 1); !ok {
		t.Fatal("new window should admit")
	}
}

func TestClientsAndServicesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)

	if ok, _ := l.Allow("svc-a", "client-1", 1); !ok {
		t.Fatal("blocked")
	}
	if ok, _ := l.Allow("svc-a", "client-2", 1); !ok {
		t.Fatal("other client should have its own window")
	}
	if ok, _ := l.Allow("svc-b", "client-1", 1); !ok {
		t.Fatal("other service should have its own window")
	}
	if ok, _ := l.Allow("svc-a", "client-1", 1); ok {
		t.Fatal("same pair should now be blocked")
	}
}

func TestZeroLimitDisables(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	for i := 0; i < 100; i++ {
		if ok, _ := l.Allow("svc", "c", 0); !ok {
			t.Fatal("zero limit must never block")
		}
	}
}

func TestClientKeyPreference(t *testing.T) {
	r := httptest.NewRequest("POST", "/mcp/x", nil)
	r.RemoteAddr = "10.0.0.9:5511"

	if got := ClientKey(r); got != "10.0.0.9" {
		t.Fatalf("remote addr key = %s", got)
	}

	r.Header.Set("X-Real-IP", "203.0.113.7")
	if got := ClientKey(r); got != "203.0.113.7" {
		t.Fatalf("real-ip key = %s", got)
	}

	r.Header.Set("X-Forwarded-For", "198.51.100.23, 203.0.113.7")
	if got := ClientKey(r); got != "198.51.100.23" {
		t.Fatalf("forwarded-for key = %s", got)
	}
}
