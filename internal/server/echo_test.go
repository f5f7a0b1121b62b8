package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/loykin/mcpgate/internal/manager"
	"github.com/loykin/mcpgate/internal/registry"
)

func TestMountEchoServesUnderPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)

	st, err := registry.NewSQLiteStore(registry.Config{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	mgr := manager.New(manager.Config{Store: st})
	t.Cleanup(func() { _ = mgr.StopAll(time.Second) })

	r := NewRouter(Config{Manager: mgr, Store: st, AuthDisabled: true})

	e := echo.New()
	r.MountEcho(e, "/gate")
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/gate/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prefixed health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/gate/api/services")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("prefixed api status = %d", resp.StatusCode)
	}
}
