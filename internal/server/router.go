// Package server exposes the HTTP surface: the JSON-RPC reverse proxy, the
// WebSocket upgrade path, and the authenticated management API.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcpgate/internal/cache"
	"github.com/loykin/mcpgate/internal/manager"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/ratelimit"
	"github.com/loykin/mcpgate/internal/registry"
)

// Config wires the router's collaborators.
type Config struct {
	Manager *manager.Manager
	Store   registry.Store
	Limiter *ratelimit.Limiter
	Cache   *cache.Cache

	// BasePath prefixes the management API, default "" (-> /api/...).
	BasePath string
	// UpgradePath is the WebSocket entry point, default "/ws".
	UpgradePath string
	// AuthDisabled skips API-key checks; intended for tests only.
	AuthDisabled bool

	Logger *slog.Logger
}

// Router provides embeddable HTTP handlers for the proxy and management
// surfaces.
type Router struct {
	mgr          *manager.Manager
	store        registry.Store
	limiter      *ratelimit.Limiter
	cache        *cache.Cache
	basePath     string
	upgradePath  string
	authDisabled bool
	log          *slog.Logger
}

func NewRouter(cfg Config) *Router {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	upgradePath := cfg.UpgradePath
	if upgradePath == "" {
		upgradePath = "/ws"
	}
	return &Router{
		mgr:          cfg.Manager,
		store:        cfg.Store,
		limiter:      cfg.Limiter,
		cache:        cfg.Cache,
		basePath:     sanitizeBase(cfg.BasePath),
		upgradePath:  upgradePath,
		authDisabled: cfg.AuthDisabled,
		log:          log,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())

	g.GET("/health", r.handleGlobalHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.GET(r.upgradePath, r.handleProxyWebSocket)

	api := g.Group(r.basePath+"/api", r.apiKeyAuth())
	{
		api.GET("/services", r.handleListServices)
		api.POST("/services", r.handleCreateService)
		api.GET("/services/:id", r.handleGetService)
		api.PUT("/services/:id", r.handleUpdateService)
		api.DELETE("/services/:id", r.handleDeleteService)
		api.POST("/services/:id/start", r.handleStartService)
		api.POST("/services/:id/stop", r.handleStopService)
		api.POST("/services/:id/restart", r.handleRestartService)
		api.GET("/services/:id/logs", r.handleServiceLogs)
		api.GET("/services/:id/logs/stream", r.handleLogStream)

		api.GET("/keys", r.handleListKeys)
		api.POST("/keys", r.handleCreateKey)
		api.DELETE("/keys/:id", r.handleRevokeKey)

		api.GET("/settings", r.handleListSettings)
		api.PUT("/settings", r.handleSetSetting)
	}

	// Everything else is proxy territory: POST {proxyPath}/* and the
	// per-service GET {proxyPath}/health.
	g.NoRoute(r.handleProxyFallthrough)
	return g
}

func (r *Router) handleProxyFallthrough(c *gin.Context) {
	path := c.Request.URL.Path
	switch {
	case c.Request.Method == http.MethodPost:
		r.handleProxy(c)
	case c.Request.Method == http.MethodGet && strings.HasSuffix(path, "/health"):
		r.handleServiceHealth(c, strings.TrimSuffix(path, "/health"))
	default:
		writeJSON(c, http.StatusNotFound, errorResp{Error: "not found"})
	}
}

// NewServer builds an http.Server around the router with conservative
// timeouts. WebSocket streams rule out a global write timeout.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
