package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/mcpgate/internal/cache"
	"github.com/loykin/mcpgate/internal/metrics"
	"github.com/loykin/mcpgate/internal/ratelimit"
	"github.com/loykin/mcpgate/internal/rpc"
	"github.com/loykin/mcpgate/internal/supervisor"
)

// maxBodyBytes caps an inbound proxy request body.
const maxBodyBytes = 10 << 20

// handleProxy runs the data-plane pipeline: resolve, rate-limit, validate,
// cache, forward.
func (r *Router) handleProxy(c *gin.Context) {
	path := c.Request.URL.Path

	sup, ok := r.mgr.Resolve(path)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no service mounted at " + path})
		return
	}
	def := sup.Definition()

	allowed, info := r.limiter.Allow(def.ID, ratelimit.ClientKey(c.Request), def.RateLimit)
	setRateLimitHeaders(c, info)
	if !allowed {
		metrics.IncRateLimited(def.ID)
		metrics.IncProxyRequest(def.ID, "rate_limited")
		c.Header("Retry-After", strconv.Itoa(info.RetryAfter))
		writeJSON(c, http.StatusTooManyRequests, errorResp{Error: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "read body: " + err.Error()})
		return
	}

	req, err := rpc.ValidateRequest(body)
	if err != nil {
		metrics.IncProxyRequest(def.ID, "invalid")
		writeRaw(c, http.StatusBadRequest,
			rpc.ErrorResponse(nil, rpc.CodeInvalidRequest, "Invalid Request"))
		return
	}

	cacheable := !def.CacheDisabled && def.CacheTTL > 0 && r.cache != nil
	var fingerprint string
	if cacheable {
		fingerprint = cache.Fingerprint(def.ID, body)
		if cached, hit := r.cache.Get(fingerprint); hit {
			metrics.IncCacheHit(def.ID)
			metrics.IncProxyRequest(def.ID, "cache_hit")
			c.Header("X-Cache", "HIT")
			writeRaw(c, http.StatusOK, cached)
			return
		}
		metrics.IncCacheMiss(def.ID)
	}

	if snap := sup.Status(); snap.State != supervisor.StateRunning {
		metrics.IncProxyRequest(def.ID, "unavailable")
		writeJSON(c, http.StatusServiceUnavailable, gin.H{
			"error":     "service is not running",
			"status":    snap.State.String(),
			"lastError": snap.LastError,
		})
		return
	}

	started := time.Now()
	resp, err := sup.Send(c.Request.Context(), body)
	metrics.ObserveProxyDuration(def.ID, time.Since(started).Seconds())
	if err != nil {
		r.writeUpstreamError(c, def.ID, req.ID, err)
		return
	}

	metrics.IncProxyRequest(def.ID, "ok")
	if cacheable {
		r.cache.Put(fingerprint, resp, def.CacheTTLDuration())
	}
	c.Header("X-Cache", "MISS")
	writeRaw(c, http.StatusOK, resp)
}

func (r *Router) writeUpstreamError(c *gin.Context, serviceID string, id []byte, err error) {
	switch {
	case errors.Is(err, rpc.ErrTimeout):
		metrics.IncProxyRequest(serviceID, "timeout")
		writeRaw(c, http.StatusGatewayTimeout,
			rpc.ErrorResponse(id, rpc.CodeInternal, "Internal error: request timed out"))
	case errors.Is(err, rpc.ErrTransportClosed):
		metrics.IncProxyRequest(serviceID, "transport_closed")
		writeRaw(c, http.StatusBadGateway,
			rpc.ErrorResponse(id, rpc.CodeInternal, "Internal error: transport closed"))
	case errors.Is(err, rpc.ErrIllegalState):
		metrics.IncProxyRequest(serviceID, "unavailable")
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "service is not running"})
	default:
		metrics.IncProxyRequest(serviceID, "error")
		writeRaw(c, http.StatusInternalServerError,
			rpc.ErrorResponse(id, rpc.CodeInternal, "Internal error"))
	}
}

func setRateLimitHeaders(c *gin.Context, info ratelimit.Info) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(info.Reset, 10))
}

// handleServiceHealth serves GET {proxyPath}/health.
func (r *Router) handleServiceHealth(c *gin.Context, proxyPath string) {
	sup, ok := r.mgr.Resolve(proxyPath)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no service mounted at " + proxyPath})
		return
	}
	snap := sup.Status()
	status := http.StatusOK
	if snap.State != supervisor.StateRunning {
		status = http.StatusServiceUnavailable
	}
	counters := gin.H{
		"restarts":             snap.Restarts,
		"droppedNotifications": snap.DroppedNotifications,
	}
	if !snap.StartedAt.IsZero() && snap.State == supervisor.StateRunning {
		counters["uptimeSeconds"] = int64(time.Since(snap.StartedAt).Seconds())
	}
	writeJSON(c, status, gin.H{
		"service":   sup.ID(),
		"status":    snap.State.String(),
		"pid":       snap.PID,
		"lastError": snap.LastError,
		"metrics":   counters,
	})
}

// handleGlobalHealth is the server's own liveness endpoint.
func (r *Router) handleGlobalHealth(c *gin.Context) {
	sups := r.mgr.List()
	running := 0
	for _, sup := range sups {
		if sup.Status().State == supervisor.StateRunning {
			running++
		}
	}
	writeJSON(c, http.StatusOK, gin.H{
		"status": "healthy",
		"services": gin.H{
			"total":   len(sups),
			"running": running,
			"stopped": len(sups) - running,
		},
	})
}
