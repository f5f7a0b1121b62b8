package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/loykin/mcpgate/internal/registry"
	"github.com/loykin/mcpgate/internal/supervisor"
)

// serviceView joins the durable definition with the live runtime snapshot.
type serviceView struct {
	registry.Service
	Runtime *supervisor.Snapshot `json:"runtime,omitempty"`
}

func (r *Router) view(svc registry.Service) serviceView {
	v := serviceView{Service: svc}
	if sup, ok := r.mgr.Get(svc.ID); ok {
		snap := sup.Status()
		v.Runtime = &snap
	}
	return v
}

func (r *Router) handleListServices(c *gin.Context) {
	services, err := r.store.ListServices(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	out := make([]serviceView, 0, len(services))
	for _, svc := range services {
		out = append(out, r.view(*svc))
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleCreateService(c *gin.Context) {
	var svc registry.Service
	if err := c.ShouldBindJSON(&svc); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	svc.ApplyDefaults()
	if err := svc.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	if err := r.store.CreateService(c.Request.Context(), &svc); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrDuplicateProxyPath) {
			status = http.StatusConflict
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}

	if _, err := r.mgr.Add(svc); err != nil {
		r.log.Warn("supervisor not created", "service", svc.ID, "error", err)
	}
	writeJSON(c, http.StatusCreated, r.view(svc))
}

func (r *Router) handleGetService(c *gin.Context) {
	svc, err := r.store.GetService(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.writeStoreError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r.view(*svc))
}

func (r *Router) handleUpdateService(c *gin.Context) {
	ctx := c.Request.Context()
	existing, err := r.store.GetService(ctx, c.Param("id"))
	if err != nil {
		r.writeStoreError(c, err)
		return
	}

	updated := *existing
	if err := c.ShouldBindJSON(&updated); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.ApplyDefaults()
	if err := updated.Validate(); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}

	if err := r.store.UpdateService(ctx, &updated); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrDuplicateProxyPath) {
			status = http.StatusConflict
		}
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}

	if sup, ok := r.mgr.Get(updated.ID); ok {
		if err := sup.UpdateDefinition(updated); err != nil {
			r.log.Warn("definition not pushed to supervisor", "service", updated.ID, "error", err)
		}
	}
	writeJSON(c, http.StatusOK, r.view(updated))
}

func (r *Router) handleDeleteService(c *gin.Context) {
	id := c.Param("id")
	if err := r.mgr.Remove(id); err != nil {
		r.log.Warn("supervisor shutdown during delete", "service", id, "error", err)
	}
	if err := r.store.DeleteService(c.Request.Context(), id); err != nil {
		r.writeStoreError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// lifecycle transitions persist the user's intent first, then drive the
// supervisor; the supervisor event path records the observed status.
func (r *Router) handleStartService(c *gin.Context) {
	r.lifecycle(c, registry.DesiredRunning, func(sup *supervisor.Supervisor) error {
		return sup.Start()
	})
}

func (r *Router) handleStopService(c *gin.Context) {
	r.lifecycle(c, registry.DesiredStopped, func(sup *supervisor.Supervisor) error {
		return sup.Stop()
	})
}

func (r *Router) handleRestartService(c *gin.Context) {
	r.lifecycle(c, registry.DesiredRunning, func(sup *supervisor.Supervisor) error {
		return sup.Restart()
	})
}

func (r *Router) lifecycle(c *gin.Context, desired string, op func(*supervisor.Supervisor) error) {
	ctx := c.Request.Context()
	id := c.Param("id")

	svc, err := r.store.GetService(ctx, id)
	if err != nil {
		r.writeStoreError(c, err)
		return
	}

	sup, ok := r.mgr.Get(id)
	if !ok {
		if sup, err = r.mgr.Add(*svc); err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
	}

	if err := r.store.SetDesiredStatus(ctx, id, desired); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if err := op(sup); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.view(*svc))
}

func (r *Router) handleServiceLogs(c *gin.Context) {
	sup, ok := r.mgr.Get(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "service not found"})
		return
	}
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(c, http.StatusOK, gin.H{"lines": sup.Logs(limit)})
}

func (r *Router) handleListKeys(c *gin.Context) {
	keys, err := r.store.ListAPIKeys(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, keys)
}

func (r *Router) handleCreateKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}

	secret, err := registry.NewSecret()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	key := &registry.APIKey{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Hash:   registry.HashKey(secret),
		Active: true,
	}
	if err := r.store.CreateAPIKey(c.Request.Context(), key); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	// The plaintext secret is returned exactly once.
	writeJSON(c, http.StatusCreated, gin.H{
		"id":        key.ID,
		"name":      key.Name,
		"key":       secret,
		"createdAt": time.Now().UTC(),
	})
}

func (r *Router) handleRevokeKey(c *gin.Context) {
	if err := r.store.SetAPIKeyActive(c.Request.Context(), c.Param("id"), false); err != nil {
		r.writeStoreError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleListSettings(c *gin.Context) {
	settings, err := r.store.ListSettings(c.Request.Context(), c.Query("category"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, settings)
}

func (r *Router) handleSetSetting(c *gin.Context) {
	var st registry.Setting
	if err := c.ShouldBindJSON(&st); err != nil || st.Key == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "key required"})
		return
	}
	if err := r.store.SetSetting(c.Request.Context(), &st); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) writeStoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, registry.ErrServiceNotFound) || errors.Is(err, registry.ErrKeyNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(c, status, errorResp{Error: err.Error()})
}
