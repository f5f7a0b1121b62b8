package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MountEcho registers the router on an existing echo instance so embedding
// applications can serve the gateway alongside their own routes. With a
// prefix, the gateway sees paths with the prefix stripped.
func (r *Router) MountEcho(e *echo.Echo, prefix string) {
	h := r.Handler()
	prefix = sanitizeBase(prefix)
	if prefix == "" {
		e.Any("/*", echo.WrapHandler(h))
		return
	}
	wrapped := echo.WrapHandler(http.StripPrefix(prefix, h))
	e.Any(prefix, wrapped)
	e.Any(prefix+"/*", wrapped)
}
