package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/loykin/mcpgate/internal/rpc"
	"github.com/loykin/mcpgate/internal/supervisor"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The proxy fronts trusted MCP clients; origin policy belongs to the
	// deployment in front of it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleProxyWebSocket serves the bidirectional data plane: notifications
// stream out, request frames are answered in-order of completion. Rate
// limiting and caching do not apply here.
func (r *Router) handleProxyWebSocket(c *gin.Context) {
	serviceID := c.Query("service")
	if serviceID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "service query parameter required"})
		return
	}
	sup, ok := r.mgr.Get(serviceID)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "service not found"})
		return
	}
	if sup.Status().State != supervisor.StateRunning {
		snap := sup.Status()
		writeJSON(c, http.StatusServiceUnavailable, gin.H{
			"error":     "service is not running",
			"status":    snap.State.String(),
			"lastError": snap.LastError,
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	notifications, unsubscribe := sup.SubscribeNotifications(64)
	defer unsubscribe()

	// Writes are funneled through one goroutine; gorilla allows a single
	// concurrent writer.
	outbound := make(chan []byte, 64)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case frame := <-outbound:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			case frame := <-notifications:
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			case <-quit:
				return
			}
		}
	}()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}

		req, err := rpc.ValidateRequest(payload)
		if err != nil {
			select {
			case outbound <- rpc.ErrorResponse(nil, rpc.CodeInvalidRequest, "Invalid Request"):
			case <-done:
			}
			continue
		}

		go func(body, id []byte) {
			resp, err := sup.Send(c.Request.Context(), body)
			if err != nil {
				// The socket may have moved on; orphan responses are logged.
				r.log.Debug("websocket request failed", "service", serviceID, "error", err)
				resp = rpc.ErrorResponse(id, rpc.CodeInternal, "Internal error: "+err.Error())
			}
			select {
			case outbound <- resp:
			case <-done:
				r.log.Debug("dropping orphan response", "service", serviceID)
			}
		}(append([]byte(nil), payload...), append([]byte(nil), req.ID...))
	}

	close(quit)
	<-done
}

// handleLogStream pushes ring-buffered history then follows new output.
func (r *Router) handleLogStream(c *gin.Context) {
	sup, ok := r.mgr.Get(c.Param("id"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "service not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	lines, unsubscribe := sup.SubscribeLogs(256)
	defer unsubscribe()

	for _, line := range sup.Logs(100) {
		if err := conn.WriteJSON(logFrame(line)); err != nil {
			return
		}
	}

	// Reads are discarded; a read error means the peer went away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line := <-lines:
			if err := conn.WriteJSON(logFrame(line)); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

type logStreamFrame struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

func logFrame(line supervisor.LogLine) logStreamFrame {
	level := "info"
	if line.Stream == "stderr" {
		level = "error"
	}
	return logStreamFrame{Timestamp: line.Time, Level: level, Message: line.Text}
}
