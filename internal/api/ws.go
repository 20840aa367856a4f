package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/depth.report/internal/httputil"
)

// Stream formats accepted by /api/ws.
const (
	FormatJSON    = "json"
	FormatCompact = "compact"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
	wsPongWait   = wsPingPeriod + 10*time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWebSocket streams every accepted record to the client until either
// side goes away. A slow client loses records at the hub rather than
// stalling the pipeline.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	if s.hub == nil {
		httputil.ServiceUnavailable(w, "live stream disabled")
		return
	}
	format := r.URL.Query().Get("format")
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatCompact:
	default:
		httputil.BadRequest(w, "invalid 'format' parameter; must be one of: json, compact")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logf("websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	id, records, err := s.hub.Subscribe(s.cfg.GetSubscriberBuffer())
	if err != nil {
		logf("websocket subscribe: %v", err)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(wsWriteWait))
		return
	}
	defer s.hub.Unsubscribe(id)
	logf("websocket %s connected from %s (format=%s)", id, r.RemoteAddr, format)

	// The reader only exists to notice the client leaving and to answer
	// pings; clients send nothing.
	gone := make(chan struct{})
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	buf := make([]byte, 0, 16)
	for {
		select {
		case <-gone:
			logf("websocket %s disconnected", id)
			return
		case <-r.Context().Done():
			return
		case rec, ok := <-records:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if format == FormatCompact {
				buf = rec.AppendCompact(buf[:0])
				err = ws.WriteMessage(websocket.BinaryMessage, buf)
			} else {
				err = ws.WriteJSON(rec.Wire())
			}
			if err != nil {
				logf("websocket %s write failed: %v", id, err)
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
