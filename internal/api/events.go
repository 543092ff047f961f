package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	pongWait    = 60 * time.Second
	writeWait   = 10 * time.Second
	pingPeriod  = (pongWait * 9) / 10
	eventBuffer = 256
)

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type string      `json:"type"`
	Body interface{} `json:"body,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events streams operation events in order, starting with the retained
// history. Only this goroutine writes data frames.
func (h *Handler) Events(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	evs, unsubscribe := h.Ops.Events().Subscribe(eventBuffer)
	defer unsubscribe()

	ws.SetReadLimit(64 << 10)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if json.Unmarshal(data, &msg) == nil && msg.Type == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	write := func(msg serverMessage) error {
		out, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.TextMessage, out)
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-evs:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed")
				_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			if err := write(serverMessage{Type: "event", Body: ev}); err != nil {
				return
			}
		case <-pings:
			if err := write(serverMessage{Type: "pong"}); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
