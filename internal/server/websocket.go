package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tts-batch/internal/batch"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsEventBuffer is the per-connection subscription buffer.
var wsEventBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsWebSocket handles GET /api/batch/ws?since=N
// The server first replays events after since, then pushes every new event
// as one JSON text message. Events dropped while the connection lagged are
// replayed from history in order. Client messages are ignored.
func (h *Handlers) EventsWebSocket(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WEBSOCKET] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	connectionID := uuid.New().String()
	log.Printf("[WEBSOCKET] connected: connection_id=%s, remote=%s", connectionID, c.ClientIP())

	bus := h.batches.Events()
	events, cancel := bus.Subscribe(wsEventBuffer)
	defer cancel()

	closed := make(chan struct{})
	go readUntilClosed(conn, connectionID, closed)

	last := since
	for _, event := range bus.Since(since) {
		if err := writeEvent(conn, event); err != nil {
			log.Printf("[WEBSOCKET] write failed: connection_id=%s, err=%v", connectionID, err)
			return
		}
		last = event.Seq
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Printf("[WEBSOCKET] disconnected: connection_id=%s", connectionID)
			return
		case event, open := <-events:
			if !open {
				return
			}
			for _, pending := range bus.Catchup(last, event) {
				if err := writeEvent(conn, pending); err != nil {
					log.Printf("[WEBSOCKET] write failed: connection_id=%s, err=%v", connectionID, err)
					return
				}
				last = pending.Seq
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				log.Printf("[WEBSOCKET] ping failed: connection_id=%s, err=%v", connectionID, err)
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, event batch.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(event)
}

// readUntilClosed drains client frames so control messages are processed and
// closes done when the connection ends.
func readUntilClosed(conn *websocket.Conn, connectionID string, done chan<- struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WEBSOCKET] read error: connection_id=%s, err=%v", connectionID, err)
			}
			return
		}
	}
}
