package restserver

import (
	"net/http"
	"time"

	"github.com/chrissnell/scalebridge/internal/hub"
	"github.com/chrissnell/scalebridge/internal/types"
	"github.com/chrissnell/scalebridge/pkg/responseformat"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames and small hellos.
	maxMessageSize = 512
)

// ServeWebSocket upgrades the request and streams measurements to the peer
// until either side goes away. The current measurement, if any, is sent as
// soon as the connection opens.
func (h *Handlers) ServeWebSocket(w http.ResponseWriter, req *http.Request) {
	format := responseformat.FromRequest(req)

	conn, err := h.controller.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.controller.logger.Debugf("websocket upgrade from %s failed: %v", req.RemoteAddr, err)
		return
	}

	sub, err := h.controller.hub.Subscribe(req.RemoteAddr)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go h.readPump(conn, sub)
	h.writePump(conn, sub, format)
}

// readPump discards client messages and notices when the peer leaves.
func (h *Handlers) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer h.controller.hub.Unsubscribe(sub.ID())

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.controller.logger.Debugf("websocket %s read error: %v", sub.Remote(), err)
			}
			return
		}
	}
}

// writePump is the only goroutine writing to conn.
func (h *Handlers) writePump(conn *websocket.Conn, sub *hub.Subscriber, format responseformat.Format) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		h.controller.hub.Unsubscribe(sub.ID())
		conn.Close()
	}()

	msgType := websocket.TextMessage
	if format == responseformat.MsgPack {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case snap, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Removed by the hub: shutdown or fell behind.
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			body, err := h.formatter.Marshal(format, types.NewRecord(snap.Measurement))
			if err != nil {
				h.controller.logger.Errorf("error encoding measurement #%d: %v", snap.Seq, err)
				continue
			}
			if err := conn.WriteMessage(msgType, body); err != nil {
				h.controller.logger.Debugf("websocket %s write error: %v", sub.Remote(), err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
