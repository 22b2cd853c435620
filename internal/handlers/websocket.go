package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"netscope/internal/capture"
	"netscope/internal/models"
	"netscope/internal/session"
)

const (
	// writeWait bounds a single WebSocket write.
	writeWait = 5 * time.Second
	// sendBuffer is the per-client queue. When it fills, packet events are
	// shed so the capture worker never blocks on a slow reader.
	sendBuffer = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected dashboard. The hub fans broadcasts into sendCh
// and writeLoop owns the connection; readLoop dispatches client commands.
type wsClient struct {
	conn   *websocket.Conn
	hub    *Hub
	sess   *session.Session
	log    *logrus.Logger
	sendCh chan models.WSMessage
	done   chan struct{}
}

func newWSClient(conn *websocket.Conn, hub *Hub, sess *session.Session, log *logrus.Logger) *wsClient {
	c := &wsClient{
		conn:   conn,
		hub:    hub,
		sess:   sess,
		log:    log,
		sendCh: make(chan models.WSMessage, sendBuffer),
		done:   make(chan struct{}),
	}
	hub.Register(c)
	go c.writeLoop()
	return c
}

// SendMessage queues msg without ever blocking. A full queue sheds packet
// events; control events evict the oldest queued entry and retry so state
// changes still reach a lagging client.
func (c *wsClient) SendMessage(msg models.WSMessage) error {
	select {
	case c.sendCh <- msg:
		return nil
	default:
	}
	if msg.Type == "packet" {
		return nil
	}
	select {
	case <-c.sendCh:
	default:
	}
	// Best effort: the queue may have refilled between the evict and here.
	select {
	case c.sendCh <- msg:
	default:
	}
	return nil
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg, ok := <-c.sendCh:
			if !ok {
				return
			}
			if c.write(msg) != nil {
				return
			}
			// Flush whatever queued up while the last write was in flight.
			for n := len(c.sendCh); n > 0; n-- {
				if c.write(<-c.sendCh) != nil {
					return
				}
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(msg models.WSMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// readLoop reads client messages until the connection drops, then tears the
// client down. Malformed frames produce an error event, not a disconnect.
func (c *wsClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		close(c.done)
		close(c.sendCh)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg models.WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *wsClient) handleCommand(msg models.WSMessage) {
	switch msg.Type {
	case "get_interfaces":
		ifaces, err := capture.ListInterfaces()
		if err != nil {
			c.sendError("failed to list interfaces: " + err.Error())
			return
		}
		payload, _ := json.Marshal(ifaces)
		c.SendMessage(models.WSMessage{Type: "interfaces", Payload: payload})

	case "start_capture":
		var req models.StartCaptureRequest
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				c.sendError("invalid start_capture payload")
				return
			}
		}
		count := defaultCaptureCount
		if req.Count != nil {
			count = *req.Count
		}
		resp, err := c.sess.Start(req.Interface, count)
		if err != nil {
			c.sendError("capture failed: " + err.Error())
			return
		}
		if resp.Status == "already_running" {
			c.sendError("capture already running")
		}

	case "stop_capture":
		c.sess.Stop()

	default:
		c.sendError("unknown command: " + msg.Type)
	}
}

func (c *wsClient) sendError(message string) {
	payload, _ := json.Marshal(models.ErrorPayload{Message: message})
	c.SendMessage(models.WSMessage{Type: "error", Payload: payload})
}

// HandleWebSocket upgrades the request and runs the client until it
// disconnects.
func HandleWebSocket(hub *Hub, sess *session.Session, log *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		client := newWSClient(conn, hub, sess, log)
		client.readLoop()
	}
}
