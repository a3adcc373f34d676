package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/events"
	"github.com/Lmdudester/Garcon/pkg/types"
)

const (
	// wsWriteWait bounds a single frame write
	wsWriteWait = 10 * time.Second

	// wsPongWait is how long a client may go silent before the
	// connection is considered dead
	wsPongWait = 60 * time.Second

	// wsPingPeriod must be shorter than wsPongWait
	wsPingPeriod = (wsPongWait * 9) / 10

	// wsMaxInboundBytes caps inbound control messages; the protocol
	// has no large client payloads
	wsMaxInboundBytes = 512
)

// inboundMessage is the tagged union clients send: subscribe,
// unsubscribe, or ping. Subscribe/unsubscribe without a server id flip
// the all-servers flag instead.
type inboundMessage struct {
	Type     string `json:"type"`
	ServerID string `json:"serverId,omitempty"`
}

type statusFrame struct {
	Type        string            `json:"type"`
	ServerID    string            `json:"serverId"`
	Status      types.Status      `json:"status"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	UpdateStage types.UpdateStage `json:"updateStage,omitempty"`
}

type membershipFrame struct {
	Type     string             `json:"type"`
	ServerID string             `json:"serverId"`
	Action   types.UpdateAction `json:"action"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type pongFrame struct {
	Type string `json:"type"`
}

func eventToFrame(e *events.Event) interface{} {
	switch e.Type {
	case events.EventServerStatus:
		frame := statusFrame{
			Type:      "server_status",
			ServerID:  e.ServerID,
			Status:    e.Status,
			StartedAt: e.StartedAt,
		}
		if e.UpdateStage != types.UpdateStageNone {
			frame.UpdateStage = e.UpdateStage
		}
		return frame
	case events.EventServerUpdate:
		return membershipFrame{
			Type:     "server_update",
			ServerID: e.ServerID,
			Action:   e.Action,
		}
	}
	return nil
}

// wsClient is one push-channel connection. The reader goroutine owns
// scope changes and teardown; the writer goroutine owns every write on
// the connection, draining hub events and protocol replies.
type wsClient struct {
	conn   *websocket.Conn
	hub    *events.Hub
	id     string
	events <-chan *events.Event

	// direct carries pong and error frames from the reader to the
	// writer so the connection has a single writing goroutine
	direct chan interface{}
	done   chan struct{}
}

// handleWebSocket upgrades the connection and runs the push channel.
// A new subscriber starts with an empty scope: it sees membership
// events immediately and status events once it subscribes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id, eventCh := s.hub.Subscribe()
	client := &wsClient{
		conn:   conn,
		hub:    s.hub,
		id:     id,
		events: eventCh,
		direct: make(chan interface{}, 8),
		done:   make(chan struct{}),
	}

	s.logger.Debug().Str("subscriber_id", id).Msg("Push channel opened")

	go client.writePump(s.logger)
	client.readLoop(s.logger)
}

func (c *wsClient) readLoop(logger zerolog.Logger) {
	defer func() {
		c.hub.Unsubscribe(c.id)
		close(c.done)
		c.conn.Close()
		logger.Debug().Str("subscriber_id", c.id).Msg("Push channel closed")
	}()

	c.conn.SetReadLimit(wsMaxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Str("subscriber_id", c.id).Msg("Push channel read failed")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(errorFrame{Type: "error", Message: "invalid message: not a JSON object", Code: "validation"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			if msg.ServerID != "" {
				c.hub.SetServerScope(c.id, msg.ServerID, true)
			} else {
				c.hub.SetAll(c.id, true)
			}
		case "unsubscribe":
			if msg.ServerID != "" {
				c.hub.SetServerScope(c.id, msg.ServerID, false)
			} else {
				c.hub.SetAll(c.id, false)
			}
		case "ping":
			c.reply(pongFrame{Type: "pong"})
		default:
			c.reply(errorFrame{
				Type:    "error",
				Message: fmt.Sprintf("unknown message type %q", msg.Type),
				Code:    "validation",
			})
		}
	}
}

// reply queues a protocol frame for the writer; a stalled writer
// drops the frame rather than blocking the reader
func (c *wsClient) reply(frame interface{}) {
	select {
	case c.direct <- frame:
	default:
	}
}

func (c *wsClient) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				// Hub shut down; tell the client and drop the
				// connection so the reader unblocks
				_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				c.conn.Close()
				return
			}
			frame := eventToFrame(event)
			if frame == nil {
				continue
			}
			if err := c.write(frame); err != nil {
				logger.Debug().Err(err).Str("subscriber_id", c.id).Msg("Push channel write failed")
				return
			}
		case frame := <-c.direct:
			if err := c.write(frame); err != nil {
				logger.Debug().Err(err).Str("subscriber_id", c.id).Msg("Push channel write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) write(frame interface{}) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(frame)
}
