package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/pkg/queue"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = maxTurnBytes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SocketMessage is what a renderer sends over the websocket.
type SocketMessage struct {
	Type string `json:"type"` // "turn"
	Text string `json:"text,omitempty"`
}

// SocketReply is written back for messages that are not answered through
// the event stream.
type SocketReply struct {
	Type      string `json:"type"` // "turn.accepted" or "error"
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SocketHandler streams a session's events over a websocket and accepts
// turns on the same connection.
// GET /v1/stage/{sessionID}/ws
type SocketHandler struct {
	redisClient *redis.Client
	turns       TurnQueue
	publisher   TurnPublisher
	logger      *slog.Logger
}

func NewSocketHandler(redisClient *redis.Client, turns TurnQueue, publisher TurnPublisher, logger *slog.Logger) *SocketHandler {
	return &SocketHandler{
		redisClient: redisClient,
		turns:       turns,
		publisher:   publisher,
		logger:      logger,
	}
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "stage" || parts[3] != "ws" {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid path. Expected /v1/stage/{sessionID}/ws")
		return
	}
	sessionID, err := uuid.Parse(parts[2])
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format.")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Warn("Websocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.redisClient.Subscribe(ctx, events.Channel(sessionID))
	defer func() { _ = pubsub.Close() }()
	if _, err := pubsub.Receive(ctx); err != nil {
		h.logger.Error("Failed to subscribe", "error", err, "session_id", sessionID)
		_ = conn.Close()
		return
	}

	h.logger.Info("Websocket connection established",
		"session_id", sessionID.String(),
		"remote_addr", r.RemoteAddr)

	replies := make(chan SocketReply, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, pubsub.Channel(), replies)
	}()

	h.readPump(ctx, conn, sessionID, replies, done)
	<-done

	h.logger.Info("Websocket client disconnected", "session_id", sessionID.String())
}

// readPump handles inbound messages until the connection fails. It owns
// closing replies.
func (h *SocketHandler) readPump(ctx context.Context, conn *websocket.Conn, sessionID uuid.UUID, replies chan<- SocketReply, done <-chan struct{}) {
	defer close(replies)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Warn("Failed to set read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg SocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read failed", "error", err, "session_id", sessionID)
			}
			return
		}

		var reply SocketReply
		switch msg.Type {
		case "turn":
			reply = h.enqueue(ctx, sessionID, msg.Text)
		default:
			reply = SocketReply{Type: "error", Error: "unknown message type: " + msg.Type}
		}

		select {
		case replies <- reply:
		case <-done:
			return
		}
	}
}

func (h *SocketHandler) enqueue(ctx context.Context, sessionID uuid.UUID, text string) SocketReply {
	req := queue.NewTurnRequest(sessionID, text)
	if err := req.Validate(); err != nil {
		return SocketReply{Type: "error", Error: err.Error()}
	}
	if err := h.turns.EnqueueTurn(ctx, req); err != nil {
		h.logger.Error("Failed to enqueue turn", "error", err, "session_id", sessionID)
		return SocketReply{Type: "error", Error: "failed to queue turn"}
	}
	if h.publisher != nil {
		if err := h.publisher.PublishTurnQueued(ctx, sessionID, req.RequestID); err != nil {
			h.logger.Warn("Failed to publish turn.queued", "error", err, "request_id", req.RequestID)
		}
	}
	return SocketReply{Type: "turn.accepted", RequestID: req.RequestID}
}

// writePump forwards events and replies to the client and keeps the
// connection alive with pings.
func (h *SocketHandler) writePump(conn *websocket.Conn, msgs <-chan *redis.Message, replies <-chan SocketReply) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var event events.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.Error("Failed to unmarshal event", "error", err, "payload", msg.Payload)
				continue
			}
			if err := h.write(conn, event); err != nil {
				return
			}

		case reply, ok := <-replies:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := h.write(conn, reply); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Warn("Failed to set ping write deadline", "error", err)
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed", "error", err)
				return
			}
		}
	}
}

func (h *SocketHandler) write(conn *websocket.Conn, v interface{}) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.logger.Warn("Failed to set write deadline", "error", err)
	}
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("Websocket write failed", "error", err)
		return err
	}
	return nil
}
