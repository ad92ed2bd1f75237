package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/stage-engine/internal/services/events"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

type sseEvent struct {
	name string
	data string
}

// readSSE returns the next complete event, skipping comments.
func readSSE(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestEventsHandler_StreamsSessionEvents(t *testing.T) {
	client := setupRedis(t)
	broadcaster := events.NewBroadcaster(client, testLogger())

	srv := httptest.NewServer(NewEventsHandler(client, testLogger()))
	defer srv.Close()

	session := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stage/"+session.String(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	connected := readSSE(t, reader)
	assert.Equal(t, "connected", connected.name)
	assert.Contains(t, connected.data, session.String())

	// another session's events never reach this stream
	require.NoError(t, broadcaster.PublishTurnQueued(ctx, uuid.New(), "other"))

	st := stage.NewState()
	st.Background = "backgrounds/park_day.png"
	require.NoError(t, broadcaster.PublishStageUpdated(ctx, session, st))

	ev := readSSE(t, reader)
	assert.Equal(t, string(events.EventTypeStageUpdated), ev.name)

	var event events.Event
	require.NoError(t, json.Unmarshal([]byte(ev.data), &event))
	assert.Equal(t, events.EventTypeStageUpdated, event.Type)
	assert.Equal(t, session.String(), event.SessionID)
}

func TestEventsHandler_BadRequests(t *testing.T) {
	h := NewEventsHandler(setupRedis(t), testLogger())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/v1/events/stage/" + uuid.New().String(), http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/events/games/" + uuid.New().String(), http.StatusBadRequest},
		{http.MethodGet, "/v1/events/stage/nope", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.want, rr.Code, tt.path)
	}
}

func TestSocketHandler_TurnsAndEvents(t *testing.T) {
	client := setupRedis(t)
	broadcaster := events.NewBroadcaster(client, testLogger())
	turns := newFakeTurnQueue()

	srv := httptest.NewServer(NewSocketHandler(client, turns, broadcaster, testLogger()))
	defer srv.Close()

	session := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stage/" + session.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "turn", Text: "[BG: park] Hi."}))

	// the reply and the queued event race; collect both
	seen := map[string]map[string]interface{}{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for len(seen) < 2 {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		seen[msg["type"].(string)] = msg
	}

	accepted, ok := seen["turn.accepted"]
	require.True(t, ok, "expected turn.accepted reply, got %v", seen)
	queued, ok := seen[string(events.EventTypeTurnQueued)]
	require.True(t, ok, "expected turn.queued event, got %v", seen)
	assert.Equal(t, accepted["request_id"], queued["request_id"])

	pending, err := turns.Peek(context.Background(), session, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "[BG: park] Hi.", pending[0].Text)

	require.NoError(t, conn.WriteJSON(SocketMessage{Type: "dance"}))
	var reply SocketReply
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Contains(t, reply.Error, "dance")
}

func TestSocketHandler_RejectsBadPath(t *testing.T) {
	h := NewSocketHandler(setupRedis(t), newFakeTurnQueue(), nil, testLogger())
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/stage/nope/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
