package queue

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnRequest_FromJSON(t *testing.T) {
	id := uuid.MustParse("7b0c1f0e-5a4d-4c3e-9f55-2a4e0d1c9b11")
	data := []byte(`{"request_id":"r1","session_id":"` + id.String() + `","text":"[BG: \"park\"] Hi.","enqueued_at":"2026-01-02T03:04:05Z"}`)

	req, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "r1", req.RequestID)
	assert.Equal(t, id, req.SessionID)
	assert.Equal(t, `[BG: "park"] Hi.`, req.Text)
	assert.Equal(t, 2026, req.EnqueuedAt.Year())

	_, err = FromJSON([]byte(`{"session_id":"not-a-uuid"}`))
	assert.Error(t, err)
}

func TestTurnRequest_Validate(t *testing.T) {
	ok := NewTurnRequest(uuid.New(), "[HIDE: all]")
	assert.NoError(t, ok.Validate())
	assert.NotEmpty(t, ok.RequestID)

	tests := []struct {
		name string
		req  TurnRequest
		msg  string
	}{
		{"missing id", TurnRequest{SessionID: uuid.New(), Text: "x"}, "request_id"},
		{"missing session", TurnRequest{RequestID: "r", Text: "x"}, "session_id"},
		{"blank text", TurnRequest{RequestID: "r", SessionID: uuid.New(), Text: "  \n"}, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
