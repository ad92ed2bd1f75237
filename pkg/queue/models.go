package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TurnRequest is one block of model output waiting to be applied to a
// session's stage.
type TurnRequest struct {
	RequestID  string    `json:"request_id"`
	SessionID  uuid.UUID `json:"session_id"`
	Text       string    `json:"text"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTurnRequest stamps a request with a fresh id and the current time.
func NewTurnRequest(sessionID uuid.UUID, text string) *TurnRequest {
	return &TurnRequest{
		RequestID:  uuid.New().String(),
		SessionID:  sessionID,
		Text:       text,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Validate checks the fields a worker relies on.
func (r *TurnRequest) Validate() error {
	var errs []error
	if r.RequestID == "" {
		errs = append(errs, errors.New("request_id is required"))
	}
	if r.SessionID == uuid.Nil {
		errs = append(errs, errors.New("session_id is required"))
	}
	if strings.TrimSpace(r.Text) == "" {
		errs = append(errs, errors.New("text is required"))
	}
	return errors.Join(errs...)
}

// ToJSON converts the request to JSON bytes for Redis
func (r *TurnRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*TurnRequest, error) {
	var req TurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
