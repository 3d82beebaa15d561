package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// MemorySink posts learning records to the project-memory service.
// Strictly best effort: every failure is logged and swallowed so that
// orchestration never fails because a record could not be written.
// Implements contracts.LearningSink.
type MemorySink struct {
	url    string
	client *http.Client
}

// NewMemorySink creates a webhook-backed learning sink. An empty URL
// disables recording entirely.
func NewMemorySink(url string) *MemorySink {
	return &MemorySink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type learningRecord struct {
	ScopeID   string            `json:"scope_id"`
	Kind      string            `json:"kind"`
	Payload   interface{}       `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Record implements contracts.LearningSink.
func (m *MemorySink) Record(ctx context.Context, scopeID, kind string, payload interface{}, metadata map[string]string) {
	if m.url == "" {
		return
	}

	body, err := json.Marshal(learningRecord{
		ScopeID:   scopeID,
		Kind:      kind,
		Payload:   payload,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to encode learning record")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.url, bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to build learning record request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("Failed to deliver learning record")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn().Int("status", resp.StatusCode).Str("kind", kind).Msg("Learning sink rejected record")
	}
}
