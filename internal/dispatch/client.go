// Package dispatch relays emergency records to the dispatch sink.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chadiek/covercall/internal/emergency"
)

// Payload is the body posted to the sink: the flat record plus envelope.
type Payload struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	emergency.Record
}

// NewPayload stamps a record with a fresh id.
func NewPayload(sessionID string, rec emergency.Record, now time.Time) Payload {
	return Payload{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		SessionID: sessionID,
		Record:    rec,
	}
}

type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// Client posts payloads to POST {base}/api/emergency.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		URL:        baseURL + "/api/emergency",
	}
}

func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("dispatch: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("dispatch: status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
