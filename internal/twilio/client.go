// Package twilio connects phone calls to dialog sessions through Twilio
// Media Streams and handles the call's recording callbacks.
package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	twilio "github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// REST is the subset of the Twilio REST API used during a call.
type REST interface {
	StartRecording(ctx context.Context, callSid, callbackURL string) error
	Hangup(ctx context.Context, callSid string) error
	DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error)
}

// Client implements REST with the Twilio SDK.
type Client struct {
	accountSID string
	authToken  string
	rest       *twilio.RestClient
	httpClient *http.Client
}

func NewClient(accountSID, authToken string) *Client {
	return &Client{
		accountSID: accountSID,
		authToken:  authToken,
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) configured() error {
	if c.accountSID == "" || c.authToken == "" {
		return fmt.Errorf("twilio: TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN required")
	}
	return nil
}

// StartRecording creates one continuous recording of both tracks.
func (c *Client) StartRecording(_ context.Context, callSid, callbackURL string) error {
	if err := c.configured(); err != nil {
		return err
	}
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(callbackURL)
	params.SetRecordingStatusCallbackMethod("POST")
	params.SetRecordingStatusCallbackEvent([]string{"completed", "absent"})
	params.SetRecordingChannels("mono")
	params.SetRecordingTrack("both")
	params.SetTrim("do-not-trim")
	if _, err := c.rest.Api.CreateCallRecording(callSid, params); err != nil {
		return fmt.Errorf("twilio: start recording: %w", err)
	}
	return nil
}

// Hangup completes an in-progress call.
func (c *Client) Hangup(_ context.Context, callSid string) error {
	if err := c.configured(); err != nil {
		return err
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := c.rest.Api.UpdateCall(callSid, params); err != nil {
		return fmt.Errorf("twilio: hang up %s: %w", callSid, err)
	}
	return nil
}

// DownloadRecording fetches the WAV rendition of a recording.
func (c *Client) DownloadRecording(ctx context.Context, recordingURL string) ([]byte, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: recording request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twilio: download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("twilio: download recording: status %d: %s", resp.StatusCode, preview)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("twilio: read recording: %w", err)
	}
	return body, nil
}
