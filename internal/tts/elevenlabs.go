package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
)

// ElevenLabs streams pcm_48000 over the HTTP streaming endpoint.
type ElevenLabs struct {
	HTTPClient *http.Client
	BaseURL    string
	APIKey     string
	VoiceID    string
	Model      string
	Log        logrus.FieldLogger
}

func NewElevenLabs(apiKey, voiceID string, log logrus.FieldLogger) *ElevenLabs {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ElevenLabs{
		HTTPClient: &http.Client{},
		BaseURL:    "https://api.elevenlabs.io",
		APIKey:     apiKey,
		VoiceID:    voiceID,
		Model:      "eleven_flash_v2_5",
		Log:        log.WithField("component", "elevenlabs"),
	}
}

func (e *ElevenLabs) SampleRate() int { return 48000 }

func (e *ElevenLabs) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(pcmCh)
		if e.APIKey == "" || e.VoiceID == "" {
			errCh <- fmt.Errorf("elevenlabs: api key or voice id missing")
			return
		}
		if text == "" {
			return
		}
		if err := e.stream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (e *ElevenLabs) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	u, err := url.Parse(e.BaseURL + "/v1/text-to-speech/" + url.PathEscape(e.VoiceID) + "/stream")
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("model_id", e.Model)
	q.Set("output_format", "pcm_48000")
	// 0..4, lower trades quality for latency
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	body := map[string]any{
		"model_id": e.Model,
		"text":     text,
		"voice_settings": map[string]any{
			"stability":         0.4,
			"similarity_boost":  0.7,
			"style":             0.0,
			"use_speaker_boost": true,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{80, 120, 160, 200},
		},
	}
	buf, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("elevenlabs", resp); err != nil {
		return err
	}
	e.Log.WithField("chars", len(text)).Debug("receiving audio stream")
	return pump(ctx, "elevenlabs", resp.Body, pcmCh)
}
