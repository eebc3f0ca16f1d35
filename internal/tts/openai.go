package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const openAISpeechURL = "https://api.openai.com/v1/audio/speech"

// OpenAI streams raw 24 kHz PCM from the speech endpoint.
type OpenAI struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	Model      string
	Voice      string
}

func NewOpenAI(apiKey, model, voice string) *OpenAI {
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAI{
		HTTPClient: &http.Client{},
		Endpoint:   openAISpeechURL,
		APIKey:     apiKey,
		Model:      model,
		Voice:      voice,
	}
}

func (o *OpenAI) SampleRate() int { return 24000 }

func (o *OpenAI) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(pcmCh)
		if o.APIKey == "" {
			errCh <- fmt.Errorf("openai speech: api key missing")
			return
		}
		if text == "" {
			return
		}
		if err := o.stream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (o *OpenAI) stream(ctx context.Context, text string, pcmCh chan<- []byte) error {
	buf, _ := json.Marshal(map[string]any{
		"model":           o.Model,
		"voice":           o.Voice,
		"input":           text,
		"response_format": "pcm",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus("openai speech", resp); err != nil {
		return err
	}
	return pump(ctx, "openai speech", resp.Body, pcmCh)
}
