package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/chadiek/covercall/internal/audio"
)

const openAITranscriptionsURL = "https://api.openai.com/v1/audio/transcriptions"

// OpenAI uploads each utterance as a WAV file.
type OpenAI struct {
	HTTPClient *http.Client
	Endpoint   string
	APIKey     string
	Model      string
}

func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = "gpt-4o-transcribe"
	}
	return &OpenAI{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Endpoint:   openAITranscriptionsURL,
		APIKey:     apiKey,
		Model:      model,
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, req Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("openai transcribe: api key missing")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio.WAV(req.Audio, req.SampleRate)); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", o.Model)
	_ = mw.WriteField("response_format", "json")
	if req.Language != "" {
		_ = mw.WriteField("language", req.Language)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.APIKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai transcribe: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("openai transcribe: status=%d body=%s", resp.StatusCode, string(b))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai transcribe: decode: %w", err)
	}
	return out.Text, nil
}
