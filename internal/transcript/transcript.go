// Package transcript turns captured utterances into text.
package transcript

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrEmptyTranscript is returned when the service heard nothing usable.
	ErrEmptyTranscript = errors.New("transcript: empty")
	// ErrLanguageMismatch is returned when the text is written in a script
	// other than the expected language's.
	ErrLanguageMismatch = errors.New("transcript: unexpected language")
)

// Request is one utterance to transcribe. Audio is mono PCM16.
type Request struct {
	Audio      []int16
	SampleRate int
	Language   string
}

type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// Check trims text and applies the empty and script checks.
func Check(text, lang string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	if err := ValidateScript(text, lang); err != nil {
		return "", err
	}
	return text, nil
}
