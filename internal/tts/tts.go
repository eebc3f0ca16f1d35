// Package tts streams synthesized speech as raw PCM16LE chunks.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Synthesizer streams audio for text. The chunk channel closes when
// synthesis ends; at most one error is delivered.
type Synthesizer interface {
	Stream(ctx context.Context, text string) (<-chan []byte, <-chan error)
	SampleRate() int
}

// Collect drains a stream into one buffer.
func Collect(ctx context.Context, s Synthesizer, text string) ([]byte, error) {
	pcmCh, errCh := s.Stream(ctx, text)
	var out []byte
	for chunk := range pcmCh {
		out = append(out, chunk...)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return out, nil
}

// pump copies an HTTP body into chunks. Sends block so no audio is lost.
func pump(ctx context.Context, name string, body io.Reader, pcmCh chan<- []byte) error {
	buf := make([]byte, 4096)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, buf[:n])
			select {
			case pcmCh <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return fmt.Errorf("%s: read: %w", name, rerr)
		}
	}
}

func checkStatus(name string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%s: status=%d body=%s", name, resp.StatusCode, string(b))
}
