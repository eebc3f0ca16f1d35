package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/audio"
)

const assemblyAIStreamURL = "wss://streaming.assemblyai.com/v3/ws"

// AssemblyAI streams one utterance per websocket session and returns the
// formatted turns once the server acknowledges Terminate.
type AssemblyAI struct {
	APIKey string
	URL    string
	// Chunk is the duration of each binary audio message.
	Chunk  time.Duration
	Dialer *websocket.Dialer
	Log    logrus.FieldLogger
}

// AssemblyAI message types
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	TurnOrder     int    `json:"turn_order"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewAssemblyAI(apiKey string, log logrus.FieldLogger) *AssemblyAI {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AssemblyAI{
		APIKey: apiKey,
		URL:    assemblyAIStreamURL,
		Chunk:  100 * time.Millisecond,
		Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		Log:    log.WithField("component", "assemblyai"),
	}
}

func (a *AssemblyAI) Transcribe(ctx context.Context, req Request) (string, error) {
	if a.APIKey == "" {
		return "", fmt.Errorf("assemblyai: api key missing")
	}
	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(req.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	headers := http.Header{"Authorization": {a.APIKey}}

	conn, resp, err := a.Dialer.DialContext(ctx, a.URL+"?"+params.Encode(), headers)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("assemblyai: dial status=%d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("assemblyai: dial: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := a.readTurns(conn)
		done <- result{text, err}
	}()

	if err := a.sendAudio(conn, req); err != nil {
		return "", fmt.Errorf("assemblyai: send: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		return "", fmt.Errorf("assemblyai: terminate: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return r.text, r.err
	}
}

func (a *AssemblyAI) sendAudio(conn *websocket.Conn, req Request) error {
	step := audio.SamplesFor(req.SampleRate, a.Chunk)
	if step <= 0 {
		step = len(req.Audio)
	}
	for off := 0; off < len(req.Audio); off += step {
		end := min(off+step, len(req.Audio))
		if err := conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(req.Audio[off:end])); err != nil {
			return err
		}
	}
	return nil
}

// readTurns keeps the latest transcript per turn until Termination.
func (a *AssemblyAI) readTurns(conn *websocket.Conn) (string, error) {
	turns := map[int]string{}
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(message, &base); err != nil {
			a.Log.WithError(err).Warn("undecodable message")
			continue
		}
		switch base.Type {
		case "Begin":
			var msg beginMessage
			if err := json.Unmarshal(message, &msg); err == nil {
				a.Log.WithField("session", msg.ID).Debug("session began")
			}
		case "Turn":
			var msg turnMessage
			if err := json.Unmarshal(message, &msg); err != nil {
				a.Log.WithError(err).Warn("undecodable turn")
				continue
			}
			if msg.Transcript != "" {
				turns[msg.TurnOrder] = msg.Transcript
			}
		case "Termination":
			var msg terminationMessage
			_ = json.Unmarshal(message, &msg)
			a.Log.WithField("audio_seconds", msg.AudioDurationSeconds).Debug("session terminated")
			return joinTurns(turns), nil
		case "Error":
			var msg errorMessage
			_ = json.Unmarshal(message, &msg)
			return "", fmt.Errorf("assemblyai: %s", msg.Error)
		default:
			a.Log.WithField("type", base.Type).Debug("unknown message type")
		}
	}
}

func joinTurns(turns map[int]string) string {
	orders := make([]int, 0, len(turns))
	for k := range turns {
		orders = append(orders, k)
	}
	sort.Ints(orders)
	parts := make([]string, 0, len(orders))
	for _, k := range orders {
		if t := strings.TrimSpace(turns[k]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
