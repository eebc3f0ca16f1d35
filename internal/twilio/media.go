package twilio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chadiek/covercall/internal/audio"
)

// TelephonyRate is the Media Streams sample rate.
const TelephonyRate = 8000

const writeWait = 5 * time.Second

type streamMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *streamStart `json:"start,omitempty"`
	Media     *streamMedia `json:"media,omitempty"`
}

type streamStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type streamMedia struct {
	Track   string `json:"track,omitempty"`
	Payload string `json:"payload"`
}

var errNoStart = errors.New("twilio: stream ended before start")

// awaitStart reads until the start event.
func awaitStart(conn *websocket.Conn) (*streamStart, error) {
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("twilio: read stream: %w", err)
		}
		switch msg.Event {
		case "start":
			if msg.Start == nil {
				return nil, errNoStart
			}
			if msg.Start.StreamSid == "" {
				msg.Start.StreamSid = msg.StreamSid
			}
			return msg.Start, nil
		case "stop":
			return nil, errNoStart
		}
	}
}

// decodeMedia returns the inbound caller audio of a media event, or nil.
func decodeMedia(msg streamMessage) ([]int16, error) {
	if msg.Media == nil || (msg.Media.Track != "" && msg.Media.Track != "inbound") {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("twilio: media payload: %w", err)
	}
	return audio.MulawDecode(raw), nil
}

// mediaOutput sends paced playback blocks back into the call.
type mediaOutput struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	streamSid string
}

func (o *mediaOutput) WriteBlock(pcm []int16) error {
	msg := streamMessage{
		Event:     "media",
		StreamSid: o.streamSid,
		Media:     &streamMedia{Payload: base64.StdEncoding.EncodeToString(audio.MulawEncode(pcm))},
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteJSON(msg)
}
