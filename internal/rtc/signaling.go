package rtc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the trickle signaling format.
// Types: auth, offer, answer, candidate, ice-complete, bye, error.
type signalMessage struct {
	Type          string  `json:"type"`
	Password      string  `json:"password,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn serialises writes; pion callbacks and the handler both write.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(m signalMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(m)
}

func (c *wsConn) fail(err error) {
	_ = c.send(signalMessage{Type: "error", Error: err.Error()})
}

func passwordMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// ServeWebSocket performs offer/answer with trickle ICE over a websocket.
// When password is non-empty the first message must be an auth message
// carrying it.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request, password string) {
	raw, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("signaling upgrade failed")
		return
	}
	defer raw.Close()
	conn := &wsConn{conn: raw}

	if password != "" {
		var m signalMessage
		if err := raw.ReadJSON(&m); err != nil || strings.ToLower(m.Type) != "auth" || !passwordMatches(m.Password, password) {
			conn.fail(errors.New("unauthorized"))
			return
		}
	}

	offer, err := awaitOffer(raw)
	if err != nil {
		return
	}

	pc, track, err := h.newPeer()
	if err != nil {
		conn.fail(err)
		return
	}
	defer pc.Close()

	id := uuid.NewString()
	log := h.log.WithField("session_id", id)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	done := h.attach(id, pc, track)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		conn.fail(err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		conn.fail(err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		conn.fail(err)
		return
	}
	if err := conn.send(signalMessage{Type: "answer", SDP: answer.SDP}); err != nil {
		log.WithError(err).Warn("answer not sent")
		return
	}

	remoteDone := make(chan struct{})
	go func() {
		defer close(remoteDone)
		for {
			var m signalMessage
			if err := raw.ReadJSON(&m); err != nil {
				return
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
					log.WithError(err).Debug("remote candidate rejected")
				}
			case "bye":
				return
			}
		}
	}()

	// the websocket stays open for the whole call
	select {
	case <-done:
	case <-remoteDone:
	}
}

func awaitOffer(conn *websocket.Conn) (string, error) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, nil
			}
		case "bye":
			return "", errors.New("rtc: bye before offer")
		}
	}
}
