// Package rtc connects browser calls to dialog sessions over WebRTC.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/emergency"
)

// SessionDescription keeps webrtc types out of the transport layer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

var defaultICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ParseICEServers decodes a JSON list of ICE servers. An empty string
// yields a public STUN server.
func ParseICEServers(js string) ([]webrtc.ICEServer, error) {
	if strings.TrimSpace(js) == "" {
		return defaultICEServers, nil
	}
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(js), &servers); err != nil {
		return nil, fmt.Errorf("rtc: ice servers: %w", err)
	}
	if len(servers) == 0 {
		return defaultICEServers, nil
	}
	return servers, nil
}

// Handler creates one peer connection and one dialog session per call.
type Handler struct {
	sessions *dialog.Manager
	ice      []webrtc.ICEServer
	log      logrus.FieldLogger
}

func NewHandler(sessions *dialog.Manager, ice []webrtc.ICEServer, log logrus.FieldLogger) *Handler {
	if len(ice) == 0 {
		ice = defaultICEServers
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{sessions: sessions, ice: ice, log: log.WithField("component", "rtc")}
}

func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithInterceptorRegistry(ir))
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.ice})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: OutputRate, Channels: 1},
		"persona-audio", "covercall",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, track, nil
}

// HandleOffer accepts an SDP offer and returns the answer once ICE
// gathering is complete.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("rtc: invalid offer")
	}
	pc, track, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	h.attach(uuid.NewString(), pc, track)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("rtc: no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// attach wires media and control handlers. The returned channel is closed
// when the connection reaches a terminal state.
func (h *Handler) attach(id string, pc *webrtc.PeerConnection, track *webrtc.TrackLocalStaticSample) <-chan struct{} {
	log := h.log.WithField("session_id", id)
	var sess atomic.Pointer[dialog.Session]
	done := make(chan struct{})
	var ended atomic.Bool

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.WithField("state", state.String()).Info("peer connection state")
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if !ended.CompareAndSwap(false, true) {
				return
			}
			if s := sess.Load(); s != nil {
				s.Close()
			}
			close(done)
			go pc.Close()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.WithField("state", state.String()).Debug("ice state")
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s := sess.Load()
			if s == nil {
				return
			}
			cmd, sig, err := parseControl(msg.Data)
			if err != nil {
				log.WithError(err).Warn("bad control message")
				return
			}
			switch cmd {
			case cmdHangup:
				s.Close()
			case cmdAmbient:
				if err := s.NoteAmbient(sig); err != nil {
					log.WithError(err).Warn("ambient signal rejected")
				}
			}
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.WithField("codec", remote.Codec().MimeType).Info("caller audio track")
		out, err := newOpusOutput(track)
		if err != nil {
			log.WithError(err).Error("reply track unavailable")
			return
		}
		in, err := newInbound()
		if err != nil {
			log.WithError(err).Error("caller track undecodable")
			return
		}
		s, err := h.sessions.Start(context.Background(), id, out, OutputRate, dialog.StartOptions{
			OnFailed: func(error) { go pc.Close() },
		})
		if err != nil {
			log.WithError(err).Error("session not started")
			return
		}
		sess.Store(s)
		go func() {
			<-s.Done()
			_ = pc.Close()
		}()
		go readTrack(remote, in, s, log)
	})
	return done
}

func readTrack(remote *webrtc.TrackRemote, in *inbound, s *dialog.Session, log logrus.FieldLogger) {
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			log.WithError(err).Debug("caller track ended")
			s.Close()
			return
		}
		pcm, err := in.decode(pkt.Payload)
		if err != nil {
			log.WithError(err).Debug("dropped caller packet")
			continue
		}
		if len(pcm) == 0 {
			continue
		}
		if err := s.Feed(pcm); err != nil {
			return
		}
	}
}

type controlCmd int

const (
	cmdNone controlCmd = iota
	cmdHangup
	cmdAmbient
)

type controlMessage struct {
	Type string `json:"type"`
	emergency.Signal
}

// parseControl reads a data channel message: a bare word ("hangup") or a
// JSON object with a type.
func parseControl(data []byte) (controlCmd, emergency.Signal, error) {
	text := strings.TrimSpace(string(data))
	if !strings.HasPrefix(text, "{") {
		switch strings.ToLower(text) {
		case "hangup", "bye", "stop":
			return cmdHangup, emergency.Signal{}, nil
		}
		return cmdNone, emergency.Signal{}, nil
	}
	var m controlMessage
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return cmdNone, emergency.Signal{}, fmt.Errorf("rtc: control message: %w", err)
	}
	switch strings.ToLower(m.Type) {
	case "hangup", "bye":
		return cmdHangup, emergency.Signal{}, nil
	case "ambient":
		return cmdAmbient, m.Signal, nil
	}
	return cmdNone, emergency.Signal{}, nil
}
