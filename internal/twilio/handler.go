package twilio

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/covercall/internal/archive"
	"github.com/chadiek/covercall/internal/audio"
	"github.com/chadiek/covercall/internal/dialog"
)

const (
	mediaPath           = "/twilio/media"
	recordingStatusPath = "/twilio/recording-status"
	callbackTimeout     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Twilio does not send an Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler serves the voice webhook, the media stream and the recording
// callback.
type Handler struct {
	Sessions  *dialog.Manager
	REST      REST
	Archive   *archive.Archive
	AuthToken string
	PublicURL string
	Record    bool
	Log       logrus.FieldLogger
}

// Register mounts the Twilio routes. Form webhooks are signature checked;
// the media stream is reached only through the TwiML they return.
func (h *Handler) Register(e *echo.Echo) {
	if h.Log == nil {
		h.Log = logrus.StandardLogger()
	}
	signed := ValidateSignature(h.AuthToken, h.PublicURL, h.Log)
	e.POST("/twilio/voice", h.voice, signed)
	e.POST(recordingStatusPath, h.recordingStatus, signed)
	e.GET(mediaPath, h.media)
}

func (h *Handler) voice(c echo.Context) error {
	params := Params(c)
	callSid := params["CallSid"]
	log := h.Log.WithFields(logrus.Fields{"call_sid": callSid, "component": "twilio"})
	log.WithField("from", params["From"]).Info("incoming call")

	if h.Record && h.REST != nil && callSid != "" {
		callback := BuildAbsoluteURL(c.Request(), h.PublicURL, recordingStatusPath)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			if err := h.REST.StartRecording(ctx, callSid, callback); err != nil {
				log.WithError(err).Warn("call recording not started")
				return
			}
			log.Info("call recording started")
		}()
	}

	stream := &twiml.VoiceStream{
		Url: websocketURL(BuildAbsoluteURL(c.Request(), h.PublicURL, mediaPath)),
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "callSid", Value: callSid},
		},
	}
	connect := &twiml.VoiceConnect{InnerElements: []twiml.Element{stream}}
	response, err := twiml.Voice([]twiml.Element{connect})
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func (h *Handler) media(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.Log.WithError(err).Warn("media stream upgrade failed")
		return nil
	}
	defer conn.Close()

	start, err := awaitStart(conn)
	if err != nil {
		h.Log.WithError(err).Warn("media stream closed before start")
		return nil
	}
	callSid := start.CallSid
	if callSid == "" {
		callSid = start.CustomParameters["callSid"]
	}
	id := callSid
	if id == "" {
		id = uuid.NewString()
	}
	log := h.Log.WithFields(logrus.Fields{"call_sid": callSid, "stream_sid": start.StreamSid, "component": "twilio"})

	out := &mediaOutput{conn: conn, streamSid: start.StreamSid}
	s, err := h.Sessions.Start(context.Background(), id, out, TelephonyRate, dialog.StartOptions{
		OnFailed: func(err error) {
			if h.REST == nil || callSid == "" {
				return
			}
			go h.hangup(callSid, log)
		},
	})
	if err != nil {
		log.WithError(err).Error("session not started")
		return nil
	}
	log.Info("media stream connected")

	go func() {
		<-s.Done()
		_ = conn.Close()
	}()
	h.pump(conn, s, log)
	s.Close()
	<-s.Done()
	log.Info("media stream ended")
	return nil
}

// pump feeds caller audio into the session until the stream stops.
func (h *Handler) pump(conn *websocket.Conn, s *dialog.Session, log logrus.FieldLogger) {
	rs := audio.NewResampler(TelephonyRate, audio.AnalysisRate)
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.WithError(err).Debug("media stream read ended")
			return
		}
		switch msg.Event {
		case "media":
			pcm, err := decodeMedia(msg)
			if err != nil {
				log.WithError(err).Warn("bad media frame")
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			if err := s.Feed(rs.Process(pcm)); err != nil {
				return
			}
		case "stop":
			return
		}
	}
}

func (h *Handler) hangup(callSid string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()
	if err := h.REST.Hangup(ctx, callSid); err != nil {
		log.WithError(err).Error("hang up failed")
		return
	}
	log.Info("call completed after session failure")
}

func (h *Handler) recordingStatus(c echo.Context) error {
	params := Params(c)
	sid := params["RecordingSid"]
	status := params["RecordingStatus"]
	log := h.Log.WithFields(logrus.Fields{
		"call_sid":      params["CallSid"],
		"recording_sid": sid,
		"component":     "twilio",
	})
	log.WithFields(logrus.Fields{"status": status, "duration": params["RecordingDuration"]}).Info("recording status")

	switch status {
	case "completed":
		recordingURL := params["RecordingUrl"]
		if recordingURL == "" || h.REST == nil {
			break
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
			defer cancel()
			wav, err := h.REST.DownloadRecording(ctx, recordingURL)
			if err != nil {
				log.WithError(err).Error("recording download failed")
				return
			}
			if _, err := h.Archive.SaveRecording(sid, wav); err != nil {
				log.WithError(err).Error("recording upload failed")
			}
		}()
	case "failed", "absent":
		log.Warn("recording failed or absent")
	}
	return c.String(http.StatusOK, "OK")
}
