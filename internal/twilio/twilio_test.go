package twilio

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/covercall/internal/archive"
	"github.com/chadiek/covercall/internal/audio"
	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/transcript"
)

const token = "secret-token"

type fakeREST struct {
	mu         sync.Mutex
	recordings []string
	hangups    []string
	wav        []byte
	started    chan string
}

func (f *fakeREST) StartRecording(_ context.Context, callSid, callback string) error {
	f.mu.Lock()
	f.recordings = append(f.recordings, callback)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- callSid
	}
	return nil
}

func (f *fakeREST) Hangup(_ context.Context, callSid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callSid)
	return nil
}

func (f *fakeREST) DownloadRecording(context.Context, string) ([]byte, error) {
	return f.wav, nil
}

type chanUploader struct{ keys chan string }

func (u chanUploader) Upload(key, _ string, _ []byte) error {
	u.keys <- key
	return nil
}

type nopTranscriber struct{}

func (nopTranscriber) Transcribe(context.Context, transcript.Request) (string, error) { return "", nil }

type nopGenerator struct{}

func (nopGenerator) Complete(context.Context, []llm.Message) (string, error) {
	return `{"say":"ok"}`, nil
}

type toneSynth struct{}

func (toneSynth) SampleRate() int { return audio.AnalysisRate }

func (toneSynth) Stream(context.Context, string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 1)
	errc := make(chan error)
	pcm <- make([]byte, 1280)
	close(pcm)
	close(errc)
	return pcm, errc
}

func sign(fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data := fullURL
	for _, k := range keys {
		data += k + form.Get(k)
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newServer(t *testing.T, h *Handler) *echo.Echo {
	t.Helper()
	if h.Sessions == nil {
		m, err := dialog.NewManager(dialog.DefaultConfig(), dialog.Services{
			Transcriber: nopTranscriber{},
			Generator:   nopGenerator{},
			Synthesizer: toneSynth{},
		}, dialog.Deps{Persona: persona.Default(), Log: quiet()})
		require.NoError(t, err)
		h.Sessions = m
	}
	h.AuthToken = token
	h.Log = quiet()
	e := echo.New()
	h.Register(e)
	return e
}

func signedPost(path string, form url.Values, signature string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Host = "example.com"
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	r.Header.Set("X-Twilio-Signature", signature)
	return r
}

func TestVoice_ReturnsStreamTwiML(t *testing.T) {
	rest := &fakeREST{started: make(chan string, 1)}
	e := newServer(t, &Handler{REST: rest, Record: true})

	form := url.Values{"CallSid": {"CA123"}, "From": {"+15550100"}}
	r := signedPost("/twilio/voice", form, sign("https://example.com/twilio/voice", form))
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<Connect>")
	assert.Contains(t, body, `url="wss://example.com/twilio/media"`)
	assert.Contains(t, body, `name="callSid"`)
	assert.Contains(t, body, `value="CA123"`)

	select {
	case sid := <-rest.started:
		assert.Equal(t, "CA123", sid)
	case <-time.After(2 * time.Second):
		t.Fatal("recording not started")
	}
	assert.Equal(t, []string{"https://example.com/twilio/recording-status"}, rest.recordings)
}

func TestVoice_RejectsBadSignature(t *testing.T) {
	e := newServer(t, &Handler{})
	form := url.Values{"CallSid": {"CA123"}}

	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedPost("/twilio/voice", form, "bogus"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	e.ServeHTTP(w, signedPost("/twilio/voice", form, ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVoice_MissingToken(t *testing.T) {
	e := echo.New()
	(&Handler{Log: quiet()}).Register(e)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedPost("/twilio/voice", url.Values{}, "x"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecordingStatus_Archives(t *testing.T) {
	up := chanUploader{keys: make(chan string, 1)}
	rest := &fakeREST{wav: []byte("RIFF")}
	e := newServer(t, &Handler{REST: rest, Archive: archive.New(up, quiet())})

	form := url.Values{
		"CallSid":         {"CA1"},
		"RecordingSid":    {"RE1"},
		"RecordingStatus": {"completed"},
		"RecordingUrl":    {"https://api.twilio.com/rec/RE1"},
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedPost("/twilio/recording-status", form, sign("https://example.com/twilio/recording-status", form)))
	require.Equal(t, http.StatusOK, w.Code)

	select {
	case key := <-up.keys:
		assert.True(t, strings.HasPrefix(key, "recordings/recording_RE1_"), key)
	case <-time.After(2 * time.Second):
		t.Fatal("recording not archived")
	}
}

func TestMediaStream_GreetsAndEnds(t *testing.T) {
	h := &Handler{}
	e := newServer(t, h)
	srv := httptest.NewServer(e)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+mediaPath, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(streamMessage{Event: "connected"}))
	require.NoError(t, conn.WriteJSON(streamMessage{
		Event:     "start",
		StreamSid: "MZ1",
		Start:     &streamStart{StreamSid: "MZ1", CallSid: "CA9"},
	}))

	silence := base64.StdEncoding.EncodeToString(audio.MulawEncode(make([]int16, 160)))
	require.NoError(t, conn.WriteJSON(streamMessage{Event: "media", Media: &streamMedia{Track: "inbound", Payload: silence}}))

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "media", msg.Event)
	assert.Equal(t, "MZ1", msg.StreamSid)
	raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	require.NoError(t, err)
	assert.Len(t, raw, 160)

	s, ok := h.Sessions.Get("CA9")
	require.True(t, ok)

	require.NoError(t, conn.WriteJSON(streamMessage{Event: "stop"}))
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end after stop")
	}
	assert.Equal(t, dialog.Closed, s.State())
}

func TestBuildAbsoluteURL(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	r.Host = "localhost:8080"
	assert.Equal(t, "http://localhost:8080/a", BuildAbsoluteURL(r, "", "a"))
	assert.Equal(t, "https://pub.example/a", BuildAbsoluteURL(r, "https://pub.example/", "/a"))

	r.Header.Set("X-Forwarded-Proto", "https")
	r.Header.Set("X-Forwarded-Host", "tunnel.example")
	assert.Equal(t, "https://tunnel.example/a", BuildAbsoluteURL(r, "", "/a"))

	assert.Equal(t, "wss://x/y", websocketURL("https://x/y"))
	assert.Equal(t, "ws://x/y", websocketURL("http://x/y"))
}
