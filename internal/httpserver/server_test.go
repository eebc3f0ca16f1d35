package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/transcript"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, transcript.Request) (string, error) {
	return "one large pepperoni", nil
}

type stubGenerator struct{}

func (stubGenerator) Complete(context.Context, []llm.Message) (string, error) {
	return `{"say":"Sure.","data":{}}`, nil
}

type stubSynth struct{}

func (stubSynth) SampleRate() int { return 16000 }

func (stubSynth) Stream(context.Context, string) (<-chan []byte, <-chan error) {
	pcm := make(chan []byte, 1)
	errs := make(chan error)
	pcm <- make([]byte, 640)
	close(pcm)
	close(errs)
	return pcm, errs
}

type discardOutput struct{}

func (discardOutput) WriteBlock([]int16) error { return nil }

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestServer(t *testing.T) (http.Handler, *dialog.Manager) {
	t.Helper()
	m, err := dialog.NewManager(dialog.DefaultConfig(), dialog.Services{
		Transcriber: stubTranscriber{},
		Generator:   stubGenerator{},
		Synthesizer: stubSynth{},
	}, dialog.Deps{Persona: persona.Default(), Log: quietLog()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return New(Options{Sessions: m, Metrics: metrics.New("test"), Password: "secret", Log: quietLog()}), m
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRtcAuthOK(t *testing.T) {
	if !rtcAuthOK(nil, "") {
		t.Fatalf("expected true when expected empty")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !rtcAuthOK(r, "secret") {
		t.Fatalf("expected true with query password")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !rtcAuthOK(r2, "tok") {
		t.Fatalf("expected true with X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "Bearer abc")
	if !rtcAuthOK(r3, "abc") {
		t.Fatalf("expected true with Authorization bearer")
	}
	r4 := httptest.NewRequest(http.MethodGet, "/", nil)
	r4.Header.Set("Authorization", "bearer abc")
	if !rtcAuthOK(r4, "abc") {
		t.Fatalf("expected true with lowercase bearer prefix")
	}
}

func TestRtcAuthOK_NegativeCases(t *testing.T) {
	r1 := httptest.NewRequest(http.MethodGet, "/?password=wrong", nil)
	if rtcAuthOK(r1, "secret") {
		t.Fatalf("expected false with wrong query token")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "nope")
	if rtcAuthOK(r2, "secret") {
		t.Fatalf("expected false with wrong X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "Bearer nope")
	if rtcAuthOK(r3, "secret") {
		t.Fatalf("expected false with wrong bearer token")
	}
	r4 := httptest.NewRequest(http.MethodGet, "/", nil)
	r4.Header.Set("Authorization", "Basic secret")
	if rtcAuthOK(r4, "secret") {
		t.Fatalf("expected false with basic scheme")
	}
	if rtcAuthOK(nil, "secret") {
		t.Fatalf("expected false for nil request")
	}
}

func TestCall_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodGet, "/call", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestCall_Unauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodPost, "/call", `{"type":"offer","sdp":"v=0"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCall_BadJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodPost, "/call?password=secret", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCall_NoWebRTC(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodPost, "/call?password=secret", `{"type":"offer","sdp":"v=0"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSessions_ListGetAmbient(t *testing.T) {
	srv, m := newTestServer(t)

	w := serve(srv, http.MethodGet, "/sessions/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	s, err := m.Start(context.Background(), "call-1", discardOutput{}, 16000, dialog.StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	w = serve(srv, http.MethodGet, "/sessions", "")
	var views []dialog.View
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(views) != 1 || views[0].ID != "call-1" {
		t.Fatalf("unexpected list: %s", w.Body.String())
	}

	w = serve(srv, http.MethodPost, "/sessions/call-1/ambient", `{"category":"doorbell"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	w = serve(srv, http.MethodPost, "/sessions/call-1/ambient", `{"category":"gunshot","confidence":0.9}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		w = serve(srv, http.MethodGet, "/sessions/call-1", "")
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "Gunshot") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ambient signal never reached the record: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Close()
	<-s.Done()
	for m.Len() > 0 {
		if time.Now().After(deadline.Add(2 * time.Second)) {
			t.Fatalf("session not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	w = serve(srv, http.MethodGet, "/sessions/call-1", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", w.Code)
	}
}

func TestCall_NotAnOffer(t *testing.T) {
	srv, _ := newTestServer(t)
	w := serve(srv, http.MethodPost, "/call?password=secret", `{"type":"answer","sdp":"v=0"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
