package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range envNames {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDRESS", ":9090")
	t.Setenv("TTS_PROVIDER", "deepgram")
	t.Setenv("DEEPGRAM_API_KEY", "dg")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("address = %q", cfg.Server.Address)
	}
	if cfg.RTC.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.Providers.CerebrasModel == "" {
		t.Fatalf("expected default cerebras model id")
	}
	if cfg.Providers.TTS != ProviderDeepgram || cfg.Providers.DeepgramKey != "dg" {
		t.Fatalf("providers = %+v", cfg.Providers)
	}
	if cfg.Dialog.Segmenter.SilenceTimeout != time.Second || cfg.Dialog.MinAudioBytes != 2500 {
		t.Fatalf("dialog = %+v", cfg.Dialog)
	}
	if cfg.Sink.Capacity != 50 || cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Fatalf("sink=%+v server=%+v", cfg.Sink, cfg.Server)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "covercall.yaml")
	body := `
dialog:
  error_threshold: 5
  segmenter:
    natural_pause: 400ms
    silence_timeout: 1200ms
dispatch:
  url: http://dispatch.local
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Dialog.ErrorThreshold != 5 {
		t.Fatalf("threshold = %d", cfg.Dialog.ErrorThreshold)
	}
	if cfg.Dialog.Segmenter.NaturalPause != 400*time.Millisecond || cfg.Dialog.Segmenter.SilenceTimeout != 1200*time.Millisecond {
		t.Fatalf("segmenter = %+v", cfg.Dialog.Segmenter)
	}
	if cfg.Dialog.Segmenter.EarlyCutoff != 5*time.Second {
		t.Fatalf("unset tunable lost its default: %v", cfg.Dialog.Segmenter.EarlyCutoff)
	}
	if cfg.Dispatch.URL != "http://dispatch.local" {
		t.Fatalf("dispatch = %q", cfg.Dispatch.URL)
	}
}

func TestLoad_RejectsBadOrdering(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	body := "dialog:\n  segmenter:\n    min_speech: 2s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected min_speech >= silence_timeout to be rejected")
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "mystery")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "llm provider") {
		t.Fatalf("err = %v", err)
	}
}

func TestWarnings(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	w := cfg.Warnings()
	if len(w) != 4 {
		t.Fatalf("warnings = %v", w)
	}
	cfg.Providers.OpenAIKey = "k"
	cfg.Twilio.AuthToken = "t"
	if w := cfg.Warnings(); len(w) != 0 {
		t.Fatalf("warnings = %v", w)
	}
}
