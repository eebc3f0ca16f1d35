package main

import (
	"context"
	"io"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/sink"
	"github.com/chadiek/covercall/internal/transcript"
	"github.com/chadiek/covercall/internal/tts"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBuildServices_Selection(t *testing.T) {
	svc, err := buildServices(config.Providers{
		STT: config.ProviderAssemblyAI,
		LLM: config.ProviderCerebras,
		TTS: config.ProviderDeepgram,
	}, quietLog())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := svc.Transcriber.(*transcript.AssemblyAI); !ok {
		t.Fatalf("transcriber = %T", svc.Transcriber)
	}
	if c, ok := svc.Generator.(*llm.ChatClient); !ok || c.Name != "cerebras" {
		t.Fatalf("generator = %#v", svc.Generator)
	}
	if _, ok := svc.Synthesizer.(*tts.Deepgram); !ok {
		t.Fatalf("synthesizer = %T", svc.Synthesizer)
	}
	if got := svc.Synthesizer.SampleRate(); got != deepgramRate {
		t.Fatalf("sample rate = %d", got)
	}
}

func TestBuildServices_Unknown(t *testing.T) {
	cases := []config.Providers{
		{STT: "whisper.cpp", LLM: config.ProviderOpenAI, TTS: config.ProviderOpenAI},
		{STT: config.ProviderOpenAI, LLM: "llama", TTS: config.ProviderOpenAI},
		{STT: config.ProviderOpenAI, LLM: config.ProviderOpenAI, TTS: "espeak"},
	}
	for _, p := range cases {
		if _, err := buildServices(p, quietLog()); err == nil {
			t.Fatalf("expected error for %+v", p)
		}
	}
}

func TestOpenStore(t *testing.T) {
	store, closeStore, err := openStore(context.Background(), config.Sink{Capacity: 5})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	closeStore()
	if _, ok := store.(*sink.MemoryStore); !ok {
		t.Fatalf("store = %T", store)
	}

	mr := miniredis.RunT(t)
	store, closeStore, err = openStore(context.Background(), config.Sink{
		RedisURL: "redis://" + mr.Addr(),
		RedisKey: "calls",
		Capacity: 5,
	})
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*sink.RedisStore); !ok {
		t.Fatalf("store = %T", store)
	}

	if _, _, err := openStore(context.Background(), config.Sink{RedisURL: "not a url"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"serve": false, "sink": false, "console": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing %s command", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Fatalf("missing --config flag")
	}
}
