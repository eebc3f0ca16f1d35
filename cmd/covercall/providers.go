package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/config"
	"github.com/chadiek/covercall/internal/dialog"
	"github.com/chadiek/covercall/internal/dispatch"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/transcript"
	"github.com/chadiek/covercall/internal/tts"
)

const deepgramRate = 24000

func buildServices(p config.Providers, log logrus.FieldLogger) (dialog.Services, error) {
	var svc dialog.Services
	switch p.STT {
	case config.ProviderOpenAI:
		svc.Transcriber = transcript.NewOpenAI(p.OpenAIKey, p.OpenAISTTModel)
	case config.ProviderAssemblyAI:
		svc.Transcriber = transcript.NewAssemblyAI(p.AssemblyAIKey, log)
	default:
		return svc, fmt.Errorf("unsupported stt provider %q", p.STT)
	}
	switch p.LLM {
	case config.ProviderOpenAI:
		svc.Generator = llm.NewOpenAIClient(p.OpenAIKey, p.OpenAILLMModel)
	case config.ProviderCerebras:
		svc.Generator = llm.NewCerebrasClient(p.CerebrasKey, p.CerebrasModel)
	default:
		return svc, fmt.Errorf("unsupported llm provider %q", p.LLM)
	}
	switch p.TTS {
	case config.ProviderOpenAI:
		svc.Synthesizer = tts.NewOpenAI(p.OpenAIKey, p.OpenAITTSModel, p.OpenAIVoice)
	case config.ProviderElevenLabs:
		svc.Synthesizer = tts.NewElevenLabs(p.ElevenLabsKey, p.ElevenLabsVoiceID, log)
	case config.ProviderDeepgram:
		svc.Synthesizer = tts.NewDeepgram(p.DeepgramKey, p.DeepgramModel, deepgramRate, log)
	default:
		return svc, fmt.Errorf("unsupported tts provider %q", p.TTS)
	}
	return svc, nil
}

// core is what every call surface shares.
type core struct {
	sessions *dialog.Manager
	worker   *dispatch.Worker
	metrics  *metrics.Metrics
}

func buildCore(ctx context.Context, cfg config.Config, m *metrics.Metrics, log logrus.FieldLogger) (*core, error) {
	svc, err := buildServices(cfg.Providers, log)
	if err != nil {
		return nil, err
	}
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return nil, err
	}

	worker := dispatch.NewWorker(dispatch.NewClient(cfg.Dispatch.URL),
		dispatch.WithRate(cfg.Dispatch.Rate, cfg.Dispatch.Burst),
		dispatch.WithRetry(cfg.Dispatch.Attempts, cfg.Dispatch.Backoff),
		dispatch.WithWorkerLogger(log),
		dispatch.WithMetrics(m),
	)

	cache := dialog.NewClipCache()
	lines := p.Lines()
	warmCtx, cancel := context.WithTimeout(ctx, cfg.Dialog.Timeouts.Synthesize*time.Duration(len(lines)))
	defer cancel()
	if err := cache.Warm(warmCtx, svc.Synthesizer, lines); err != nil {
		// scripted lines fall back to live synthesis
		log.WithError(err).Warn("clip cache warm incomplete")
	}

	sessions, err := dialog.NewManager(cfg.Dialog, svc, dialog.Deps{
		Persona:   p,
		Forwarder: worker,
		Cache:     cache,
		Log:       log,
		Metrics:   m,
	})
	if err != nil {
		return nil, err
	}
	return &core{sessions: sessions, worker: worker, metrics: m}, nil
}
