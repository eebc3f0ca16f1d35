// Package config loads process configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/chadiek/covercall/internal/dialog"
)

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderAssemblyAI = "assemblyai"
	ProviderCerebras   = "cerebras"
	ProviderElevenLabs = "elevenlabs"
	ProviderDeepgram   = "deepgram"
)

const defaultICEServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`

// Config holds application configuration.
type Config struct {
	Server      Server        `mapstructure:"server"`
	Providers   Providers     `mapstructure:"providers"`
	Dialog      dialog.Config `mapstructure:"dialog"`
	Dispatch    Dispatch      `mapstructure:"dispatch"`
	Sink        Sink          `mapstructure:"sink"`
	Twilio      Twilio        `mapstructure:"twilio"`
	Supabase    Supabase      `mapstructure:"supabase"`
	RTC         RTC           `mapstructure:"rtc"`
	PersonaFile string        `mapstructure:"persona_file"`
	Log         Log           `mapstructure:"log"`
}

type Server struct {
	Address string `mapstructure:"address"`
	// PublicURL is the externally reachable base for Twilio callbacks.
	PublicURL       string        `mapstructure:"public_url"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Providers selects and configures the speech and generation services.
type Providers struct {
	STT string `mapstructure:"stt"`
	LLM string `mapstructure:"llm"`
	TTS string `mapstructure:"tts"`

	OpenAIKey      string `mapstructure:"openai_api_key"`
	OpenAISTTModel string `mapstructure:"openai_stt_model"`
	OpenAILLMModel string `mapstructure:"openai_llm_model"`
	OpenAITTSModel string `mapstructure:"openai_tts_model"`
	OpenAIVoice    string `mapstructure:"openai_voice"`

	AssemblyAIKey string `mapstructure:"assemblyai_api_key"`

	CerebrasKey   string `mapstructure:"cerebras_api_key"`
	CerebrasModel string `mapstructure:"cerebras_model"`

	ElevenLabsKey     string `mapstructure:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `mapstructure:"elevenlabs_voice_id"`

	DeepgramKey   string `mapstructure:"deepgram_api_key"`
	DeepgramModel string `mapstructure:"deepgram_model"`
}

type Dispatch struct {
	URL      string        `mapstructure:"url"`
	Rate     float64       `mapstructure:"rate"`
	Burst    int           `mapstructure:"burst"`
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

type Sink struct {
	Address  string `mapstructure:"address"`
	RedisURL string `mapstructure:"redis_url"`
	RedisKey string `mapstructure:"redis_key"`
	Capacity int    `mapstructure:"capacity"`
}

type Twilio struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	Record     bool   `mapstructure:"record"`
}

type Supabase struct {
	URL            string `mapstructure:"url"`
	ServiceRoleKey string `mapstructure:"service_role_key"`
	Bucket         string `mapstructure:"bucket"`
}

// Enabled reports whether archive uploads are configured.
func (s Supabase) Enabled() bool { return s.URL != "" && s.ServiceRoleKey != "" }

type RTC struct {
	ICEServersJSON string `mapstructure:"ice_servers_json"`
	// Password protects the browser call endpoints when set.
	Password string `mapstructure:"password"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envNames maps keys to the variable names used by deployments.
var envNames = map[string]string{
	"server.address":                "HTTP_ADDRESS",
	"server.public_url":             "BASE_URL",
	"providers.stt":                 "STT_PROVIDER",
	"providers.llm":                 "LLM_PROVIDER",
	"providers.tts":                 "TTS_PROVIDER",
	"providers.openai_api_key":      "OPENAI_API_KEY",
	"providers.openai_stt_model":    "OPENAI_STT_MODEL",
	"providers.openai_llm_model":    "OPENAI_MODEL",
	"providers.openai_tts_model":    "OPENAI_TTS_MODEL",
	"providers.openai_voice":        "OPENAI_VOICE",
	"providers.assemblyai_api_key":  "ASSEMBLYAI_API_KEY",
	"providers.cerebras_api_key":    "CEREBRAS_API_KEY",
	"providers.cerebras_model":      "CEREBRAS_MODEL_ID",
	"providers.elevenlabs_api_key":  "ELEVENLABS_API_KEY",
	"providers.elevenlabs_voice_id": "ELEVENLABS_VOICE_ID",
	"providers.deepgram_api_key":    "DEEPGRAM_API_KEY",
	"providers.deepgram_model":      "DEEPGRAM_MODEL",
	"dialog.language":               "LANGUAGE",
	"dispatch.url":                  "DISPATCH_URL",
	"sink.address":                  "SINK_ADDRESS",
	"sink.redis_url":                "REDIS_URL",
	"twilio.account_sid":            "TWILIO_ACCOUNT_SID",
	"twilio.auth_token":             "TWILIO_AUTH_TOKEN",
	"twilio.record":                 "TWILIO_RECORD",
	"supabase.url":                  "SUPABASE_URL",
	"supabase.service_role_key":     "SUPABASE_SERVICE_ROLE_KEY",
	"supabase.bucket":               "SUPABASE_BUCKET",
	"rtc.ice_servers_json":          "ICE_SERVERS_JSON",
	"rtc.password":                  "AUTH_PASSWORD",
	"persona_file":                  "PERSONA_FILE",
	"log.level":                     "LOG_LEVEL",
	"log.format":                    "LOG_FORMAT",
}

// Load reads .env (if present), the environment and the optional YAML file
// at path, and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envNames {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("providers.stt", ProviderOpenAI)
	v.SetDefault("providers.llm", ProviderOpenAI)
	v.SetDefault("providers.tts", ProviderOpenAI)
	v.SetDefault("providers.openai_stt_model", "gpt-4o-transcribe")
	v.SetDefault("providers.openai_llm_model", "gpt-4.1-nano")
	v.SetDefault("providers.openai_tts_model", "gpt-4o-mini-tts")
	v.SetDefault("providers.openai_voice", "alloy")
	v.SetDefault("providers.cerebras_model", "gpt-oss-120b")
	v.SetDefault("providers.deepgram_model", "aura-2-thalia-en")

	d := dialog.DefaultConfig()
	v.SetDefault("dialog.language", d.Language)
	v.SetDefault("dialog.min_audio_bytes", d.MinAudioBytes)
	v.SetDefault("dialog.error_threshold", d.ErrorThreshold)
	v.SetDefault("dialog.no_input_windows", d.NoInputWindows)
	v.SetDefault("dialog.queue_size", d.QueueSize)
	v.SetDefault("dialog.timeouts.transcribe", d.Timeouts.Transcribe)
	v.SetDefault("dialog.timeouts.generate", d.Timeouts.Generate)
	v.SetDefault("dialog.timeouts.synthesize", d.Timeouts.Synthesize)
	p := d.Segmenter
	v.SetDefault("dialog.segmenter.threshold", p.Threshold)
	v.SetDefault("dialog.segmenter.speech_frames", p.SpeechFrames)
	v.SetDefault("dialog.segmenter.silence_frames", p.SilenceFrames)
	v.SetDefault("dialog.segmenter.natural_pause", p.NaturalPause)
	v.SetDefault("dialog.segmenter.silence_timeout", p.SilenceTimeout)
	v.SetDefault("dialog.segmenter.early_cutoff", p.EarlyCutoff)
	v.SetDefault("dialog.segmenter.max_listening", p.MaxListening)
	v.SetDefault("dialog.segmenter.min_speech", p.MinSpeech)
	v.SetDefault("dialog.segmenter.pre_roll", p.PreRoll)

	v.SetDefault("dispatch.url", "http://localhost:1515")
	v.SetDefault("dispatch.rate", 20.0)
	v.SetDefault("dispatch.burst", 5)
	v.SetDefault("dispatch.attempts", 3)
	v.SetDefault("dispatch.backoff", 250*time.Millisecond)

	v.SetDefault("sink.address", ":1515")
	v.SetDefault("sink.redis_key", "covercall:calls")
	v.SetDefault("sink.capacity", 50)

	v.SetDefault("twilio.record", true)
	v.SetDefault("supabase.bucket", "voice-recording")
	v.SetDefault("rtc.ice_servers_json", defaultICEServers)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks provider selection and the dialog tunables.
func (c Config) Validate() error {
	var errs []error
	if err := c.Dialog.Validate(); err != nil {
		errs = append(errs, err)
	}
	check := func(kind, got string, allowed ...string) {
		for _, a := range allowed {
			if got == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("config: unknown %s provider %q", kind, got))
	}
	check("stt", c.Providers.STT, ProviderOpenAI, ProviderAssemblyAI)
	check("llm", c.Providers.LLM, ProviderOpenAI, ProviderCerebras)
	check("tts", c.Providers.TTS, ProviderOpenAI, ProviderElevenLabs, ProviderDeepgram)
	if c.Sink.Capacity < 1 {
		errs = append(errs, errors.New("config: sink capacity must be at least 1"))
	}
	if c.Dispatch.Attempts < 1 {
		errs = append(errs, errors.New("config: dispatch attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Warnings lists missing credentials for the selected providers. The
// service still starts; the affected stage fails at call time.
func (c Config) Warnings() []string {
	p := c.Providers
	var out []string
	need := func(name, value, what string) {
		if value == "" {
			out = append(out, fmt.Sprintf("%s not set - %s will not work", name, what))
		}
	}
	switch p.STT {
	case ProviderOpenAI:
		need("OPENAI_API_KEY", p.OpenAIKey, "transcription")
	case ProviderAssemblyAI:
		need("ASSEMBLYAI_API_KEY", p.AssemblyAIKey, "transcription")
	}
	switch p.LLM {
	case ProviderOpenAI:
		need("OPENAI_API_KEY", p.OpenAIKey, "generation")
	case ProviderCerebras:
		need("CEREBRAS_API_KEY", p.CerebrasKey, "generation")
	}
	switch p.TTS {
	case ProviderOpenAI:
		need("OPENAI_API_KEY", p.OpenAIKey, "synthesis")
	case ProviderElevenLabs:
		need("ELEVENLABS_API_KEY", p.ElevenLabsKey, "synthesis")
		need("ELEVENLABS_VOICE_ID", p.ElevenLabsVoiceID, "synthesis")
	case ProviderDeepgram:
		need("DEEPGRAM_API_KEY", p.DeepgramKey, "synthesis")
	}
	if c.Twilio.AuthToken == "" {
		out = append(out, "TWILIO_AUTH_TOKEN not set - Twilio webhooks will be rejected")
	}
	return out
}
