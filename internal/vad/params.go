// Package vad segments a framed audio stream into caller utterances using
// speech-band energy, a two-stage end-of-speech check and hard time limits.
package vad

import (
	"fmt"
	"time"
)

// Params are the segmenter tunables.
type Params struct {
	Threshold     float64       `mapstructure:"threshold" yaml:"threshold"`           // band level 0..255
	SpeechFrames  int           `mapstructure:"speech_frames" yaml:"speech_frames"`   // debounce before speech is confirmed
	SilenceFrames int           `mapstructure:"silence_frames" yaml:"silence_frames"` // consecutive quiet frames for a potential end
	NaturalPause  time.Duration `mapstructure:"natural_pause" yaml:"natural_pause"`
	// SilenceTimeout is measured from the start of the pause.
	SilenceTimeout time.Duration `mapstructure:"silence_timeout" yaml:"silence_timeout"`
	EarlyCutoff    time.Duration `mapstructure:"early_cutoff" yaml:"early_cutoff"`
	MaxListening   time.Duration `mapstructure:"max_listening" yaml:"max_listening"`
	MinSpeech      time.Duration `mapstructure:"min_speech" yaml:"min_speech"`
	PreRoll        time.Duration `mapstructure:"pre_roll" yaml:"pre_roll"`
}

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	return Params{
		Threshold:      12,
		SpeechFrames:   3,
		SilenceFrames:  15,
		NaturalPause:   500 * time.Millisecond,
		SilenceTimeout: 1000 * time.Millisecond,
		EarlyCutoff:    5000 * time.Millisecond,
		MaxListening:   15000 * time.Millisecond,
		MinSpeech:      300 * time.Millisecond,
		PreRoll:        200 * time.Millisecond,
	}
}

// ParamError reports an invalid tunable.
type ParamError struct {
	Field   string
	Message string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("vad: invalid %s: %s", e.Field, e.Message)
}

// Validate checks ranges and the ordering
// MinSpeech < SilenceTimeout < EarlyCutoff < MaxListening.
func (p Params) Validate() error {
	if p.Threshold <= 0 || p.Threshold > 255 {
		return &ParamError{Field: "threshold", Message: "must be in (0, 255]"}
	}
	if p.SpeechFrames < 1 {
		return &ParamError{Field: "speech_frames", Message: "must be at least 1"}
	}
	if p.SilenceFrames < 1 {
		return &ParamError{Field: "silence_frames", Message: "must be at least 1"}
	}
	if p.MinSpeech <= 0 {
		return &ParamError{Field: "min_speech", Message: "must be positive"}
	}
	if p.PreRoll < 0 {
		return &ParamError{Field: "pre_roll", Message: "must not be negative"}
	}
	if p.NaturalPause <= 0 || p.NaturalPause > p.SilenceTimeout {
		return &ParamError{Field: "natural_pause", Message: "must be positive and not exceed silence_timeout"}
	}
	if p.MinSpeech >= p.SilenceTimeout {
		return &ParamError{Field: "silence_timeout", Message: "must exceed min_speech"}
	}
	if p.SilenceTimeout >= p.EarlyCutoff {
		return &ParamError{Field: "early_cutoff", Message: "must exceed silence_timeout"}
	}
	if p.EarlyCutoff >= p.MaxListening {
		return &ParamError{Field: "max_listening", Message: "must exceed early_cutoff"}
	}
	return nil
}
