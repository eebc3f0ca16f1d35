// Package persona holds the disguise character: what it says unprompted,
// the instruction given to the generator, and how its replies are parsed.
package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Persona is loaded from YAML.
type Persona struct {
	Name        string   `yaml:"name"`
	Language    string   `yaml:"language"`
	Greeting    string   `yaml:"greeting"`
	NoInput     string   `yaml:"no_input"`
	Fallbacks   []string `yaml:"fallbacks"`
	Instruction string   `yaml:"instruction"`
}

// Default returns the built-in pizza shop persona.
func Default() Persona {
	p, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("persona: embedded default is invalid: %v", err))
	}
	return p
}

// Load reads a persona file. An empty path yields Default.
func Load(path string) (Persona, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("persona: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates persona YAML.
func Parse(b []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Persona{}, fmt.Errorf("persona: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	if p.Language == "" {
		p.Language = "en"
	}
	return p, nil
}

// Validate checks the lines every session relies on.
func (p Persona) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Instruction) == "" {
		missing = append(missing, "instruction")
	}
	if strings.TrimSpace(p.Greeting) == "" {
		missing = append(missing, "greeting")
	}
	if len(p.Fallbacks) == 0 {
		missing = append(missing, "fallbacks")
	}
	if len(missing) > 0 {
		return errors.New("persona: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Fallback returns the apology line for the n-th fallback of a session
// (zero based). Later fallbacks reuse the last line.
func (p Persona) Fallback(n int) string {
	if n < 0 {
		n = 0
	}
	if n >= len(p.Fallbacks) {
		n = len(p.Fallbacks) - 1
	}
	return p.Fallbacks[n]
}

// Lines returns every scripted line, for pre-synthesis.
func (p Persona) Lines() []string {
	out := []string{p.Greeting}
	if p.NoInput != "" {
		out = append(out, p.NoInput)
	}
	return append(out, p.Fallbacks...)
}
