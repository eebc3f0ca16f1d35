package dialog

import (
	"context"
	"fmt"
	"sync"

	"github.com/chadiek/covercall/internal/tts"
)

// Clip is synthesized PCM16LE audio.
type Clip struct {
	Rate int
	PCM  []byte
}

// ClipCache holds pre-synthesized scripted lines so they can be spoken
// when the services are failing. Safe for concurrent use.
type ClipCache struct {
	mu    sync.RWMutex
	clips map[string]Clip
}

func NewClipCache() *ClipCache {
	return &ClipCache{clips: map[string]Clip{}}
}

// Warm synthesizes every line not cached yet. It keeps going after a
// failure and returns the first error.
func (c *ClipCache) Warm(ctx context.Context, s tts.Synthesizer, lines []string) error {
	var first error
	for _, line := range lines {
		if _, ok := c.Get(line); ok || line == "" {
			continue
		}
		pcm, err := tts.Collect(ctx, s, line)
		if err != nil {
			if first == nil {
				first = fmt.Errorf("warm %q: %w", line, err)
			}
			continue
		}
		c.Put(line, Clip{Rate: s.SampleRate(), PCM: pcm})
	}
	return first
}

func (c *ClipCache) Put(text string, clip Clip) {
	c.mu.Lock()
	c.clips[text] = clip
	c.mu.Unlock()
}

func (c *ClipCache) Get(text string) (Clip, bool) {
	if c == nil {
		return Clip{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	clip, ok := c.clips[text]
	return clip, ok && len(clip.PCM) > 0
}
