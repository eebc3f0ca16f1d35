package emergency

import (
	"errors"
	"strings"
	"time"
)

// DefaultMinConfidence is the classifier score below which ambient events
// are ignored.
const DefaultMinConfidence = 0.5

// maxSignals bounds the ambient history kept on a record.
const maxSignals = 20

// Categories the ambient classifier reports.
var Categories = []string{"Alarm", "Screaming", "Crying", "Gunshot", "Glass", "Explosion", "Fire"}

// Signal is one ambient-sound detection. It enriches a record and never
// drives the conversation.
type Signal struct {
	Category   string    `json:"category"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrUnknownCategory is returned for signals outside Categories.
var ErrUnknownCategory = errors.New("emergency: unknown ambient category")

// Normalize canonicalizes the category and checks it is known.
func (s Signal) Normalize() (Signal, error) {
	for _, c := range Categories {
		if strings.EqualFold(c, strings.TrimSpace(s.Category)) {
			s.Category = c
			if s.Timestamp.IsZero() {
				s.Timestamp = time.Now().UTC()
			}
			return s, nil
		}
	}
	return s, ErrUnknownCategory
}
