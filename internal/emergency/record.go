package emergency

import (
	"strings"
	"time"
)

// Completeness scores how much of the schema is known, in whole percent.
type Completeness struct {
	Required int `json:"required"`
	Details  int `json:"emergency_details"`
	Overall  int `json:"overall"`
}

// Record is the monotonic merge of every Fields seen in a session.
type Record struct {
	Fields
	LikelyEmergency bool         `json:"likely_emergency"`
	Completeness    Completeness `json:"completeness"`
	LastUpdated     time.Time    `json:"last_updated"`
	Signals         []Signal     `json:"ambient,omitempty"`
}

// urgencyWords mark an urgency answer as pressing.
var urgencyWords = []string{"urgent", "asap", "immediately", "emergency", "right now"}

func score(f Fields) Completeness {
	r, e := 0, 0
	for _, n := range identityFields {
		if !blank(f.Get(n)) {
			r++
		}
	}
	for _, n := range detailFields {
		if !blank(f.Get(n)) {
			e++
		}
	}
	return Completeness{
		Required: r * 100 / len(identityFields),
		Details:  e * 100 / len(detailFields),
		Overall:  (r + e) * 100 / (len(identityFields) + len(detailFields)),
	}
}

func likely(f Fields) bool {
	if !blank(f.EmergencyType) || !blank(f.ThreatDetails) || !blank(f.Injuries) {
		return true
	}
	u := strings.ToLower(f.Urgency)
	for _, w := range urgencyWords {
		if strings.Contains(u, w) {
			return true
		}
	}
	return false
}
