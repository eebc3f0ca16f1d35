package persona

import (
	"encoding/json"
	"strings"

	"github.com/chadiek/covercall/internal/emergency"
)

// Kind tags a parsed reply.
type Kind int

const (
	// PlainText replies could not be read as the structured format; the
	// whole raw text is spoken and no fields are extracted.
	PlainText Kind = iota
	Structured
)

func (k Kind) String() string {
	if k == Structured {
		return "structured"
	}
	return "plain-text"
}

// Reply is the result of parsing one generation.
type Reply struct {
	Kind   Kind
	Say    string
	Fields emergency.Fields
	Raw    string
}

// ParseReply reads a generation strictly as {"say", "data"} (also accepting
// "spoken_text" and "structured_fields"), tolerating code fences and text
// around the object. Anything else degrades to PlainText.
func ParseReply(raw string) Reply {
	text := strings.TrimSpace(raw)
	plain := Reply{Kind: PlainText, Say: text, Raw: raw}
	if text == "" {
		return plain
	}

	obj, ok := decodeObject(stripFence(text))
	if !ok {
		return plain
	}
	say := firstString(obj, "say", "spoken_text")
	if say == "" {
		return plain
	}
	var fields emergency.Fields
	for _, key := range []string{"data", "structured_fields"} {
		if m, ok := obj[key].(map[string]any); ok {
			fields = emergency.FromMap(m)
			break
		}
	}
	return Reply{Kind: Structured, Say: say, Fields: fields, Raw: raw}
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil {
		return obj, true
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
