package dialog

import (
	"sync"

	"github.com/chadiek/covercall/internal/llm"
)

// History is the append-only conversation of a session. Only the session's
// own round trip appends; the lock serves snapshot readers.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turns...)
	h.mu.Unlock()
}

func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Turn(nil), h.turns...)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Messages renders the history for the generator, with the persona
// instruction first and any not yet committed turns last.
func (h *History) Messages(instruction string, pending ...Turn) []llm.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]llm.Message, 0, len(h.turns)+len(pending)+1)
	if instruction != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: instruction})
	}
	for _, list := range [][]Turn{h.turns, pending} {
		for _, t := range list {
			role := llm.RoleUser
			if t.Role == RolePersona {
				role = llm.RoleAssistant
			}
			out = append(out, llm.Message{Role: role, Content: t.Text})
		}
	}
	return out
}
