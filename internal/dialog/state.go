// Package dialog runs the turn-taking loop of a disguised call: it decides
// when the caller has finished, round-trips the utterance through the
// speech and generation services, and plays the persona's reply.
package dialog

import (
	"errors"
	"time"
)

// ErrSessionClosed is returned by inputs sent to a session that has ended.
var ErrSessionClosed = errors.New("dialog: session closed")

// State is the coordinator state of a session.
type State int

const (
	Idle State = iota
	Listening
	Uploading
	AwaitingReply
	Speaking
	Failed
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Uploading:
		return "uploading"
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	case Failed:
		return "failed"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON views.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal reports whether the session has ended.
func (s State) Terminal() bool { return s == Failed || s == Closed }

// InFlight reports whether an utterance is being processed.
func (s State) InFlight() bool { return s == Uploading || s == AwaitingReply }

type Role string

const (
	RolePersona Role = "persona"
	RoleCaller  Role = "caller"
)

// Turn is one line of the conversation.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}
