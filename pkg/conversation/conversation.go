// Package conversation defines the turn and conversation types shared by the
// orchestrator, the ledger and the reply providers.
package conversation

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser is a transcribed user utterance.
	RoleUser Role = "user"

	// RoleAssistant is a generated or fallback reply.
	RoleAssistant Role = "assistant"

	// RoleSystem carries instructions that are never rendered or spoken.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ParseRole normalizes a persisted role string.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Turn is one role-tagged message. Turns are values; once appended to a
// conversation they are never edited.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content, Timestamp: time.Now()}
}

// Conversation is an ordered sequence of turns under one session id.
type Conversation struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Turns     []Turn    `json:"messages"`
}

// New returns an empty conversation.
func New(id string, startedAt time.Time) Conversation {
	return Conversation{ID: id, StartedAt: startedAt}
}

// Clone returns a copy whose turn slice does not alias c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Turns = append([]Turn(nil), c.Turns...)
	return out
}

// FirstAssistant returns the first assistant turn, normally the greeting.
func (c Conversation) FirstAssistant() (Turn, bool) {
	for _, t := range c.Turns {
		if t.Role == RoleAssistant {
			return t, true
		}
	}
	return Turn{}, false
}

// LastUser returns up to n most recent user turns, oldest first.
func (c Conversation) LastUser(n int) []Turn {
	if n <= 0 {
		return nil
	}
	var out []Turn
	for i := len(c.Turns) - 1; i >= 0 && len(out) < n; i-- {
		if c.Turns[i].Role == RoleUser {
			out = append(out, c.Turns[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Visible returns the turns a user would see, dropping system turns.
func Visible(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Role != RoleSystem {
			out = append(out, t)
		}
	}
	return out
}
