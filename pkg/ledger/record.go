package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/teslashibe/echospeak/pkg/conversation"
)

// Persisted history is a JSON array of conversation records with
// millisecond timestamps:
//
//	[{"id":"...","startedAt":1700000000000,
//	  "messages":[{"role":"user","content":"hi","timestamp":1700000001000}]}]
//
// Decoding is deliberately lenient. Each record and each message is decoded
// on its own so one bad element never hides the rest.

type conversationRecord struct {
	ID        string       `json:"id"`
	StartedAt int64        `json:"startedAt"`
	Messages  []turnRecord `json:"messages"`
}

type turnRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type rawConversation struct {
	ID        *string           `json:"id"`
	StartedAt json.RawMessage   `json:"startedAt"`
	Messages  []json.RawMessage `json:"messages"`
}

type rawTurn struct {
	Role      *string         `json:"role"`
	Content   *string         `json:"content"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func encodeHistory(convs []conversation.Conversation) ([]byte, error) {
	records := make([]conversationRecord, 0, len(convs))
	for _, c := range convs {
		rec := conversationRecord{
			ID:        c.ID,
			StartedAt: toMillis(c.StartedAt),
			Messages:  make([]turnRecord, 0, len(c.Turns)),
		}
		for _, t := range c.Turns {
			rec.Messages = append(rec.Messages, turnRecord{
				Role:      string(t.Role),
				Content:   t.Content,
				Timestamp: toMillis(t.Timestamp),
			})
		}
		records = append(records, rec)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

func decodeHistory(data []byte, logger *slog.Logger) []conversation.Conversation {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		logger.Warn("conversation history unreadable, starting empty", "error", err)
		return nil
	}

	convs := make([]conversation.Conversation, 0, len(elems))
	for i, elem := range elems {
		c, err := decodeConversation(elem)
		if err != nil {
			logger.Warn("skipping malformed conversation record", "index", i, "error", err)
			continue
		}
		convs = append(convs, c)
	}
	return convs
}

func decodeConversation(data json.RawMessage) (conversation.Conversation, error) {
	var raw rawConversation
	if err := json.Unmarshal(data, &raw); err != nil {
		return conversation.Conversation{}, err
	}

	var c conversation.Conversation
	if raw.ID != nil {
		c.ID = *raw.ID
	}
	startedAt, hasStart := decodeTime(raw.StartedAt)
	c.StartedAt = startedAt

	for _, m := range raw.Messages {
		var rt rawTurn
		if err := json.Unmarshal(m, &rt); err != nil || rt.Role == nil {
			continue
		}
		role, ok := conversation.ParseRole(*rt.Role)
		if !ok {
			continue
		}
		turn := conversation.Turn{Role: role}
		if rt.Content != nil {
			turn.Content = *rt.Content
		}
		ts, ok := decodeTime(rt.Timestamp)
		if !ok {
			ts = c.StartedAt
		}
		turn.Timestamp = ts
		c.Turns = append(c.Turns, turn)
	}

	if !hasStart {
		for _, t := range c.Turns {
			if !t.Timestamp.IsZero() {
				c.StartedAt = t.Timestamp
				break
			}
		}
	}
	return c, nil
}

// decodeTime accepts epoch milliseconds (number or numeric string) and
// RFC 3339 strings.
func decodeTime(raw json.RawMessage) (time.Time, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms), true
		}
		if f, err := n.Float64(); err == nil && f > 0 {
			return time.UnixMilli(int64(f)), true
		}
		return time.Time{}, false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms), true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
