package ledger

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/fallback"
)

// RecentTopics returns the topic labels of the most recent conversation
// held with userName, oldest mention first, without duplicates.
//
// A conversation belongs to a user when its opening assistant greeting
// addresses them by name. Conversations with no user turns are skipped.
func (l *Ledger) RecentTopics(userName string) []string {
	name := strings.TrimSpace(userName)
	if name == "" {
		return nil
	}
	for _, c := range byRecency(l.Conversations()) {
		greeting, ok := c.FirstAssistant()
		if !ok || !addresses(greeting.Content, name) {
			continue
		}
		recent := c.LastUser(RecentTurns)
		if len(recent) == 0 {
			continue
		}
		return topicLabels(recent)
	}
	return nil
}

// addresses reports whether name occurs in text as a whole word, ignoring
// case. Word boundaries follow Unicode letters and digits.
func addresses(text, name string) bool {
	text, name = strings.ToLower(text), strings.ToLower(name)
	for i := 0; i <= len(text); {
		j := strings.Index(text[i:], name)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(name)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		first, size := utf8.DecodeRuneInString(name)
		last, _ := utf8.DecodeLastRuneInString(name)
		if !(isWord(first) && isWord(before)) && !(isWord(last) && isWord(after)) {
			return true
		}
		i = start + size
	}
	return false
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

func topicLabels(turns []conversation.Turn) []string {
	var labels []string
	seen := make(map[string]bool)
	for _, t := range turns {
		topic, ok := fallback.Classify(t.Content)
		if !ok || seen[topic.Name] {
			continue
		}
		seen[topic.Name] = true
		labels = append(labels, topic.Label)
	}
	return labels
}

// Greeting builds the opening line for a session with userName, mentioning
// what was discussed last time when anything is remembered.
func (l *Ledger) Greeting(userName string) string {
	return FormatGreeting(userName, l.RecentTopics(userName))
}

// FormatGreeting renders a greeting for name with remembered topics.
func FormatGreeting(userName string, topics []string) string {
	name := strings.TrimSpace(userName)
	hello := "Hello!"
	if name != "" {
		hello = fmt.Sprintf("Hello %s!", name)
	}
	if len(topics) == 0 {
		return hello + " I'm your AI assistant. How can I help you today?"
	}
	return fmt.Sprintf("%s Welcome back. I remember our previous conversation about %s. How can I help you today?",
		hello, joinLabels(topics))
}

// joinLabels renders "a", "a and b", "a, b and c".
func joinLabels(labels []string) string {
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
	}
}
