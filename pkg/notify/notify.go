// Package notify delivers one-shot, user-visible messages such as
// "Listening..." or "Could not access microphone".
package notify

import (
	"log/slog"
	"sync"
	"time"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single message.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sink receives notifications. Notify must not block.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f.
func (f SinkFunc) Notify(n Notification) { f(n) }

// Info sends an info notification to s.
func Info(s Sink, msg string) { send(s, LevelInfo, msg) }

// Warning sends a warning notification to s.
func Warning(s Sink, msg string) { send(s, LevelWarning, msg) }

// Error sends an error notification to s.
func Error(s Sink, msg string) { send(s, LevelError, msg) }

func send(s Sink, level Level, msg string) {
	if s == nil {
		return
	}
	s.Notify(Notification{Level: level, Message: msg, Time: time.Now()})
}

// Multi fans a notification out to several sinks.
type Multi []Sink

// Notify forwards n to every non-nil sink.
func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink creates a sink that logs under the "notify" component.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{Logger: l.With("component", "notify")}
}

// Notify logs n at the matching level.
func (s *LogSink) Notify(n Notification) {
	switch n.Level {
	case LevelError:
		s.Logger.Error(n.Message)
	case LevelWarning:
		s.Logger.Warn(n.Message)
	default:
		s.Logger.Info(n.Message)
	}
}

// Recorder keeps every notification it receives. It is safe for
// concurrent use and intended for tests and the status endpoint.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

// NewRecorder creates a recorder that keeps at most limit items
// (0 keeps everything).
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

// Notify records n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if r.limit > 0 && len(r.items) > r.limit {
		r.items = r.items[len(r.items)-r.limit:]
	}
}

// All returns a copy of the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Count returns how many notifications at level were recorded.
// An empty level counts all of them.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if level == "" {
		return len(r.items)
	}
	n := 0
	for _, it := range r.items {
		if it.Level == level {
			n++
		}
	}
	return n
}

// Reset clears all recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
}

var (
	_ Sink = SinkFunc(nil)
	_ Sink = Multi(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Recorder)(nil)
)
