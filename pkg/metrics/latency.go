package metrics

import (
	"sync"
	"time"
)

// Stage names used by the Tracker.
const (
	StageTranscription = "transcription"
	StageReply         = "reply"
	StageFirstAudio    = "first_audio"
	StageTotal         = "total"
)

// Latency holds the timings of one turn. All durations are measured from
// the moment capture ended.
type Latency struct {
	CaptureEnd     time.Time
	TranscriptTime time.Time
	ReplyTime      time.Time
	FirstAudioTime time.Time
	DoneTime       time.Time

	Transcription time.Duration
	Reply         time.Duration
	FirstAudio    time.Duration
	Total         time.Duration
}

// Tracker collects latency during a turn. It is safe for concurrent use.
type Tracker struct {
	metrics *Metrics

	mu       sync.Mutex
	current  Latency
	history  []Latency
	onUpdate func(Latency)
}

// NewTracker creates a tracker that also reports to m (which may be nil).
func NewTracker(m *Metrics) *Tracker {
	return &Tracker{
		metrics: m,
		history: make([]Latency, 0, 100),
	}
}

// OnUpdate sets a callback that fires whenever a mark is recorded.
func (t *Tracker) OnUpdate(fn func(Latency)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUpdate = fn
}

// MarkCaptureEnd starts a new turn.
func (t *Tracker) MarkCaptureEnd() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = Latency{CaptureEnd: time.Now()}
}

// MarkTranscript records when transcription completed.
func (t *Tracker) MarkTranscript() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.TranscriptTime = time.Now()
	t.current.Transcription = t.since(t.current.TranscriptTime)
	t.metrics.RecordStage(StageTranscription, t.current.Transcription)
	t.notify()
}

// MarkReply records when the reply text was available.
func (t *Tracker) MarkReply() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.ReplyTime = time.Now()
	t.current.Reply = t.since(t.current.ReplyTime)
	t.metrics.RecordStage(StageReply, t.current.Reply)
	t.notify()
}

// MarkFirstAudio records when the reply was first heard. Only the first
// call per turn counts.
func (t *Tracker) MarkFirstAudio() {
	t.MarkFirstAudioAt(time.Now())
}

// MarkFirstAudioAt is MarkFirstAudio with an explicit timestamp.
func (t *Tracker) MarkFirstAudioAt(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.current.FirstAudioTime.IsZero() || t.current.CaptureEnd.IsZero() || at.IsZero() {
		return
	}
	t.current.FirstAudioTime = at
	t.current.FirstAudio = t.since(t.current.FirstAudioTime)
	t.metrics.RecordStage(StageFirstAudio, t.current.FirstAudio)
	t.notify()
}

// MarkDone closes the turn and archives it.
func (t *Tracker) MarkDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current.CaptureEnd.IsZero() {
		return
	}
	t.current.DoneTime = time.Now()
	t.current.Total = t.since(t.current.DoneTime)
	t.metrics.RecordStage(StageTotal, t.current.Total)

	t.history = append(t.history, t.current)
	if len(t.history) > 100 {
		t.history = t.history[1:]
	}
	t.notify()
	t.current = Latency{}
}

// Current returns the in-progress turn.
func (t *Tracker) Current() Latency {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Average returns average latencies over recent turns.
func (t *Tracker) Average() Latency {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.history) == 0 {
		return Latency{}
	}

	var avg Latency
	for _, h := range t.history {
		avg.Transcription += h.Transcription
		avg.Reply += h.Reply
		avg.FirstAudio += h.FirstAudio
		avg.Total += h.Total
	}

	n := time.Duration(len(t.history))
	avg.Transcription /= n
	avg.Reply /= n
	avg.FirstAudio /= n
	avg.Total /= n
	return avg
}

// Last returns the most recently archived turn.
func (t *Tracker) Last() (Latency, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return Latency{}, false
	}
	return t.history[len(t.history)-1], true
}

// Turns returns how many turns have been archived.
func (t *Tracker) Turns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.history)
}

// must hold mu
func (t *Tracker) since(at time.Time) time.Duration {
	if t.current.CaptureEnd.IsZero() {
		return 0
	}
	return at.Sub(t.current.CaptureEnd)
}

// must hold mu
func (t *Tracker) notify() {
	if t.onUpdate != nil {
		l := t.current
		go t.onUpdate(l)
	}
}

// Format returns a one-line summary of the latencies.
func (l Latency) Format() string {
	return formatDuration(l.Transcription) + " STT | " +
		formatDuration(l.Reply) + " REPLY | " +
		formatDuration(l.FirstAudio) + " AUDIO | " +
		formatDuration(l.Total) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
