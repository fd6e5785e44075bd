package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New("")

	m.RecordTurn("reply")
	m.RecordTurn("reply")
	m.RecordFailure("device_unavailable")
	m.SetFallback(true)
	m.RecordFallbackReply()
	m.RecordRecording("stopped", 2*time.Second)
	m.RecordSpeech("played")
	m.SetQueueDepth(3)
	m.SessionStarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("reply")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailuresTotal.WithLabelValues("device_unavailable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FallbackReplies))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordingsTotal.WithLabelValues("stopped")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SpeechQueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))

	m.SessionEnded()
	m.SetFallback(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.FallbackActive))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTurn("reply")
		m.RecordFailure("x")
		m.RecordStage("reply", time.Second)
		m.SetFallback(true)
		m.RecordFallbackReply()
		m.RecordRecording("stopped", time.Second)
		m.RecordSpeech("played")
		m.SetQueueDepth(1)
		m.SessionStarted()
		m.SessionEnded()
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("test")
	m.RecordTurn("fallback")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `test_turns_total{outcome="fallback"} 1`), string(body))
}

func TestTracker(t *testing.T) {
	m := New("")
	tr := NewTracker(m)

	// Marks before a turn starts are ignored.
	tr.MarkFirstAudio()
	tr.MarkDone()
	assert.Equal(t, 0, tr.Turns())

	tr.MarkCaptureEnd()
	time.Sleep(5 * time.Millisecond)
	tr.MarkTranscript()
	time.Sleep(5 * time.Millisecond)
	tr.MarkReply()
	tr.MarkFirstAudio()
	first := tr.Current().FirstAudio
	time.Sleep(2 * time.Millisecond)
	tr.MarkFirstAudio()
	tr.MarkDone()

	require.Equal(t, 1, tr.Turns())
	avg := tr.Average()
	assert.GreaterOrEqual(t, avg.Transcription, 5*time.Millisecond)
	assert.Greater(t, avg.Reply, avg.Transcription)
	assert.Equal(t, first, avg.FirstAudio, "only the first audio mark counts")
	assert.GreaterOrEqual(t, avg.Total, avg.FirstAudio)
	assert.Contains(t, avg.Format(), "TOTAL")

	assert.Equal(t, 4, testutil.CollectAndCount(m.StageDuration), "one series per stage")
}
