package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/ledger"
	"github.com/teslashibe/echospeak/pkg/metrics"
	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/orchestrator"
)

// fakeController records calls and answers from its fields.
type fakeController struct {
	mu       sync.Mutex
	state    orchestrator.State
	user     string
	fallback bool
	turns    []conversation.Turn
	canStart bool
	canStop  bool
	resets   int
}

func (f *fakeController) StartSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != orchestrator.Closed {
		return "", orchestrator.ErrSessionOpen
	}
	f.state = orchestrator.Idle
	greeting := "Hello " + f.user + "!"
	f.turns = []conversation.Turn{conversation.NewTurn(conversation.RoleAssistant, greeting)}
	return greeting, nil
}

func (f *fakeController) StartRecording() bool { return f.canStart }
func (f *fakeController) StopRecording() bool  { return f.canStop }

func (f *fakeController) EndCall() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == orchestrator.Closed {
		return orchestrator.ErrNoSession
	}
	f.state = orchestrator.Closed
	return nil
}

func (f *fakeController) ResetFallback() {
	f.mu.Lock()
	f.resets++
	f.fallback = false
	f.mu.Unlock()
}

func (f *fakeController) SetUserName(name string) {
	f.mu.Lock()
	f.user = name
	f.mu.Unlock()
}

func (f *fakeController) State() orchestrator.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Turns() []conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.Turn(nil), f.turns...)
}

func (f *fakeController) ConversationID() string { return "conv-1" }
func (f *fakeController) FallbackMode() bool     { return f.fallback }
func (f *fakeController) IsSpeaking() bool       { return false }

func (f *fakeController) UserName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.user
}

type fakeHistory struct{}

func (fakeHistory) Stats() ledger.Stats { return ledger.Stats{TotalConversations: 4, UserName: "Sam"} }

func (fakeHistory) RecentTopics(user string) []string {
	if user == "Sam" {
		return []string{"the weather"}
	}
	return nil
}

func newTestServer(t *testing.T, ctl *fakeController) (*Server, *notify.Recorder) {
	t.Helper()
	notes := notify.NewRecorder(0)
	s, err := NewServer(Config{
		Controller:    ctl,
		History:       fakeHistory{},
		Hub:           hub.New("events", log.Discard()),
		Notifications: notes,
		Metrics:       metrics.New("test"),
		Latency:       metrics.NewTracker(nil),
		Logger:        log.Discard(),
	})
	require.NoError(t, err)
	return s, notes
}

func do(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func TestSessionLifecycle(t *testing.T) {
	ctl := &fakeController{}
	s, _ := newTestServer(t, ctl)

	code, body := do(t, s, http.MethodPost, "/api/session", `{"user_name":"Sam"}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Hello Sam!", body["greeting"])
	assert.Equal(t, "conv-1", body["conversation_id"])

	code, _ = do(t, s, http.MethodPost, "/api/session", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, "Sam", body["user_name"])

	code, body = do(t, s, http.MethodGet, "/api/conversation", "")
	assert.Equal(t, http.StatusOK, code)
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)

	code, _ = do(t, s, http.MethodPost, "/api/call/end", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = do(t, s, http.MethodPost, "/api/call/end", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestRecordingRoutes(t *testing.T) {
	tests := []struct {
		name    string
		allowed bool
		want    int
	}{
		{"accepted", true, http.StatusOK},
		{"refused", false, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeController{canStart: tt.allowed, canStop: tt.allowed}
			s, _ := newTestServer(t, ctl)

			code, _ := do(t, s, http.MethodPost, "/api/recording/start", "")
			assert.Equal(t, tt.want, code)
			code, _ = do(t, s, http.MethodPost, "/api/recording/stop", "")
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestFallbackReset(t *testing.T) {
	ctl := &fakeController{fallback: true}
	s, _ := newTestServer(t, ctl)

	code, body := do(t, s, http.MethodPost, "/api/fallback/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["fallback"])
	assert.Equal(t, 1, ctl.resets)
}

func TestStats(t *testing.T) {
	s, _ := newTestServer(t, &fakeController{user: "Sam"})

	code, body := do(t, s, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, body["total_conversations"])
	assert.Equal(t, []any{"the weather"}, body["recent_topics"])

	_, body = do(t, s, http.MethodGet, "/api/stats?user=Nobody", "")
	assert.Equal(t, []any{}, body["recent_topics"])
}

func TestNotifications(t *testing.T) {
	s, notes := newTestServer(t, &fakeController{})
	notify.Warning(notes, orchestrator.MsgNoSpeech)

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	resp, err := s.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []notify.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, notify.LevelWarning, got[0].Level)
	assert.Equal(t, orchestrator.MsgNoSpeech, got[0].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeController{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "test_sessions_active")
}

func TestEventsRequiresUpgrade(t *testing.T) {
	s, _ := newTestServer(t, &fakeController{})
	code, _ := do(t, s, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
