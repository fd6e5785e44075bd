package tts_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/tts"
)

func TestMock(t *testing.T) {
	ctx := context.Background()

	t.Run("silence by default", func(t *testing.T) {
		m := tts.NewMock()
		result, err := m.Synthesize(ctx, "Hello world")
		if err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if result.CharCount != 11 || result.Duration != 11*time.Millisecond {
			t.Errorf("result = %d chars, %v", result.CharCount, result.Duration)
		}
		if result.Format.SampleRate != 24000 || !result.Format.IsPCM() {
			t.Errorf("unexpected format %+v", result.Format)
		}
		_ = m.Health(ctx)
		if got := m.Spoken(); len(got) != 1 || got[0] != "Hello world" {
			t.Errorf("Spoken = %v", got)
		}
		if m.Count("Health") != 1 || len(m.Calls()) != 2 {
			t.Errorf("calls = %+v", m.Calls())
		}
	})

	t.Run("failing", func(t *testing.T) {
		boom := errors.New("boom")
		m := tts.Failing(boom)
		if _, err := m.Synthesize(ctx, "Hello"); !errors.Is(err, boom) {
			t.Errorf("Synthesize = %v", err)
		}
		if err := m.Health(ctx); !errors.Is(err, boom) {
			t.Errorf("Health = %v", err)
		}
	})

	t.Run("delayed honors cancellation", func(t *testing.T) {
		m := tts.NewMock().Delayed(time.Second)
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		if _, err := m.Synthesize(ctx, "slow"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Synthesize = %v, want deadline exceeded", err)
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := tts.DefaultConfig()

	if cfg.ModelID != tts.ModelMultilingualV2 || cfg.VoiceID != tts.DefaultVoiceID {
		t.Errorf("model %q voice %q", cfg.ModelID, cfg.VoiceID)
	}
	if cfg.OutputFormat != tts.EncodingPCM24 {
		t.Errorf("format = %q", cfg.OutputFormat)
	}
	if cfg.VoiceSettings.Stability != 0.5 || cfg.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice settings = %+v", cfg.VoiceSettings)
	}
	if err := cfg.Validate(false); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("Validate = %v, want ErrNoAPIKey", err)
	}
	cfg.APIKey, cfg.VoiceID = "k", ""
	if err := cfg.Validate(true); !errors.Is(err, tts.ErrNoVoiceID) {
		t.Errorf("Validate = %v, want ErrNoVoiceID", err)
	}
}

func TestVoiceID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"sarah", "EXAVITQu4vr4xnSDxMaL"},
		{"rachel", "21m00Tcm4TlvDq8ikWAM"},
		{"customVoiceID", "customVoiceID"},
	}
	for _, tt := range tests {
		if got := tts.VoiceID(tt.in); got != tt.want {
			t.Errorf("VoiceID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSampleRateFromEncoding(t *testing.T) {
	tests := []struct {
		enc  tts.Encoding
		want int
	}{
		{tts.EncodingPCM16, 16000},
		{tts.EncodingPCM22, 22050},
		{tts.EncodingPCM24, 24000},
		{tts.EncodingPCM44, 44100},
		{tts.EncodingMP3, 44100},
		{"unknown", 24000},
	}
	for _, tt := range tests {
		if got := tts.SampleRateFromEncoding(tt.enc); got != tt.want {
			t.Errorf("SampleRateFromEncoding(%s) = %d, want %d", tt.enc, got, tt.want)
		}
	}
}

func TestElevenLabs_Synthesize(t *testing.T) {
	audio := make([]byte, 4800) // 100ms at 24kHz

	var got struct {
		path, query, key string
		body             map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.query = r.URL.Query().Get("output_format")
		got.key = r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&got.body)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	p, err := tts.NewElevenLabs(
		tts.WithAPIKey("xi-test"),
		tts.WithBaseURL(srv.URL),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewElevenLabs: %v", err)
	}
	defer p.Close()

	result, err := p.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if got.path != "/text-to-speech/EXAVITQu4vr4xnSDxMaL" {
		t.Errorf("path = %q", got.path)
	}
	if got.query != "pcm_24000" {
		t.Errorf("output_format = %q", got.query)
	}
	if got.key != "xi-test" {
		t.Errorf("api key header = %q", got.key)
	}
	if got.body["model_id"] != tts.ModelMultilingualV2 || got.body["text"] != "Hello there" {
		t.Errorf("payload = %v", got.body)
	}
	vs, _ := got.body["voice_settings"].(map[string]any)
	if vs["stability"] != 0.5 || vs["similarity_boost"] != 0.75 {
		t.Errorf("voice_settings = %v", vs)
	}
	if len(result.Audio) != len(audio) || result.Duration != 100*time.Millisecond {
		t.Errorf("result = %d bytes, %v", len(result.Audio), result.Duration)
	}
}

func TestElevenLabs_Errors(t *testing.T) {
	t.Run("client error is not retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":{"status":"quota_exceeded","message":"out of characters"}}`))
		}))
		defer srv.Close()

		p, _ := tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
		_, err := p.Synthesize(context.Background(), "hi")

		var apiErr *tts.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !apiErr.IsUnauthorized() || !apiErr.IsQuotaExceeded() || apiErr.IsRetryable() {
			t.Errorf("unexpected error %+v", apiErr)
		}
		if hits.Load() != 1 {
			t.Errorf("hits = %d, want 1", hits.Load())
		}
	})

	t.Run("server error is retried", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_, _ = w.Write([]byte{0, 0, 0, 0})
		}))
		defer srv.Close()

		p, _ := tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithBaseURL(srv.URL),
			tts.WithRetry(2, time.Millisecond), tts.WithLogger(log.Discard()))
		if _, err := p.Synthesize(context.Background(), "hi"); err != nil {
			t.Fatalf("Synthesize: %v", err)
		}
		if hits.Load() != 3 {
			t.Errorf("hits = %d, want 3", hits.Load())
		}
	})

	t.Run("empty text", func(t *testing.T) {
		p, _ := tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithBaseURL("http://127.0.0.1:1"))
		if _, err := p.Synthesize(context.Background(), "  "); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("Synthesize = %v, want ErrEmptyText", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer srv.Close()

		p, _ := tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithBaseURL(srv.URL),
			tts.WithTimeout(20*time.Millisecond), tts.WithLogger(log.Discard()))
		if _, err := p.Synthesize(context.Background(), "hi"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Synthesize = %v, want deadline exceeded", err)
		}
	})
}

func TestNewElevenLabs_Validation(t *testing.T) {
	if _, err := tts.NewElevenLabs(); !errors.Is(err, tts.ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
	if _, err := tts.NewElevenLabs(tts.WithAPIKey("k"), tts.WithVoice("")); !errors.Is(err, tts.ErrNoVoiceID) {
		t.Errorf("expected ErrNoVoiceID, got %v", err)
	}
}

func TestOpenAI_Synthesize(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write(make([]byte, 48000))
	}))
	defer srv.Close()

	p, err := tts.NewOpenAI(tts.WithAPIKey("sk-test"), tts.WithBaseURL(srv.URL), tts.WithLogger(log.Discard()))
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	result, err := p.Synthesize(context.Background(), "Hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if body["response_format"] != "pcm" || body["voice"] != tts.VoiceShimmer || body["model"] != tts.ModelTTS1 {
		t.Errorf("payload = %v", body)
	}
	if result.Format.Encoding != tts.EncodingPCM24 || result.Duration != time.Second {
		t.Errorf("result format %+v duration %v", result.Format, result.Duration)
	}
}

func TestElevenLabsWS_Synthesize(t *testing.T) {
	chunks := [][]byte{make([]byte, 960), make([]byte, 480)}

	upgrader := websocket.Upgrader{}
	var sawBOS, sawEOS atomic.Bool
	queries := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.Query()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			text, _ := msg["text"].(string)
			switch {
			case text == " " && msg["voice_settings"] != nil:
				sawBOS.Store(true)
			case text == "":
				sawEOS.Store(true)
				for _, c := range chunks {
					_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(c)})
				}
				_ = conn.WriteJSON(map[string]any{"isFinal": true})
			}
		}
	}))
	defer srv.Close()

	p, err := tts.NewElevenLabsWS(
		tts.WithAPIKey("xi-test"),
		tts.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")),
		tts.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewElevenLabsWS: %v", err)
	}

	var streamed int
	p.OnAudio = func(pcm []byte) { streamed += len(pcm) }

	result, err := p.Synthesize(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(result.Audio) != 1440 || streamed != 1440 {
		t.Errorf("audio = %d bytes, streamed %d", len(result.Audio), streamed)
	}
	if !sawBOS.Load() || !sawEOS.Load() {
		t.Error("expected BOS and EOS messages")
	}
	q := <-queries
	if q.Get("model_id") != tts.ModelMultilingualV2 || q.Get("output_format") != "pcm_24000" {
		t.Errorf("query = %v", q)
	}
}

func TestElevenLabsWS_ServerError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg map[string]any
		_ = conn.ReadJSON(&msg)
		_ = conn.WriteJSON(map[string]any{"error": "quota_exceeded", "message": "no credits"})
	}))
	defer srv.Close()

	p, _ := tts.NewElevenLabsWS(tts.WithAPIKey("k"),
		tts.WithBaseURL("ws"+strings.TrimPrefix(srv.URL, "http")), tts.WithLogger(log.Discard()))

	_, err := p.Synthesize(context.Background(), "Hello")
	var apiErr *tts.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "quota_exceeded" {
		t.Errorf("Synthesize = %v, want quota APIError", err)
	}
}

func TestAPIError(t *testing.T) {
	tests := []struct {
		name             string
		err              *tts.APIError
		quota, retryable bool
	}{
		{"openai balance", &tts.APIError{StatusCode: 429, Code: "insufficient_quota"}, true, false},
		{"rate limit", &tts.APIError{StatusCode: 429}, false, true},
		{"elevenlabs characters", &tts.APIError{StatusCode: 401, Code: "quota_exceeded"}, true, false},
		{"bad gateway", &tts.APIError{StatusCode: 502}, false, true},
		{"bad request", &tts.APIError{StatusCode: 400}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.IsQuotaExceeded(); got != tt.quota {
				t.Errorf("IsQuotaExceeded = %v", got)
			}
			if got := tt.err.IsRetryable(); got != tt.retryable {
				t.Errorf("IsRetryable = %v", got)
			}
			if got := tts.IsQuotaExceeded(tts.WrapError("x", tt.err)); got != tt.quota {
				t.Errorf("IsQuotaExceeded through wrap = %v", got)
			}
		})
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	backends := func(ps ...tts.Provider) []tts.Backend {
		names := []string{"primary", "secondary"}
		out := make([]tts.Backend, len(ps))
		for i, p := range ps {
			out[i] = tts.Backend{Name: names[i], Provider: p}
		}
		return out
	}

	t.Run("fails over to next backend", func(t *testing.T) {
		ok := tts.NewMock()
		chain, err := tts.NewChain(log.Discard(), backends(tts.Failing(errors.New("down")), ok)...)
		if err != nil {
			t.Fatal(err)
		}
		result, err := chain.Synthesize(ctx, "hi")
		if err != nil || len(result.Audio) == 0 {
			t.Fatalf("Synthesize = %v, %v", result, err)
		}
		if ok.Count("Synthesize") != 1 {
			t.Error("secondary should have been called")
		}
		if len(chain.Benched()) != 0 {
			t.Error("plain failures must not bench")
		}
	})

	t.Run("collects every failure", func(t *testing.T) {
		e1, e2 := errors.New("first"), errors.New("second")
		chain, _ := tts.NewChain(log.Discard(), backends(tts.Failing(e1), tts.Failing(e2))...)

		_, err := chain.Synthesize(ctx, "hi")
		var chainErr *tts.ChainError
		if !errors.As(err, &chainErr) || len(chainErr.Failures) != 2 {
			t.Fatalf("expected ChainError with 2 failures, got %v", err)
		}
		if chainErr.Failures[0].Backend != "primary" || !errors.Is(err, e1) || !errors.Is(err, e2) {
			t.Errorf("failures = %+v", chainErr.Failures)
		}
	})

	t.Run("quota benches the backend", func(t *testing.T) {
		quota := tts.Failing(&tts.APIError{StatusCode: 401, Code: "quota_exceeded", Provider: "elevenlabs"})
		ok := tts.NewMock()
		chain, _ := tts.NewChain(log.Discard(), backends(quota, ok)...)

		for range 3 {
			if _, err := chain.Synthesize(ctx, "hi"); err != nil {
				t.Fatalf("Synthesize: %v", err)
			}
		}
		if quota.Count("Synthesize") != 1 {
			t.Errorf("benched backend called %d times", quota.Count("Synthesize"))
		}
		if b := chain.Benched(); len(b) != 1 || b[0] != "primary" {
			t.Errorf("Benched = %v", b)
		}
	})

	t.Run("all benched still tries", func(t *testing.T) {
		quota := tts.Failing(&tts.APIError{StatusCode: 429, Code: "insufficient_quota"})
		chain, _ := tts.NewChain(log.Discard(), backends(quota)...)
		_, _ = chain.Synthesize(ctx, "one")
		_, _ = chain.Synthesize(ctx, "two")
		if quota.Count("Synthesize") != 2 {
			t.Errorf("calls = %d, want 2", quota.Count("Synthesize"))
		}
	})

	t.Run("empty text does not fail over", func(t *testing.T) {
		empty := tts.Failing(tts.WrapError("a", tts.ErrEmptyText))
		next := tts.NewMock()
		chain, _ := tts.NewChain(log.Discard(), backends(empty, next)...)
		if _, err := chain.Synthesize(ctx, " "); !errors.Is(err, tts.ErrEmptyText) {
			t.Errorf("Synthesize = %v", err)
		}
		if next.Count("Synthesize") != 0 {
			t.Error("empty text should stop at the first backend")
		}
	})

	t.Run("health needs one healthy backend", func(t *testing.T) {
		chain, _ := tts.NewChain(log.Discard(), backends(tts.Failing(errors.New("x")), tts.NewMock())...)
		if err := chain.Health(ctx); err != nil {
			t.Errorf("Health = %v", err)
		}
		chain, _ = tts.NewChain(log.Discard(), backends(tts.Failing(errors.New("x")))...)
		if err := chain.Health(ctx); err == nil {
			t.Error("expected unhealthy chain")
		}
	})

	t.Run("requires backends", func(t *testing.T) {
		if _, err := tts.NewChain(log.Discard()); !errors.Is(err, tts.ErrProviderUnavailable) {
			t.Errorf("NewChain = %v", err)
		}
	})
}
