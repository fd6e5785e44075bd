package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/audioio"
)

func speechClip(d time.Duration) audioio.Clip {
	n := int(d.Seconds() * audioio.CaptureSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	return audioio.Clip{Samples: samples, SampleRate: audioio.CaptureSampleRate, Channels: 1}
}

func newTestWhisper(t *testing.T, url string, opts ...Option) *Whisper {
	t.Helper()
	opts = append([]Option{
		WithAPIKey("test-key"),
		WithBaseURL(url),
		WithRetry(1, time.Millisecond),
		WithLogger(log.Discard()),
	}, opts...)
	w, err := NewWhisper(opts...)
	require.NoError(t, err)
	return w
}

func TestNewWhisper_RequiresKey(t *testing.T) {
	_, err := NewWhisper()
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestWhisper_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "recording.wav", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF", string(data[:4]))

		json.NewEncoder(w).Encode(map[string]string{"text": "  what's the weather tomorrow "})
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL)
	tr, err := w.Transcribe(context.Background(), speechClip(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "what's the weather tomorrow", tr.Text)
	assert.Equal(t, "en", tr.Language)
	assert.Equal(t, time.Second, tr.AudioDuration)
}

func TestWhisper_TooShort(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL)

	_, err := w.Transcribe(context.Background(), audioio.Clip{})
	assert.Equal(t, KindTooShort, Classify(err))

	_, err = w.Transcribe(context.Background(), speechClip(50*time.Millisecond))
	assert.Equal(t, KindTooShort, Classify(err))

	assert.Zero(t, hits.Load(), "short clips must not reach the service")
}

func TestWhisper_NoSpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"   "}`)
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL)
	_, err := w.Transcribe(context.Background(), speechClip(time.Second))
	assert.Equal(t, KindNoSpeech, Classify(err))

	quiet := newTestWhisper(t, srv.URL, WithMinLevel(0.5))
	_, err = quiet.Transcribe(context.Background(), speechClip(time.Second))
	assert.ErrorIs(t, err, ErrNoSpeech)
}

func TestWhisper_QuotaNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"You exceeded your current quota, please check your plan and billing details.","type":"insufficient_quota","code":"insufficient_quota"}}`)
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL, WithRetry(3, time.Millisecond))
	_, err := w.Transcribe(context.Background(), speechClip(time.Second))

	assert.Equal(t, KindQuotaExceeded, Classify(err))
	assert.EqualValues(t, 1, hits.Load())

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsRateLimited())
	assert.False(t, apiErr.IsRetryable())
}

func TestWhisper_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"text":"hello"}`)
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL)
	tr, err := w.Transcribe(context.Background(), speechClip(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello", tr.Text)
	assert.EqualValues(t, 2, hits.Load())
}

func TestWhisper_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	w := newTestWhisper(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := w.Transcribe(ctx, speechClip(time.Second))
	require.Error(t, err)
	assert.Equal(t, KindUnknown, Classify(err))
	assert.True(t, IsTimeout(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrTooShort, KindTooShort},
		{fmt.Errorf("wrapped: %w", ErrNoSpeech), KindNoSpeech},
		{&APIError{StatusCode: 429, Code: "insufficient_quota"}, KindQuotaExceeded},
		{WrapError("whisper", &APIError{StatusCode: 402, Message: "Billing hard limit reached"}), KindQuotaExceeded},
		{&APIError{StatusCode: 429, Message: "slow down"}, KindUnknown},
		{errors.New("connection reset"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestMock(t *testing.T) {
	m := NewMock("hello there")

	tr, err := m.Transcribe(context.Background(), speechClip(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.Text)

	_, err = m.Transcribe(context.Background(), audioio.Clip{})
	assert.ErrorIs(t, err, ErrTooShort)

	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, time.Second, calls[0].Duration())
	assert.True(t, calls[1].Empty())

	m.SetText("again")
	tr, err = m.Transcribe(context.Background(), speechClip(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "again", tr.Text)
}
