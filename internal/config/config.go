// Package config loads echospeak settings.
//
// Values are layered: built-in defaults, then a .env file, then the TOML
// config file, then environment variables. Command-line flags are applied
// last by the CLI.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/teslashibe/echospeak/pkg/audioio"
	"github.com/teslashibe/echospeak/pkg/tts"
)

// Provider names accepted in the config.
const (
	ReplyOpenAI = "openai"
	ReplyGemini = "gemini"
	ReplyChain  = "chain"
	ReplyMock   = "mock"

	SpeechElevenLabs   = "elevenlabs"
	SpeechElevenLabsWS = "elevenlabs-ws"
	SpeechOpenAI       = "openai"
	SpeechChain        = "chain"
	SpeechMock         = "mock"

	STTWhisper = "whisper"
	STTMock    = "mock"

	StorageSQLite = "sqlite"
	StorageFile   = "file"
	StorageMemory = "memory"
)

// Config is the full application configuration.
type Config struct {
	UserName  string `toml:"user_name"`
	DataDir   string `toml:"data_dir"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Audio   Audio   `toml:"audio"`
	STT     STT     `toml:"stt"`
	Reply   Reply   `toml:"reply"`
	Speech  Speech  `toml:"speech"`
	Storage Storage `toml:"storage"`
	Server  Server  `toml:"server"`
	Turn    Turn    `toml:"turn"`

	// Secrets come from the environment only.
	OpenAIKey     string `toml:"-"`
	GeminiKey     string `toml:"-"`
	ElevenLabsKey string `toml:"-"`
}

// Audio selects devices and limits.
type Audio struct {
	Backend      audioio.Backend `toml:"backend"`
	MaxRecording Duration        `toml:"max_recording"`
}

// STT configures transcription.
type STT struct {
	Provider string   `toml:"provider"`
	Model    string   `toml:"model"`
	Language string   `toml:"language"`
	BaseURL  string   `toml:"base_url"`
	Timeout  Duration `toml:"timeout"`
}

// Reply configures the reply provider.
type Reply struct {
	Provider    string   `toml:"provider"`
	Model       string   `toml:"model"`
	GeminiModel string   `toml:"gemini_model"`
	BaseURL     string   `toml:"base_url"`
	MaxTokens   int      `toml:"max_tokens"`
	Timeout     Duration `toml:"timeout"`
}

// Speech configures synthesis.
type Speech struct {
	Provider      string            `toml:"provider"`
	VoiceID       string            `toml:"voice_id"`
	ModelID       string            `toml:"model_id"`
	OpenAIVoice   string            `toml:"openai_voice"`
	Timeout       Duration          `toml:"timeout"`
	QuotaCooldown Duration          `toml:"quota_cooldown"`
	VoiceSettings tts.VoiceSettings `toml:"voice_settings"`
}

// Storage selects the ledger backend.
type Storage struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// Server configures the control API.
type Server struct {
	Addr    string `toml:"addr"`
	Static  string `toml:"static"`
	Metrics bool   `toml:"metrics"`
}

// Turn tunes the state machine.
type Turn struct {
	MinTranscriptChars int `toml:"min_transcript_chars"`
	MaxHistory         int `toml:"max_history"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Error reports an invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".echospeak")
	return Config{
		DataDir:  dataDir,
		LogLevel: "info",
		Audio: Audio{
			Backend:      audioio.BackendAuto,
			MaxRecording: Duration(60 * time.Second),
		},
		STT: STT{
			Provider: STTWhisper,
			Model:    "whisper-1",
			Language: "en",
			Timeout:  Duration(30 * time.Second),
		},
		Reply: Reply{
			Provider:    ReplyChain,
			Model:       "gpt-4o-mini",
			GeminiModel: "gemini-2.0-flash",
			MaxTokens:   1000,
			Timeout:     Duration(30 * time.Second),
		},
		Speech: Speech{
			Provider:      SpeechChain,
			VoiceID:       tts.DefaultVoiceID,
			ModelID:       tts.ModelMultilingualV2,
			OpenAIVoice:   tts.VoiceShimmer,
			Timeout:       Duration(15 * time.Second),
			QuotaCooldown: Duration(tts.DefaultQuotaCooldown),
			VoiceSettings: tts.DefaultVoiceSettings(),
		},
		Storage: Storage{
			Backend: StorageSQLite,
			Path:    filepath.Join(dataDir, "ledger.db"),
		},
		Server: Server{
			Addr:    ":8080",
			Metrics: true,
		},
		Turn: Turn{
			MinTranscriptChars: 2,
			MaxHistory:         20,
		},
	}
}

// DefaultPath is where Load looks when no file is named.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".echospeak", "config.toml")
}

// Load builds the configuration. An explicitly named file must exist; the
// default file is optional.
func Load(path string) (Config, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if err := cfg.loadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, err
		}
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return &Error{Field: keys[0], Message: "unknown setting in " + path}
	}
	return nil
}

// Decode parses TOML text over the current values.
func (c *Config) Decode(text string) error {
	_, err := toml.Decode(text, c)
	return err
}

// applyEnv overlays environment variables.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.OpenAIKey, "OPENAI_API_KEY")
	set(&c.GeminiKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	set(&c.ElevenLabsKey, "ELEVENLABS_API_KEY")

	set(&c.UserName, "ECHOSPEAK_USER_NAME")
	set(&c.DataDir, "ECHOSPEAK_DATA_DIR")
	set(&c.LogLevel, "ECHOSPEAK_LOG_LEVEL")
	set(&c.LogFormat, "ECHOSPEAK_LOG_FORMAT")
	set(&c.STT.Provider, "ECHOSPEAK_STT_PROVIDER")
	set(&c.Reply.Provider, "ECHOSPEAK_REPLY_PROVIDER")
	set(&c.Reply.Model, "ECHOSPEAK_REPLY_MODEL")
	set(&c.Speech.Provider, "ECHOSPEAK_SPEECH_PROVIDER")
	set(&c.Speech.VoiceID, "ELEVENLABS_VOICE_ID")
	set(&c.Storage.Backend, "ECHOSPEAK_STORAGE")
	set(&c.Storage.Path, "ECHOSPEAK_STORAGE_PATH")
	set(&c.Server.Addr, "ECHOSPEAK_ADDR")

	var backend string
	set(&backend, "ECHOSPEAK_AUDIO_BACKEND")
	if backend != "" {
		c.Audio.Backend = audioio.Backend(backend)
	}
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Reply.Provider {
	case ReplyOpenAI:
		if c.OpenAIKey == "" {
			return &Error{Field: "reply.provider", Message: "openai requires OPENAI_API_KEY"}
		}
	case ReplyGemini:
		if c.GeminiKey == "" {
			return &Error{Field: "reply.provider", Message: "gemini requires GEMINI_API_KEY"}
		}
	case ReplyChain:
		if c.OpenAIKey == "" && c.GeminiKey == "" {
			return &Error{Field: "reply.provider", Message: "set OPENAI_API_KEY or GEMINI_API_KEY"}
		}
	case ReplyMock:
	default:
		return &Error{Field: "reply.provider", Message: fmt.Sprintf("unknown provider %q", c.Reply.Provider)}
	}

	switch c.Speech.Provider {
	case SpeechElevenLabs, SpeechElevenLabsWS:
		if c.ElevenLabsKey == "" {
			return &Error{Field: "speech.provider", Message: c.Speech.Provider + " requires ELEVENLABS_API_KEY"}
		}
	case SpeechOpenAI:
		if c.OpenAIKey == "" {
			return &Error{Field: "speech.provider", Message: "openai requires OPENAI_API_KEY"}
		}
	case SpeechChain:
		if c.ElevenLabsKey == "" && c.OpenAIKey == "" {
			return &Error{Field: "speech.provider", Message: "set ELEVENLABS_API_KEY or OPENAI_API_KEY"}
		}
	case SpeechMock:
	default:
		return &Error{Field: "speech.provider", Message: fmt.Sprintf("unknown provider %q", c.Speech.Provider)}
	}

	switch c.STT.Provider {
	case STTWhisper:
		if c.OpenAIKey == "" {
			return &Error{Field: "stt.provider", Message: "whisper requires OPENAI_API_KEY"}
		}
	case STTMock:
	default:
		return &Error{Field: "stt.provider", Message: fmt.Sprintf("unknown provider %q", c.STT.Provider)}
	}

	switch c.Storage.Backend {
	case StorageSQLite, StorageFile:
		if c.Storage.Path == "" {
			return &Error{Field: "storage.path", Message: "required for " + c.Storage.Backend}
		}
	case StorageMemory:
	default:
		return &Error{Field: "storage.backend", Message: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	switch c.Audio.Backend {
	case audioio.BackendAuto, audioio.BackendNative, audioio.BackendMock:
	default:
		return &Error{Field: "audio.backend", Message: fmt.Sprintf("unknown backend %q", c.Audio.Backend)}
	}

	if c.Audio.MaxRecording.D() <= 0 {
		return &Error{Field: "audio.max_recording", Message: "must be positive"}
	}
	if c.Turn.MaxHistory <= 0 {
		return &Error{Field: "turn.max_history", Message: "must be positive"}
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.OpenAIKey = mask(c.OpenAIKey)
	c.GeminiKey = mask(c.GeminiKey)
	c.ElevenLabsKey = mask(c.ElevenLabsKey)
	return c
}
