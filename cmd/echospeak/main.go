// Command echospeak is a push-to-talk voice assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/echospeak/internal/config"
	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/audioio"
)

const rootLongDesc string = `echospeak records what you say, transcribes it, asks a reply service
for an answer and speaks the answer back. Conversations are remembered
so the next session can pick up where the last one left off.

Configuration is read from ~/.echospeak/config.toml (or --config),
then .env and the environment. API keys come from OPENAI_API_KEY,
GEMINI_API_KEY and ELEVENLABS_API_KEY.`

// rootCommander holds the flags every subcommand shares.
type rootCommander struct {
	configPath string
	logLevel   string
	logFormat  string
	userName   string
	mock       bool

	cfg config.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &rootCommander{}

	cmd := &cobra.Command{
		Use:           "echospeak",
		Short:         "Push-to-talk voice assistant",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.load(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&root.configPath, "config", "c", "", "Path to config file (default ~/.echospeak/config.toml)")
	flags.StringVar(&root.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&root.logFormat, "log-format", "", "Log format: text or json")
	flags.StringVarP(&root.userName, "user", "u", "", "Your name, used in greetings and replies")
	flags.BoolVar(&root.mock, "mock", false, "Use mock audio and providers (no API keys needed)")

	cmd.AddCommand(newServeCmd(root))
	cmd.AddCommand(newTalkCmd(root))
	cmd.AddCommand(newHistoryCmd(root))
	return cmd
}

// load resolves the configuration and sets up logging. Flags win over
// everything else.
func (r *rootCommander) load(cmd *cobra.Command) error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}

	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}
	if r.logFormat != "" {
		cfg.LogFormat = r.logFormat
	}
	if r.userName != "" {
		cfg.UserName = r.userName
	}
	if r.mock {
		cfg.STT.Provider = config.STTMock
		cfg.Reply.Provider = config.ReplyMock
		cfg.Speech.Provider = config.SpeechMock
		cfg.Audio.Backend = audioio.BackendMock
	}

	log.Setup(log.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
	log.L().Debug("audio backends compiled in", "available", audioio.AvailableBackends(), "selected", cfg.Audio.Backend)
	r.cfg = cfg
	return nil
}
