package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/app"
	"github.com/teslashibe/echospeak/pkg/conversation"
	"github.com/teslashibe/echospeak/pkg/hub"
	"github.com/teslashibe/echospeak/pkg/notify"
	"github.com/teslashibe/echospeak/pkg/orchestrator"
)

const talkLongDesc string = `Talk to the assistant from the terminal.

Press Enter (or space) to start recording and again to stop. Press r
to leave offline mode after a quota error, and q to end the call.

Examples:
  echospeak talk --user Sam
  echospeak talk --mock`

type talkCommander struct {
	root  *rootCommander
	serve bool
}

func newTalkCmd(root *rootCommander) *cobra.Command {
	cmder := &talkCommander{root: root}

	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Push-to-talk conversation in the terminal",
		Long:  talkLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.serve, "serve", false, "Also serve the control API")
	return cmd
}

// console writes lines that stay readable while the terminal is raw.
type console struct {
	mu  sync.Mutex
	out io.Writer
	raw bool
}

func (c *console) println(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.raw {
		line = strings.ReplaceAll(line, "\n", "\r\n")
		fmt.Fprint(c.out, line+"\r\n")
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *console) event(e hub.Event) {
	switch e.Type {
	case hub.EventTurn:
		t, ok := e.Data.(conversation.Turn)
		if !ok || t.Role == conversation.RoleSystem {
			return
		}
		who := "assistant"
		if t.Role == conversation.RoleUser {
			who = "you"
		}
		c.println("%-9s > %s", who, t.Content)
	case hub.EventNotification:
		if n, ok := e.Data.(notify.Notification); ok {
			c.println("[%s] %s", n.Level, n.Message)
		}
	case hub.EventState:
		if s, ok := e.Data.(orchestrator.State); ok && s == orchestrator.Transcribing {
			c.println("... thinking")
		}
	case hub.EventLatency:
		c.println("(latency %v)", e.Data)
	}
}

func (c *talkCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg := c.root.cfg
	if !c.serve {
		cfg.Server.Addr = ""
	}

	con := &console{out: cmd.OutOrStdout()}
	a, err := app.New(cfg, app.WithLogger(log.L()), app.WithEventHandler(con.event))
	if err != nil {
		return err
	}
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer shutdown(a)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := a.Run(ctx); err != nil {
			log.L().Error("server stopped", "error", err)
		}
	}()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("could not enter raw mode: %w", err)
		}
		defer term.Restore(fd, state)
		con.mu.Lock()
		con.raw = true
		con.mu.Unlock()
	}

	orch := a.Orchestrator()
	if _, err := orch.StartSession(ctx); err != nil {
		return err
	}
	con.println("Enter: talk / stop   r: leave offline mode   q: hang up")

	keys := make(chan byte)
	go readKeys(os.Stdin, keys)

	for {
		select {
		case <-ctx.Done():
			return endCall(orch)
		case k, ok := <-keys:
			if !ok {
				return endCall(orch)
			}
			switch k {
			case '\r', '\n', ' ':
				switch orch.State() {
				case orchestrator.Idle:
					if !orch.StartRecording() && orch.IsSpeaking() {
						con.println("(still speaking)")
					}
				case orchestrator.Recording:
					orch.StopRecording()
				}
			case 'r':
				orch.ResetFallback()
				con.println("(offline mode cleared)")
			case 'q', 3: // 3 is Ctrl-C in raw mode
				return endCall(orch)
			}
		}
	}
}

func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	br := bufio.NewReader(r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			return
		}
		keys <- b
	}
}

func endCall(orch *orchestrator.Orchestrator) error {
	if err := orch.EndCall(); err != nil && !errors.Is(err, orchestrator.ErrNoSession) {
		return err
	}
	return nil
}
