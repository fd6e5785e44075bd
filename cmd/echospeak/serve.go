package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/app"
)

const serveLongDesc string = `Serve the control API and live event stream.

The API drives one conversation: POST /api/session opens it,
/api/recording/start and /api/recording/stop capture a turn and
/api/call/end closes it. Events stream on /ws/events and Prometheus
metrics on /metrics.

Examples:
  echospeak serve
  echospeak serve --addr :9090 --static ./web`

type serveCommander struct {
	root   *rootCommander
	addr   string
	static string
}

func newServeCmd(root *rootCommander) *cobra.Command {
	cmder := &serveCommander{root: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API",
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVar(&cmder.addr, "addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().StringVar(&cmder.static, "static", "", "Directory of static files to serve at /")
	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg := c.root.cfg
	if c.addr != "" {
		cfg.Server.Addr = c.addr
	}
	if c.static != "" {
		cfg.Server.Static = c.static
	}
	if cfg.Server.Addr == "" {
		return fmt.Errorf("serve needs a listen address")
	}

	a, err := app.New(cfg, app.WithLogger(log.L()))
	if err != nil {
		return err
	}
	if err := a.Init(ctx); err != nil {
		return err
	}
	defer shutdown(a)

	fmt.Fprintf(cmd.OutOrStdout(), "echospeak listening on %s\n", cfg.Server.Addr)
	return a.Run(ctx)
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.L().Warn("shutdown", "error", err)
	}
}
