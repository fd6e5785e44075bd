package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/echospeak/internal/log"
	"github.com/teslashibe/echospeak/pkg/app"
	"github.com/teslashibe/echospeak/pkg/ledger"
)

const historyLongDesc string = `Show usage statistics and what was discussed last time.

Examples:
  echospeak history --user Sam
  echospeak history --json`

type historyCommander struct {
	root   *rootCommander
	asJSON bool
}

type historyReport struct {
	ledger.Stats
	RecentTopics []string `json:"recent_topics"`
	Greeting     string   `json:"next_greeting"`
}

func newHistoryCmd(root *rootCommander) *cobra.Command {
	cmder := &historyCommander{root: root}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show conversation history and stats",
		Long:  historyLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print as JSON")
	return cmd
}

func (c *historyCommander) run(cmd *cobra.Command) error {
	cfg := c.root.cfg
	store, err := app.OpenStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("could not open ledger: %w", err)
	}
	defer store.Close()

	lg := ledger.New(store, ledger.WithLogger(log.L()))
	user := cfg.UserName
	report := historyReport{
		Stats:        lg.Stats(),
		RecentTopics: lg.RecentTopics(user),
		Greeting:     lg.Greeting(user),
	}

	out := cmd.OutOrStdout()
	if c.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(out, "Conversations:   %d (%d stored)\n", report.TotalConversations, report.Stored)
	fmt.Fprintf(out, "Messages:        %d\n", report.TotalTurns)
	if report.AverageDuration != "" {
		fmt.Fprintf(out, "Average length:  %s\n", report.AverageDuration)
	}
	if !report.LastSession.IsZero() {
		fmt.Fprintf(out, "Last session:    %s\n", report.LastSession.Format(time.RFC1123))
	}
	if report.UserName != "" {
		fmt.Fprintf(out, "User:            %s\n", report.UserName)
	}
	if len(report.RecentTopics) > 0 {
		fmt.Fprintf(out, "Last talked about: %s\n", strings.Join(report.RecentTopics, ", "))
	}
	fmt.Fprintf(out, "Next greeting:   %s\n", report.Greeting)
	return nil
}
