package main

import (
	"fmt"
	"io"
	"strings"

	"bulkbot/internal/app"
	"bulkbot/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const previewRecipients = 5

func newCheckCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print the partition plan without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), *cfgPath, cfg)
		},
	}
}

func printPlan(w io.Writer, path string, cfg *config.Config) error {
	camp := cfg.Campaign()
	plan, err := app.Plan(camp)
	if err != nil {
		return err
	}

	ok := color.New(color.FgGreen, color.Bold)
	gray := color.New(color.FgHiBlack)

	ok.Fprintf(w, "config OK: %s\n", path)
	fmt.Fprintf(w, "accounts: %d  recipients: %d  transport: %s\n", camp.NumAccounts, len(camp.Numbers), cfg.TransportDriver())
	fmt.Fprintf(w, "pacing: one message every %s, pause %s after every %d messages\n", camp.Delay, camp.PauseDuration, camp.MessagesBeforePause)
	if s := strings.TrimSpace(cfg.Report.Schedule); s != "" {
		fmt.Fprintf(w, "progress report: %s\n", s)
	}
	fmt.Fprintf(w, "audit: %s\n", cfg.StorageDriver())

	for i, part := range plan {
		preview := part
		more := 0
		if len(preview) > previewRecipients {
			more = len(preview) - previewRecipients
			preview = preview[:previewRecipients]
		}
		fmt.Fprintf(w, "session %d: %d recipients", i, len(part))
		if len(preview) > 0 {
			fmt.Fprintf(w, " (%s", strings.Join(preview, ", "))
			if more > 0 {
				gray.Fprintf(w, ", +%d more", more)
			}
			fmt.Fprint(w, ")")
		}
		fmt.Fprintln(w)
	}
	return nil
}
