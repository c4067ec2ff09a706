package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"touchbridge/internal/store"
)

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		session  string
		app      string
		since    time.Duration
		limit    int
		sessions bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded passthrough transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			journal, err := store.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			defer journal.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer w.Flush()

			if sessions {
				list, err := journal.Sessions(limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "SESSION\tSTARTED\tENDED\tTRANSITIONS")
				for _, s := range list {
					ended := "running"
					if !s.Ended.IsZero() {
						ended = humanize.Time(s.Ended)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, humanize.Time(s.Started), ended, humanize.Comma(int64(s.Transitions)))
				}
				return nil
			}

			f := store.Filter{SessionID: session, ApplicationID: app, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			entries, err := journal.List(f)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "WHEN\tFROM\tTO\tAPP\tREASON\tREGION")
			for _, e := range entries {
				appID := e.ApplicationID
				if appID == "" {
					appID = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(e.Time), e.From, e.To, appID, e.Reason, e.Region)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "only this session")
	cmd.Flags().StringVar(&app, "app", "", "only this application")
	cmd.Flags().DurationVar(&since, "since", 0, "only transitions newer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&sessions, "sessions", false, "list sessions instead of transitions")

	return cmd
}
