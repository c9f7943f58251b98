package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/consolegate/consolegate/internal/audit"
)

// NewHistoryCmd creates the history command
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sign-in events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of events to show")

	return cmd
}

func runHistory(cmd *cobra.Command, limit int) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	store, err := audit.Open(env.cfg.Audit.DatabaseURL, env.logger)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer store.Close()

	events, err := store.Recent(ctx, limit)
	if err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Fprintln(out, "No sign-in events recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tEVENT\tEMAIL\tDETAIL")
	fmt.Fprintln(w, "────\t─────\t─────\t──────")

	for _, evt := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			evt.CreatedAt.Local().Format(time.DateTime),
			evt.Type,
			evt.Email,
			evt.Detail,
		)
	}

	return w.Flush()
}
