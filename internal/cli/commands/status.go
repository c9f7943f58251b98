package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session and whether the console accepts it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd)
		},
	}
}

// runStatus only reads the keyring; it never writes to it
func runStatus(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Console: %s\n", env.cfg.Console.URL)

	token, ok := env.store.Token()
	if !ok {
		fmt.Fprintln(out, "Session: none")
		fmt.Fprintln(out, "\nSign in with: consolegate login --email <email>")
		return nil
	}

	user, err := env.identity.Restore(ctx, token)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Session: stored (identity service unreachable: %v)\n", err)
	case user == nil:
		fmt.Fprintln(out, "Session: expired")
	default:
		fmt.Fprintf(out, "Session: signed in as %s\n", displayName(user))
	}

	client, err := env.consoleClient()
	if err != nil {
		return err
	}
	visit, err := client.Navigate(ctx, "/")
	if err != nil {
		return fmt.Errorf("failed to reach console: %w", err)
	}
	if visit.Path == env.cfg.Guard.LoginPath {
		fmt.Fprintln(out, "Console access: login required")
	} else {
		fmt.Fprintln(out, "Console access: allowed")
	}

	return nil
}
