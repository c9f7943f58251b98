package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogoutCmd creates the logout command
func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd)
		},
	}
}

func runLogout(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	token, ok := env.store.Token()
	if !ok {
		fmt.Fprintln(out, "Not signed in.")
		return nil
	}

	// Resume the stored session so the identity service can revoke it
	if _, err := env.identity.Restore(ctx, token); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	auditStore := env.openAudit()
	if auditStore != nil {
		defer auditStore.Close()
	}

	observer := env.newObserver(auditStore)
	defer observer.Close()

	if err := observer.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	state, err := waitSettled(ctx, observer)
	if err != nil {
		return err
	}
	if state.SignedIn() {
		return fmt.Errorf("logout failed: still signed in as %s", state.User.Email)
	}

	fmt.Fprintln(out, "✓ Signed out")
	return nil
}
