package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/consolegate/consolegate/internal/console"
	"github.com/consolegate/consolegate/internal/identity"
)

// NewLoginCmd creates the login command
func NewLoginCmd() *cobra.Command {
	var email, password, redirect string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, email, password, redirect)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set CONSOLE_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set CONSOLE_PASSWORD, will prompt if not provided)")
	cmd.Flags().StringVar(&redirect, "redirect", "", "Console page to open after signing in")

	return cmd
}

func runLogin(cmd *cobra.Command, email, password, redirect string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Check for environment variables (useful for CI/CD)
	if email == "" {
		email = os.Getenv("CONSOLE_EMAIL")
	}
	if password == "" {
		password = os.Getenv("CONSOLE_PASSWORD")
	}

	if email == "" {
		return fmt.Errorf("email is required (use --email flag or CONSOLE_EMAIL env var)")
	}

	// Prompt for password if not provided via flag or env var
	if password == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return fmt.Errorf("password is required in non-interactive mode (use --password flag or CONSOLE_PASSWORD env var)")
		}
		fmt.Fprint(out, "Password: ")
		bytePassword, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(bytePassword)
		fmt.Fprintln(out)
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	// Resume any stored session first; otherwise the observer would start
	// signed out and clear the keyring before the new login is decided
	if token, ok := env.store.Token(); ok {
		if _, err := env.identity.Restore(ctx, token); err != nil {
			return fmt.Errorf("login failed: could not check the stored session: %w", err)
		}
	}

	auditStore := env.openAudit()
	if auditStore != nil {
		defer auditStore.Close()
	}

	observer := env.newObserver(auditStore)
	defer observer.Close()

	client, err := env.consoleClient()
	if err != nil {
		return err
	}

	page := console.NewLoginPage(client, observer, console.LoginPageConfig{
		Target: env.safeTarget(redirect),
		Delay:  env.cfg.Handshake.Delay,
		Splash: env.cfg.Handshake.Splash,
	})
	defer page.Unmount()

	fmt.Fprintf(out, "Signing in to %s...\n", env.cfg.Console.URL)

	user, err := page.Submit(ctx, email, password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			return fmt.Errorf("login failed: wrong email or password")
		case errors.Is(err, identity.ErrNetwork):
			return fmt.Errorf("login failed: identity service unavailable: %w", err)
		default:
			return fmt.Errorf("login failed: %w", err)
		}
	}

	fmt.Fprintln(out, "✓ Login successful!")
	fmt.Fprintf(out, "  User: %s\n", displayName(user))

	visit, err := page.Wait(ctx)
	if err != nil {
		return fmt.Errorf("failed to open console: %w", err)
	}
	fmt.Fprintf(out, "  Opened: %s\n", visit.Path)

	return nil
}
