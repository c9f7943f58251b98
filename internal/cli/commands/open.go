package commands

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// NewOpenCmd creates the open command
func NewOpenCmd() *cobra.Command {
	var browser bool

	cmd := &cobra.Command{
		Use:   "open [path]",
		Short: "Open a console page with the stored session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}
			return runOpen(cmd, path, browser)
		},
	}

	cmd.Flags().BoolVar(&browser, "browser", false, "Also open the page in the default browser")

	return cmd
}

func runOpen(cmd *cobra.Command, path string, browser bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	client, err := env.consoleClient()
	if err != nil {
		return err
	}

	visit, err := client.Navigate(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}

	for _, hop := range visit.Redirects {
		fmt.Fprintf(out, "→ %s\n", hop)
	}
	fmt.Fprintf(out, "%s (status %d)\n", visit.Path, visit.StatusCode)

	if visit.Path == env.cfg.Guard.LoginPath {
		fmt.Fprintf(out, "\nSign in with: consolegate login --redirect %s\n", visit.RedirectTarget())
		return nil
	}

	if browser {
		url := strings.TrimRight(env.cfg.Console.URL, "/") + visit.Path
		fmt.Fprintf(out, "Opening %s...\n", url)
		if err := openBrowser(url); err != nil {
			return fmt.Errorf("failed to open browser: %w\nPlease open %s manually", err, url)
		}
	}

	return nil
}

// openBrowser opens the URL in the default browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
