package cmd

import (
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petpixie/pixie/pkg/models"
)

var (
	followStatus   bool
	followInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a generation",
	Long: `Fetches the current status of a generation. With --follow the job is
polled until it reaches a terminal status.

Example:
  pixie status 3f2a9c1e
  pixie status 3f2a9c1e --follow -o yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&followStatus, "follow", "f", false, "poll until the job finishes")
	statusCmd.Flags().DurationVar(&followInterval, "interval", 2*time.Second, "poll interval for --follow")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newHTTPClient()
	if err != nil {
		return err
	}
	path := "/api/status?id=" + url.QueryEscape(args[0])

	var snap models.Snapshot
	if err := getJSON(ctx, client, path, &snap); err != nil {
		return err
	}

	if followStatus {
		ticker := time.NewTicker(followInterval)
		defer ticker.Stop()

		for !snap.IsTerminal() {
			fmt.Fprintln(cmd.ErrOrStderr(), progressLine(snap.Progress, string(snap.Stage), snap.CurrentStep))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
			if err := getJSON(ctx, client, path, &snap); err != nil {
				return err
			}
		}
	}

	return render(cmd.OutOrStdout(), snap, snapshotRows(snap))
}
