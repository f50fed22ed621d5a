package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petpixie/pixie/pkg/models"
	"github.com/petpixie/pixie/pkg/subscription"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Print every frame of a generation's event stream",
	Long: `Opens the live event stream of a generation and prints each snapshot as
it arrives. The command exits when the job reaches a terminal status or the
server closes the stream. Unlike generate, watch never reconnects.

Example:
  pixie watch 3f2a9c1e
  pixie watch 3f2a9c1e -o json | jq .progress`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newHTTPClient()
	if err != nil {
		return err
	}

	stream, err := subscription.NewHTTPTransport(GetServerURL(), client).Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer stream.Close()

	out := cmd.OutOrStdout()
	for {
		data, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream ended: %w", err)
		}

		var snap models.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipping malformed frame: %v\n", err)
			continue
		}
		if err := printFrame(out, snap, data); err != nil {
			return err
		}
		if snap.IsTerminal() {
			return nil
		}
	}
}

func printFrame(w io.Writer, snap models.Snapshot, raw []byte) error {
	switch outputFormat {
	case formatJSON:
		_, err := fmt.Fprintln(w, string(raw))
		return err
	case formatYAML:
		if _, err := fmt.Fprintln(w, "---"); err != nil {
			return err
		}
		return writeYAML(w, snap)
	default:
		line := fmt.Sprintf("%s  %-10s %s", time.Now().Format(time.TimeOnly), snap.Status,
			progressLine(snap.Progress, string(snap.Stage), snap.CurrentStep))
		if snap.Error != "" {
			line += "  error: " + snap.Error
		}
		if snap.Status == models.JobStatusSucceeded {
			line += fmt.Sprintf("  (%d images)", len(snap.Images))
		}
		_, err := fmt.Fprintln(w, line)
		return err
	}
}
