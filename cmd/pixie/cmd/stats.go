package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petpixie/pixie/pkg/api"
	"github.com/petpixie/pixie/pkg/sse"
)

var (
	statsLive  bool
	statsCount int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show service statistics",
	Long: `Shows today's generation count, processing time, active viewers and the
campaign funding figures. With --live the command follows the statistics
stream until interrupted or --count frames were printed.

Example:
  pixie stats
  pixie stats --live --count 3 -o json`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().BoolVar(&statsLive, "live", false, "follow the live statistics stream")
	statsCmd.Flags().IntVar(&statsCount, "count", 0, "stop after this many live frames (0 = until interrupted)")
}

func statsRows(s api.StatsResponse) [][]string {
	return [][]string{
		{"Generations today", strconv.Itoa(s.TodayGenerations)},
		{"Avg processing time", fmt.Sprintf("%ds", s.AverageProcessingTime)},
		{"Satisfaction", fmt.Sprintf("%d%%", s.SatisfactionRate)},
		{"Active users", strconv.Itoa(s.ActiveUsers)},
		{"Funding", fmt.Sprintf("%d%% (%d raised)", s.FundingProgress, s.FundingAmount)},
		{"Backers", strconv.Itoa(s.Backers)},
		{"Days left", strconv.Itoa(s.DaysLeft)},
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newHTTPClient()
	if err != nil {
		return err
	}

	if !statsLive {
		var s api.StatsResponse
		if err := getJSON(ctx, client, "/api/stats", &s); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), s, statsRows(s))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, GetServerURL()+"/api/stats/live", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &apiError{Status: resp.StatusCode}
	}

	reader := sse.NewReader(resp.Body)
	for n := 0; statsCount == 0 || n < statsCount; n++ {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream ended: %w", err)
		}
		var s api.StatsResponse
		if err := json.Unmarshal(ev.Data, &s); err != nil {
			return fmt.Errorf("failed to parse stats frame: %w", err)
		}
		if n > 0 && IsTableOutput() {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		if err := render(cmd.OutOrStdout(), s, statsRows(s)); err != nil {
			return err
		}
	}
	return nil
}
