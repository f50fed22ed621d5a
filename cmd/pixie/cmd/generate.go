package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petpixie/pixie/pkg/generation"
	"github.com/petpixie/pixie/pkg/subscription"
)

var (
	generateImage   string
	generatePrompt  string
	generateOutputs int
	generateTimeout time.Duration
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Start a generation and follow it to completion",
	Long: `Starts a generation for a pet photo and follows its progress over the
live event stream. Dropped streams are re-established and, when that keeps
failing, the job is polled until it finishes.

Progress lines go to stderr so the final result can be piped.

Example:
  pixie generate --image https://cdn.example.com/rex.png
  pixie generate --image https://cdn.example.com/rex.png --prompt "astronaut" --outputs 2 -o json`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&generateImage, "image", "", "public URL of the pet photo (required)")
	generateCmd.Flags().StringVar(&generatePrompt, "prompt", "", "style prompt")
	generateCmd.Flags().IntVar(&generateOutputs, "outputs", 0, "number of images to generate (1-4, server default when 0)")
	generateCmd.Flags().DurationVar(&generateTimeout, "timeout", 5*time.Minute, "give up when the job has not finished in this time")
	generateCmd.MarkFlagRequired("image")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newHTTPClient()
	if err != nil {
		return err
	}

	cfg := subscription.DefaultConfig()
	cfg.Timeout = generateTimeout
	m := subscription.NewManager(
		subscription.NewHTTPTransport(GetServerURL(), client),
		cfg,
		subscription.WithLogger(cliLogger()),
	)
	defer m.Reset()

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	req := generation.StartRequest{ImageURL: generateImage, Prompt: generatePrompt, NumOutputs: generateOutputs}
	if err := m.Start(ctx, req); err == nil {
		followSession(ctx.Done(), m, updates, cmd.ErrOrStderr())
	}

	st, err := m.Wait(ctx)
	if ctx.Err() != nil {
		return errors.New("interrupted")
	}
	if renderErr := render(cmd.OutOrStdout(), st, stateRows(st)); renderErr != nil {
		return renderErr
	}
	if err != nil {
		return err
	}
	if st.Phase == subscription.PhaseFailed {
		return errors.New(st.Error)
	}
	return nil
}

// followSession prints a line whenever the visible progress changes and
// returns when the session ends or stop is closed.
func followSession(stop <-chan struct{}, m *subscription.Manager, updates <-chan subscription.State, w io.Writer) {
	var last string
	show := func(st subscription.State) {
		if st.Phase != subscription.PhaseProcessing && !st.Terminal() {
			return
		}
		line := progressLine(st.Progress, string(st.Stage), st.CurrentStep)
		if line != last {
			fmt.Fprintln(w, line)
			last = line
		}
	}

	done := m.Done()
	for {
		select {
		case st := <-updates:
			show(st)
		case <-done:
			show(m.State())
			return
		case <-stop:
			return
		}
	}
}
