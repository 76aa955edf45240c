package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"miru/internal/display"
	"miru/internal/interaction"
)

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Exercise the display",
	Long: `Renders each expression on the resolved display backend, holding
every one for a moment. When asset files are missing the built-in
placeholders are shown instead.`,
	Args: cobra.NoArgs,
	RunE: runDisplay,
}

func init() {
	rootCmd.AddCommand(displayCmd)

	displayCmd.Flags().Bool("cycle", false, "Keep cycling expressions until interrupted")
	displayCmd.Flags().Duration("hold", time.Second, "How long to hold each expression")
}

func runDisplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cycle := mustGetBool(cmd, "cycle")
	hold := mustGetDuration(cmd, "hold")

	target, reason := cfg.ResolveDisplayTarget()
	cfg.Display.Target = target
	fmt.Printf("Display target: %s (%s)\n", target, reason)

	renderer, err := display.New(cfg.Display)
	if err != nil {
		return fmt.Errorf("opening display: %w", err)
	}
	defer renderer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modes := []interaction.Mode{
		interaction.ModeIdle,
		interaction.ModeRecognizing,
		interaction.ModeRecognized,
		interaction.ModeUnrecognized,
	}
	for {
		for _, mode := range modes {
			st := interaction.State{Mode: mode}
			if mode == interaction.ModeRecognized {
				st.Label = "sample"
			}
			if err := renderer.Present(st); err != nil {
				return fmt.Errorf("rendering %s: %w", mode, err)
			}
			fmt.Printf("  %s\n", mode)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(hold):
			}
		}
		if !cycle {
			return nil
		}
	}
}
