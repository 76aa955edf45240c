package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"miru/internal/touch"
)

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Dump decoded touch events",
	Long: `Opens the touchscreen and prints every decoded event with normalized
coordinates. Useful for checking the calibration ranges.`,
	Args: cobra.NoArgs,
	RunE: runTouch,
}

func init() {
	rootCmd.AddCommand(touchCmd)

	touchCmd.Flags().Duration("duration", 10*time.Second, "How long to listen for events")
}

func runTouch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	duration := mustGetDuration(cmd, "duration")

	dev, err := touch.Open(cfg.Touch)
	if err != nil {
		return fmt.Errorf("opening touch device: %w", err)
	}
	defer dev.Close()

	fmt.Printf("Listening on %s for %s - touch the screen.\n", dev.Path(), duration)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deadline := time.Now().Add(duration)
	count := 0
	for time.Now().Before(deadline) && ctx.Err() == nil {
		for _, ev := range dev.Poll() {
			count++
			fmt.Printf("%s  %-4s  x=%.3f y=%.3f\n", ev.At.Format("15:04:05.000"), ev.Kind, ev.X, ev.Y)
		}
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("%d events.\n", count)
	return nil
}
