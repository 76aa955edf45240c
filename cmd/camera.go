package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"miru/internal/camera"
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Exercise the camera",
	Long: `Opens the capture device, reports the negotiated stream and measures
the achieved frame rate. With --save the last captured frame is written
out for inspection.`,
	Args: cobra.NoArgs,
	RunE: runCamera,
}

func init() {
	rootCmd.AddCommand(cameraCmd)

	cameraCmd.Flags().Int("frames", 60, "Number of frames to capture")
	cameraCmd.Flags().String("save", "", "Write the last captured frame to this file")
}

func runCamera(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	frames := mustGetInt(cmd, "frames")
	savePath := mustGetString(cmd, "save")
	if frames < 1 {
		return fmt.Errorf("--frames %d (want >= 1)", frames)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cam, err := camera.Open(cfg.Camera)
	if err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer cam.Close()

	fmt.Printf("Device: %s (%dx%d @ %d fps requested, %s/%s)\n",
		cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS,
		cfg.Camera.Backend, cfg.Camera.Format)

	last := gocv.NewMat()
	defer last.Close()

	captured := 0
	start := time.Now()
	for captured < frames && ctx.Err() == nil {
		frame, err := cam.Next(ctx, cfg.Camera.FrameTimeout.D())
		if err != nil {
			if errors.Is(err, camera.ErrTimeout) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("capturing frame %d: %w", captured+1, err)
		}

		captured++
		if captured == 1 {
			fmt.Printf("First frame: %dx%d, seq %d\n", frame.Mat.Cols(), frame.Mat.Rows(), frame.Seq)
			// Measure throughput from the first delivery, not from open.
			start = time.Now()
		}
		if savePath != "" {
			last.Close()
			last = frame.Mat.Clone()
		}
		frame.Close()
	}

	if captured > 1 {
		elapsed := time.Since(start)
		fps := float64(captured-1) / elapsed.Seconds()
		fmt.Printf("Captured %d frames in %s (%.1f fps)\n", captured, elapsed.Round(time.Millisecond), fps)
	}

	stats := cam.Stats()
	fmt.Printf("Counters: captured=%d delivered=%d overwritten=%d faults=%d reopens=%d\n",
		stats.Captured, stats.Delivered, stats.Overwritten, stats.Faults, stats.Reopens)

	if savePath != "" {
		if last.Empty() {
			return errors.New("no frame captured to save")
		}
		if ok := gocv.IMWrite(savePath, last); !ok {
			return fmt.Errorf("writing %s failed", savePath)
		}
		fmt.Printf("Saved last frame to %s\n", savePath)
	}

	return nil
}
