package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"miru/internal/camera"
	"miru/internal/face"
	"miru/internal/identity"
	"miru/internal/logging"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll a person from live camera samples",
	Long: `Enroll captures face samples from the camera and stores their
embeddings under the given label. A sample is accepted only when exactly
one face is visible, so make sure the person is alone in the frame.

Samples are spaced a few frames apart to capture some pose variation.`,
	Args: cobra.NoArgs,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("label", "", "Display name to enroll under (required)")
	enrollCmd.Flags().Int("samples", 5, "Number of accepted samples to capture")
	enrollCmd.Flags().Int("sample-interval", 3, "Minimum frames between accepted samples")
	_ = enrollCmd.MarkFlagRequired("label")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	label := mustGetString(cmd, "label")
	samples := mustGetInt(cmd, "samples")
	interval := mustGetInt(cmd, "sample-interval")
	if samples < 1 {
		return fmt.Errorf("--samples %d (want >= 1)", samples)
	}
	if interval < 0 {
		interval = 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := identity.Open(cfg.Identity.StorePath, identity.Options{
		Threshold:  cfg.Identity.MatchThreshold,
		ANNCutover: cfg.Identity.ANNCutover,
	})
	if err != nil {
		return fmt.Errorf("opening identity store: %w", err)
	}

	pipeline, err := face.NewPipeline(cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("loading face pipeline: %w", err)
	}
	defer pipeline.Close()

	cam, err := camera.Open(cfg.Camera)
	if err != nil {
		return fmt.Errorf("opening camera: %w", err)
	}
	defer cam.Close()

	session := uuid.New()
	logging.Named("enroll").Info().
		Stringer("session", session).
		Str("label", label).
		Int("samples", samples).
		Msg("enrollment session started")

	fmt.Printf("Enrolling %q - look at the camera.\n", label)
	bar := progressbar.NewOptions(samples,
		progressbar.OptionSetDescription("Capturing samples"),
		progressbar.OptionShowCount(),
	)

	vectors := make([]identity.Vector, 0, samples)
	gap := interval // the first good frame is accepted immediately
	for len(vectors) < samples {
		frame, err := cam.Next(ctx, cfg.Camera.FrameTimeout.D())
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return errors.New("enrollment interrupted")
			}
			if errors.Is(err, camera.ErrTimeout) {
				continue
			}
			return fmt.Errorf("capturing frame: %w", err)
		}

		if gap < interval {
			gap++
			frame.Close()
			continue
		}

		obs, perr := pipeline.Process(frame.Mat)
		frame.Close()
		if perr != nil || len(obs) != 1 {
			// No face, several faces, or a failed alignment: wait for a
			// cleaner frame.
			continue
		}

		vectors = append(vectors, obs[0].Embedding)
		gap = 0
		bar.Add(1)
	}
	fmt.Println()

	total, err := store.Enroll(label, vectors...)
	if err != nil {
		return fmt.Errorf("enrolling %q: %w", label, err)
	}

	fmt.Printf("Enrolled %q: %d samples captured, %d templates total.\n", label, len(vectors), total)
	return nil
}
