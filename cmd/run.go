package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"miru/internal/camera"
	"miru/internal/display"
	"miru/internal/face"
	"miru/internal/identity"
	"miru/internal/interaction"
	"miru/internal/logging"
	"miru/internal/loop"
	"miru/internal/touch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the interaction loop",
	Long: `Run starts the device daemon: camera capture, face recognition,
touch handling and display rendering, until SIGINT or SIGTERM.

A missing touchscreen is not fatal; the loop runs touch-less. A missing
camera is.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Named("main")
	log.Info().Str("version", Version).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target, reason := cfg.ResolveDisplayTarget()
	cfg.Display.Target = target
	log.Info().Str("target", target).Str("reason", reason).Msg("display target resolved")

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

	renderer, err := display.New(cfg.Display)
	if err != nil {
		return fmt.Errorf("opening display: %w", err)
	}
	defer renderer.Close()

	// The touchscreen is optional hardware.
	var touchSrc loop.TouchSource
	if dev, terr := touch.Open(cfg.Touch); terr != nil {
		log.Warn().Err(terr).Msg("touch unavailable, continuing without")
	} else {
		defer dev.Close()
		touchSrc = dev
		log.Info().Str("device", dev.Path()).Msg("touch device open")
	}

	machine := interaction.NewMachine(interaction.Options{
		ConfirmTicks:     cfg.Loop.ConfirmTicks,
		NoFaceResetTicks: cfg.Loop.NoFaceResetTicks,
		TouchDwell:       cfg.Loop.TouchDwell.D(),
	})

	coord := loop.New(loop.Deps{
		Frames:   cam,
		Touch:    touchSrc,
		Rec:      &loop.FaceRecognizer{Pipeline: pipeline, Store: store},
		Machine:  machine,
		Renderer: renderer,
	}, cfg.Loop)

	return coord.Run(ctx)
}
