package camera

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"miru/internal/config"
	"miru/internal/logging"
)

// openDevice opens and tunes the capture device. The primary path pins the
// V4L2 backend and forces the pixel format; driver-default negotiation is
// known to freeze cheap UVC sensors after a few minutes. If the pinned open
// fails its probe read, one fallback with the default backend is tried.
func openDevice(cfg config.CameraConfig, log *logging.Logger) (*gocv.VideoCapture, error) {
	pinned := strings.EqualFold(cfg.Backend, "v4l2")

	if pinned {
		vc, err := gocv.OpenVideoCaptureWithAPI(cfg.Device, gocv.VideoCaptureV4L2)
		if err == nil {
			if err := tuneAndProbe(vc, cfg); err == nil {
				return vc, nil
			}
			vc.Close()
		}
		log.Warn().Str("device", cfg.Device).Msg("pinned v4l2 open failed, trying default backend")
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, cfg.Device, err)
	}
	if err := tuneAndProbe(vc, cfg); err != nil {
		vc.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, cfg.Device, err)
	}
	return vc, nil
}

// tuneAndProbe forces format, queue depth and geometry, then verifies the
// device actually delivers a frame. Order matters: FOURCC before geometry,
// or some drivers silently revert to YUYV.
func tuneAndProbe(vc *gocv.VideoCapture, cfg config.CameraConfig) error {
	if fourcc := strings.ToUpper(cfg.Format); len(fourcc) == 4 {
		vc.Set(gocv.VideoCaptureFOURCC, vc.ToCodec(fourcc))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	if cfg.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}

	if !vc.IsOpened() {
		return fmt.Errorf("device not opened")
	}
	probe := gocv.NewMat()
	defer probe.Close()
	if ok := vc.Read(&probe); !ok || probe.Empty() {
		return fmt.Errorf("probe read failed")
	}
	return nil
}
