// Package config holds the resolved runtime configuration for the device.
// Values come from defaults, overlaid by an optional YAML file, overlaid by
// MIRU_* environment variables. The rest of the code only ever sees the
// final resolved values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Identity IdentityConfig `yaml:"identity"`
	Touch    TouchConfig    `yaml:"touch"`
	Display  DisplayConfig  `yaml:"display"`
	Loop     LoopConfig     `yaml:"loop"`
	Log      LogConfig      `yaml:"log"`
}

type CameraConfig struct {
	Device       string   `yaml:"device"`
	Width        int      `yaml:"width"`
	Height       int      `yaml:"height"`
	FPS          int      `yaml:"fps"`
	Format       string   `yaml:"format"`  // mjpg or any
	Backend      string   `yaml:"backend"` // v4l2 or any
	FrameTimeout Duration `yaml:"frame_timeout"`
}

type PipelineConfig struct {
	DetectorModel   string  `yaml:"detector_model"`
	RecognizerModel string  `yaml:"recognizer_model"`
	ScoreThreshold  float64 `yaml:"score_threshold"`
	NMSThreshold    float64 `yaml:"nms_threshold"`
	MinFacePx       int     `yaml:"min_face_px"`
	MaxFaces        int     `yaml:"max_faces"`
	DetectWidth     int     `yaml:"detect_width"`
	DetectHeight    int     `yaml:"detect_height"`
}

type IdentityConfig struct {
	StorePath      string  `yaml:"store_path"`
	MatchThreshold float64 `yaml:"match_threshold"`
	ANNCutover     int     `yaml:"ann_cutover"`
}

type TouchConfig struct {
	Device  string `yaml:"device"` // evdev node path, or auto
	Enabled bool   `yaml:"enabled"`
	XMin    int    `yaml:"x_min"`
	XMax    int    `yaml:"x_max"`
	YMin    int    `yaml:"y_min"`
	YMax    int    `yaml:"y_max"`
}

type DisplayConfig struct {
	Target      string `yaml:"target"` // framebuffer, headless or auto
	Framebuffer string `yaml:"framebuffer"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	AssetsDir   string `yaml:"assets_dir"`
}

type LoopConfig struct {
	TickInterval        Duration `yaml:"tick_interval"`
	RecognitionInterval int      `yaml:"recognition_interval"`
	ConfirmTicks        int      `yaml:"confirm_ticks"`
	NoFaceResetTicks    int      `yaml:"no_face_reset_ticks"`
	TouchDwell          Duration `yaml:"touch_dwell"`
	FrameFailureLimit   int      `yaml:"frame_failure_limit"`
	StatsInterval       Duration `yaml:"stats_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration for a stock device: 640x480 MJPEG camera
// on /dev/video0, 320x240 framebuffer, store file next to the binary.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			Device:       "/dev/video0",
			Width:        640,
			Height:       480,
			FPS:          30,
			Format:       "mjpg",
			Backend:      "v4l2",
			FrameTimeout: Duration(100 * time.Millisecond),
		},
		Pipeline: PipelineConfig{
			DetectorModel:   "models/face_detection_yunet_2023mar.onnx",
			RecognizerModel: "models/face_recognition_sface_2021dec.onnx",
			ScoreThreshold:  0.75,
			NMSThreshold:    0.3,
			MinFacePx:       60,
			MaxFaces:        1,
			DetectWidth:     320,
			DetectHeight:    240,
		},
		Identity: IdentityConfig{
			StorePath:      "identities.json",
			MatchThreshold: 0.4,
			ANNCutover:     256,
		},
		Touch: TouchConfig{
			Device:  "auto",
			Enabled: true,
			XMin:    0,
			XMax:    4095,
			YMin:    0,
			YMax:    4095,
		},
		Display: DisplayConfig{
			Target:      "auto",
			Framebuffer: "/dev/fb0",
			Width:       320,
			Height:      240,
			AssetsDir:   "assets",
		},
		Loop: LoopConfig{
			TickInterval:        Duration(33 * time.Millisecond),
			RecognitionInterval: 2,
			ConfirmTicks:        3,
			NoFaceResetTicks:    30,
			TouchDwell:          Duration(1500 * time.Millisecond),
			FrameFailureLimit:   5,
			StatsInterval:       Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file (if present),
// then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// config file is optional, defaults apply
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Camera.Device = envStr("MIRU_CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Width = envInt("MIRU_CAMERA_WIDTH", c.Camera.Width)
	c.Camera.Height = envInt("MIRU_CAMERA_HEIGHT", c.Camera.Height)
	c.Camera.FPS = envInt("MIRU_CAMERA_FPS", c.Camera.FPS)
	c.Camera.Format = envStr("MIRU_CAMERA_FORMAT", c.Camera.Format)
	c.Camera.Backend = envStr("MIRU_CAMERA_BACKEND", c.Camera.Backend)
	c.Camera.FrameTimeout = envDuration("MIRU_CAMERA_FRAME_TIMEOUT", c.Camera.FrameTimeout)

	c.Pipeline.DetectorModel = envStr("MIRU_PIPELINE_DETECTOR_MODEL", c.Pipeline.DetectorModel)
	c.Pipeline.RecognizerModel = envStr("MIRU_PIPELINE_RECOGNIZER_MODEL", c.Pipeline.RecognizerModel)
	c.Pipeline.ScoreThreshold = envFloat("MIRU_PIPELINE_SCORE_THRESHOLD", c.Pipeline.ScoreThreshold)
	c.Pipeline.NMSThreshold = envFloat("MIRU_PIPELINE_NMS_THRESHOLD", c.Pipeline.NMSThreshold)
	c.Pipeline.MinFacePx = envInt("MIRU_PIPELINE_MIN_FACE_PX", c.Pipeline.MinFacePx)
	c.Pipeline.MaxFaces = envInt("MIRU_PIPELINE_MAX_FACES", c.Pipeline.MaxFaces)

	c.Identity.StorePath = envStr("MIRU_IDENTITY_STORE_PATH", c.Identity.StorePath)
	c.Identity.MatchThreshold = envFloat("MIRU_IDENTITY_MATCH_THRESHOLD", c.Identity.MatchThreshold)
	c.Identity.ANNCutover = envInt("MIRU_IDENTITY_ANN_CUTOVER", c.Identity.ANNCutover)

	c.Touch.Device = envStr("MIRU_TOUCH_DEVICE", c.Touch.Device)
	c.Touch.Enabled = envBool("MIRU_TOUCH_ENABLED", c.Touch.Enabled)

	c.Display.Target = envStr("MIRU_DISPLAY_TARGET", c.Display.Target)
	c.Display.Framebuffer = envStr("MIRU_DISPLAY_FRAMEBUFFER", c.Display.Framebuffer)
	c.Display.AssetsDir = envStr("MIRU_DISPLAY_ASSETS_DIR", c.Display.AssetsDir)

	c.Loop.TickInterval = envDuration("MIRU_LOOP_TICK_INTERVAL", c.Loop.TickInterval)
	c.Loop.RecognitionInterval = envInt("MIRU_LOOP_RECOGNITION_INTERVAL", c.Loop.RecognitionInterval)
	c.Loop.ConfirmTicks = envInt("MIRU_LOOP_CONFIRM_TICKS", c.Loop.ConfirmTicks)
	c.Loop.NoFaceResetTicks = envInt("MIRU_LOOP_NO_FACE_RESET_TICKS", c.Loop.NoFaceResetTicks)
	c.Loop.TouchDwell = envDuration("MIRU_LOOP_TOUCH_DWELL", c.Loop.TouchDwell)
	c.Loop.FrameFailureLimit = envInt("MIRU_LOOP_FRAME_FAILURE_LIMIT", c.Loop.FrameFailureLimit)

	c.Log.Level = envStr("MIRU_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envStr("MIRU_LOG_FORMAT", c.Log.Format)
}

// Validate reports the first offending field, if any.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("config: camera resolution %dx%d is invalid", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("config: camera fps %d is invalid", c.Camera.FPS)
	}
	switch c.Camera.Backend {
	case "v4l2", "any":
	default:
		return fmt.Errorf("config: camera backend %q (want v4l2 or any)", c.Camera.Backend)
	}
	switch c.Camera.Format {
	case "mjpg", "any":
	default:
		return fmt.Errorf("config: camera format %q (want mjpg or any)", c.Camera.Format)
	}
	if c.Pipeline.DetectorModel == "" || c.Pipeline.RecognizerModel == "" {
		return fmt.Errorf("config: pipeline model paths must be set")
	}
	if c.Pipeline.MaxFaces < 1 {
		return fmt.Errorf("config: pipeline max_faces %d (want >= 1)", c.Pipeline.MaxFaces)
	}
	if c.Identity.StorePath == "" {
		return fmt.Errorf("config: identity store_path must be set")
	}
	if c.Identity.MatchThreshold <= 0 || c.Identity.MatchThreshold > 2 {
		return fmt.Errorf("config: identity match_threshold %v (cosine distance, want 0 < t <= 2)", c.Identity.MatchThreshold)
	}
	switch c.Display.Target {
	case "auto", "framebuffer", "headless":
	default:
		return fmt.Errorf("config: display target %q (want auto, framebuffer or headless)", c.Display.Target)
	}
	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("config: display resolution %dx%d is invalid", c.Display.Width, c.Display.Height)
	}
	// Inverted ranges (max < min) are allowed: they flip an axis for
	// controllers mounted upside down.
	if c.Touch.XMax == c.Touch.XMin || c.Touch.YMax == c.Touch.YMin {
		return fmt.Errorf("config: touch calibration range is empty")
	}
	if c.Loop.TickInterval <= 0 {
		return fmt.Errorf("config: loop tick_interval must be positive")
	}
	if c.Loop.RecognitionInterval < 1 {
		return fmt.Errorf("config: loop recognition_interval %d (want >= 1)", c.Loop.RecognitionInterval)
	}
	if c.Loop.ConfirmTicks < 1 {
		return fmt.Errorf("config: loop confirm_ticks %d (want >= 1)", c.Loop.ConfirmTicks)
	}
	if c.Loop.FrameFailureLimit < 1 {
		return fmt.Errorf("config: loop frame_failure_limit %d (want >= 1)", c.Loop.FrameFailureLimit)
	}
	return nil
}

// Duration wraps time.Duration so YAML can carry values like "33ms" or "2s".
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// envStr reads an environment variable, keeping the default when unset or empty.
func envStr(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

func envDuration(key string, defaultVal Duration) Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return Duration(d)
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultVal
}
