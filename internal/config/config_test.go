package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not fail, got: %v", err)
	}

	if cfg.Camera.Device != "/dev/video0" {
		t.Errorf("expected default camera device, got %q", cfg.Camera.Device)
	}
	if cfg.Identity.MatchThreshold != 0.4 {
		t.Errorf("expected default threshold 0.4, got %v", cfg.Identity.MatchThreshold)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miru.yaml")
	content := `
camera:
  device: /dev/video2
  width: 1280
  height: 720
loop:
  tick_interval: 50ms
  confirm_ticks: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Device != "/dev/video2" {
		t.Errorf("expected /dev/video2, got %q", cfg.Camera.Device)
	}
	if cfg.Camera.Width != 1280 || cfg.Camera.Height != 720 {
		t.Errorf("expected 1280x720, got %dx%d", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Loop.TickInterval.D() != 50*time.Millisecond {
		t.Errorf("expected tick interval 50ms, got %v", cfg.Loop.TickInterval.D())
	}
	if cfg.Loop.ConfirmTicks != 5 {
		t.Errorf("expected confirm_ticks 5, got %d", cfg.Loop.ConfirmTicks)
	}

	// Untouched sections keep their defaults.
	if cfg.Display.Width != 320 || cfg.Display.Height != 240 {
		t.Errorf("expected default display 320x240, got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miru.yaml")
	if err := os.WriteFile(path, []byte("camera:\n  device: /dev/video1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MIRU_CAMERA_DEVICE", "/dev/video9")
	t.Setenv("MIRU_IDENTITY_MATCH_THRESHOLD", "0.25")
	t.Setenv("MIRU_LOOP_TICK_INTERVAL", "100ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Device != "/dev/video9" {
		t.Errorf("env should beat file, got %q", cfg.Camera.Device)
	}
	if cfg.Identity.MatchThreshold != 0.25 {
		t.Errorf("expected threshold 0.25, got %v", cfg.Identity.MatchThreshold)
	}
	if cfg.Loop.TickInterval.D() != 100*time.Millisecond {
		t.Errorf("expected tick interval 100ms, got %v", cfg.Loop.TickInterval.D())
	}
}

func TestLoad_InvalidEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("MIRU_CAMERA_WIDTH", "not-a-number")
	t.Setenv("MIRU_IDENTITY_MATCH_THRESHOLD", "-1")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Width != 640 {
		t.Errorf("invalid int should keep default 640, got %d", cfg.Camera.Width)
	}
	if cfg.Identity.MatchThreshold != 0.4 {
		t.Errorf("negative threshold should keep default 0.4, got %v", cfg.Identity.MatchThreshold)
	}
}

func TestLoad_BadYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miru.yaml")
	if err := os.WriteFile(path, []byte("camera: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero width", func(c *Config) { c.Camera.Width = 0 }},
		{"bad backend", func(c *Config) { c.Camera.Backend = "gstreamer" }},
		{"bad format", func(c *Config) { c.Camera.Format = "h264" }},
		{"empty model", func(c *Config) { c.Pipeline.DetectorModel = "" }},
		{"zero max faces", func(c *Config) { c.Pipeline.MaxFaces = 0 }},
		{"empty store path", func(c *Config) { c.Identity.StorePath = "" }},
		{"threshold too large", func(c *Config) { c.Identity.MatchThreshold = 2.5 }},
		{"bad display target", func(c *Config) { c.Display.Target = "x11" }},
		{"empty touch range", func(c *Config) { c.Touch.XMax = c.Touch.XMin }},
		{"zero tick", func(c *Config) { c.Loop.TickInterval = 0 }},
		{"zero confirm ticks", func(c *Config) { c.Loop.ConfirmTicks = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestValidate_AllowsInvertedTouchRange(t *testing.T) {
	cfg := Default()
	cfg.Touch.XMin, cfg.Touch.XMax = cfg.Touch.XMax, cfg.Touch.XMin
	if err := cfg.Validate(); err != nil {
		t.Errorf("inverted touch axis should validate, got %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	var cfg struct {
		D Duration `yaml:"d"`
	}

	if err := yaml.Unmarshal([]byte("d: 1500ms"), &cfg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if cfg.D.D() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", cfg.D.D())
	}

	if err := yaml.Unmarshal([]byte("d: fast"), &cfg); err == nil {
		t.Error("expected error for non-duration value")
	}
}

func TestResolveDisplayTarget_SSH(t *testing.T) {
	t.Setenv("SSH_CONNECTION", "10.0.0.1 50000 10.0.0.2 22")

	cfg := Default()
	target, reason := cfg.ResolveDisplayTarget()

	if target != "headless" {
		t.Errorf("expected headless over SSH, got %q (%s)", target, reason)
	}
	if cfg.Display.Target != "headless" {
		t.Errorf("target should be written back into config, got %q", cfg.Display.Target)
	}
}

func TestResolveDisplayTarget_MissingFramebuffer(t *testing.T) {
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("SSH_TTY", "")

	cfg := Default()
	cfg.Display.Framebuffer = filepath.Join(t.TempDir(), "fb-missing")

	target, _ := cfg.ResolveDisplayTarget()
	if target != "headless" {
		t.Errorf("expected headless without framebuffer node, got %q", target)
	}
}

func TestResolveDisplayTarget_Hardware(t *testing.T) {
	t.Setenv("SSH_CONNECTION", "")
	t.Setenv("SSH_TTY", "")

	fb := filepath.Join(t.TempDir(), "fb0")
	if err := os.WriteFile(fb, make([]byte, 8), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Display.Framebuffer = fb

	target, _ := cfg.ResolveDisplayTarget()
	if target != "framebuffer" {
		t.Errorf("expected framebuffer with node present, got %q", target)
	}
}

func TestResolveDisplayTarget_Explicit(t *testing.T) {
	cfg := Default()
	cfg.Display.Target = "headless"

	target, reason := cfg.ResolveDisplayTarget()
	if target != "headless" || reason != "configured explicitly" {
		t.Errorf("explicit target must pass through, got %q (%s)", target, reason)
	}
}
