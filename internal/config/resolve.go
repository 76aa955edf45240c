package config

import "os"

// ResolveDisplayTarget turns a display target of "auto" into a concrete
// backend choice. Over SSH, or when the framebuffer node is missing, the
// device runs headless; otherwise it draws to hardware. The returned reason
// is meant for the startup log line.
func (c *Config) ResolveDisplayTarget() (target, reason string) {
	if c.Display.Target != "auto" {
		return c.Display.Target, "configured explicitly"
	}

	switch {
	case os.Getenv("SSH_CONNECTION") != "" || os.Getenv("SSH_TTY") != "":
		c.Display.Target = "headless"
		return c.Display.Target, "SSH session detected"
	case !fileExists(c.Display.Framebuffer):
		c.Display.Target = "headless"
		return c.Display.Target, "framebuffer " + c.Display.Framebuffer + " not present"
	default:
		c.Display.Target = "framebuffer"
		return c.Display.Target, "framebuffer " + c.Display.Framebuffer + " present"
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
