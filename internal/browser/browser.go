// Package browser opens URLs in the user's default web browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/skratchdot/open-golang/open"
	"github.com/suhailma1ik/clipify/internal/logger"
	"go.uber.org/zap"
)

// Launcher opens URLs in the default browser. It exists as a type so the
// login coordinator can take it as an interface and tests can stub it.
type Launcher struct{}

func NewLauncher() *Launcher {
	return &Launcher{}
}

// OpenURL opens the URL in the default browser, trying open-golang first and
// falling back to platform-specific commands.
func (l *Launcher) OpenURL(url string) error {
	if err := open.Run(url); err == nil {
		logger.Debug("Opened URL in default browser", zap.String("url", url))
		return nil
	}
	return openPlatformSpecific(url)
}

func openPlatformSpecific(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux":
		for _, candidate := range []string{"xdg-open", "x-www-browser", "firefox", "chromium", "google-chrome"} {
			if _, err := exec.LookPath(candidate); err == nil {
				cmd = exec.Command(candidate, url)
				break
			}
		}
		if cmd == nil {
			return fmt.Errorf("no suitable browser launcher found")
		}
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	return nil
}
