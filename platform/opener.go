package platform

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"juxction/logger"

	"go.uber.org/zap"
)

var ErrUnsupportedScheme = errors.New("unsupported url scheme")

// Runner starts a detached process.
type Runner func(ctx context.Context, name string, args ...string) error

func startProcess(ctx context.Context, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}

// Opener hands URLs to the desktop: http(s) to the browser, steam:// to the
// Steam client.
type Opener struct {
	goos string
	run  Runner
	log  *zap.Logger
}

func NewOpener() *Opener {
	return NewOpenerWithRunner(runtime.GOOS, startProcess)
}

func NewOpenerWithRunner(goos string, run Runner) *Opener {
	return &Opener{goos: goos, run: run, log: logger.Named("platform.opener")}
}

func (o *Opener) Open(ctx context.Context, url string) error {
	if !allowedScheme(url) {
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, url)
	}

	name, args := o.command(url)
	if err := o.run(ctx, name, args...); err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	o.log.Debug("opened url", zap.String("command", name))
	return nil
}

func (o *Opener) command(url string) (string, []string) {
	switch o.goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		return "open", []string{url}
	default:
		return "xdg-open", []string{url}
	}
}

func allowedScheme(url string) bool {
	for _, prefix := range []string{"http://", "https://", "steam://"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
