package prompt

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// Viewer shows an image file to the operator.
type Viewer interface {
	Open(ctx context.Context, path string) error
}

// ViewerFunc adapts a function to Viewer.
type ViewerFunc func(ctx context.Context, path string) error

// Open calls f.
func (f ViewerFunc) Open(ctx context.Context, path string) error {
	return f(ctx, path)
}

// SystemViewer opens files with the host's default application.
type SystemViewer struct {
	goos string
}

// NewSystemViewer returns a viewer for the running OS.
func NewSystemViewer() *SystemViewer {
	return &SystemViewer{goos: runtime.GOOS}
}

// Command returns the launcher and arguments used to open path.
func (v *SystemViewer) Command(path string) (string, []string) {
	switch v.goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", path}
	case "darwin":
		return "open", []string{path}
	default:
		return "xdg-open", []string{path}
	}
}

// Open starts the launcher without waiting for the viewer to close.
func (v *SystemViewer) Open(ctx context.Context, path string) error {
	name, args := v.Command(path)
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
