// Package ffmpeg implements the muxing-engine boundary as an out-of-process
// ffmpeg invocation. Streams are copied, not re-encoded; the container does
// the work of carrying separately downloaded audio and video together.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Executable constants
const (
	FFmpegCommand = "ffmpeg"

	// StreamCopyCodec avoids re-encoding when merging streams
	StreamCopyCodec = "copy"

	// FastStartFlag moves the index up front for mp4 outputs
	FastStartFlag = "+faststart"

	DefaultMuxTimeout = 30 * time.Minute
)

// Muxer invokes ffmpeg to merge or repackage downloaded streams.
type Muxer struct {
	binary  string
	timeout time.Duration
}

// New creates a Muxer that expects ffmpeg on PATH.
func New() *Muxer {
	return &Muxer{
		binary:  FFmpegCommand,
		timeout: DefaultMuxTimeout,
	}
}

// SetBinary overrides the ffmpeg binary path.
func (m *Muxer) SetBinary(path string) {
	m.binary = path
}

// Available checks that the ffmpeg binary can be found and executed.
func (m *Muxer) Available() error {
	path, err := exec.LookPath(m.binary)
	if err != nil {
		return fmt.Errorf("muxing engine not found: %w", err)
	}
	if err := exec.Command(path, "-version").Run(); err != nil {
		return fmt.Errorf("muxing engine not runnable: %w", err)
	}
	return nil
}

// Mux merges the input files into outputPath. The container is inferred by
// ffmpeg from the output extension; BuildArgs pins mp4-specific flags when
// the container asks for them. On failure the stderr diagnostic is attached
// to the returned error.
func (m *Muxer) Mux(ctx context.Context, inputPaths []string, outputPath, container string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no input files to mux")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	args := BuildArgs(inputPaths, outputPath, container)
	cmd := exec.CommandContext(ctx, m.binary, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("invoking muxing engine", "args", args)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		diag := lastDiagnosticLine(stderr.String())
		if diag != "" {
			return fmt.Errorf("mux failed: %v: %s", err, diag)
		}
		return fmt.Errorf("mux failed: %w", err)
	}
	return nil
}

// BuildArgs builds the ffmpeg command arguments.
func BuildArgs(inputPaths []string, outputPath, container string) []string {
	args := []string{"-y"} // overwrite the scratch output
	for _, in := range inputPaths {
		args = append(args, "-i", in)
	}
	args = append(args, "-c", StreamCopyCodec)
	if container == "mp4" {
		args = append(args, "-movflags", FastStartFlag)
	}
	if container != "" {
		args = append(args, "-f", containerFormat(container))
	}
	args = append(args, "-loglevel", "error", outputPath)
	return args
}

// containerFormat maps a container extension to ffmpeg's format name.
func containerFormat(container string) string {
	if container == "mkv" {
		return "matroska"
	}
	return container
}

// lastDiagnosticLine returns the last non-empty stderr line, which is where
// ffmpeg puts its actual complaint.
func lastDiagnosticLine(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
