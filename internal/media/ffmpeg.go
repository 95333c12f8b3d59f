// Package media wraps the external ffmpeg/ffprobe tools and the censoring
// operators: audio extraction, duration probing, WAV-level mute/beep
// rendering and cut-and-concat assembly.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// Failure classes surfaced to the pipeline runner. Each maps to one stable
// user-visible error kind.
var (
	// ErrToolUnavailable means ffmpeg or ffprobe is not installed.
	ErrToolUnavailable = errors.New("media: tool not found")

	// ErrExtractFailed means the audio extraction subprocess failed.
	ErrExtractFailed = errors.New("media: audio extraction failed")

	// ErrMuxFailed means a mux, trim or concat subprocess failed.
	ErrMuxFailed = errors.New("media: mux failed")

	// ErrProbeFailed means the input could not be probed.
	ErrProbeFailed = errors.New("media: probe failed")

	// ErrEmptyOutput means cut mode removed the entire input.
	ErrEmptyOutput = errors.New("media: cut removed entire input")

	// ErrOutputTooShort means the post-cut output would be under one second.
	ErrOutputTooShort = errors.New("media: output shorter than one second")
)

// gracefulShutdownTimeout is how long a cancelled ffmpeg gets to finalize its
// output after receiving 'q' on stdin before being killed.
const gracefulShutdownTimeout = 5 * time.Second

// Tools holds resolved paths to the external media binaries.
type Tools struct {
	FFmpeg  string
	FFprobe string
}

// LocateTools resolves ffmpeg and ffprobe, preferring explicit paths over
// PATH lookup. Missing binaries return ErrToolUnavailable.
func LocateTools(ffmpegPath, ffprobePath string) (Tools, error) {
	t := Tools{FFmpeg: ffmpegPath, FFprobe: ffprobePath}
	var err error
	if t.FFmpeg == "" {
		if t.FFmpeg, err = exec.LookPath("ffmpeg"); err != nil {
			return Tools{}, fmt.Errorf("%w: ffmpeg: %v", ErrToolUnavailable, err)
		}
	}
	if t.FFprobe == "" {
		if t.FFprobe, err = exec.LookPath("ffprobe"); err != nil {
			return Tools{}, fmt.Errorf("%w: ffprobe: %v", ErrToolUnavailable, err)
		}
	}
	return t, nil
}

// runFFmpeg executes ffmpeg with graceful shutdown on context cancellation:
// 'q' on stdin lets ffmpeg finalize the container (headers, trailers) before
// a hard kill. SIGTERM is not portable to Windows; 'q' is.
func (t Tools) runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.Command(t.FFmpeg, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	// ffmpeg writes diagnostics to stderr.
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("ffmpeg: %w: %s", err, tailOf(stderr.String()))
		}
		return nil

	case <-ctx.Done():
		_, _ = io.WriteString(stdin, "q")
		_ = stdin.Close()

		select {
		case <-done:
		case <-time.After(gracefulShutdownTimeout):
			_ = cmd.Process.Kill()
			<-done
		}
		return ctx.Err()
	}
}

// runFFprobe executes ffprobe and returns its stdout.
func (t Tools) runFFprobe(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, t.FFprobe, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffprobe: %w: %s", err, tailOf(stderr.String()))
	}
	return stdout.String(), nil
}

// tailOf keeps error messages readable: ffmpeg stderr includes the full
// banner, so only the last few lines carry the actual failure.
func tailOf(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	const keep = 4
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, " | ")
}
