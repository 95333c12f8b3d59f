package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ProbeDuration returns the container duration of the media file at path in
// seconds. Unreadable inputs map to ErrProbeFailed.
func (t Tools) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := t.runFFprobe(ctx,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	raw := strings.TrimSpace(out)
	duration, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable duration %q", ErrProbeFailed, raw)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%w: non-positive duration %v", ErrProbeFailed, duration)
	}
	return duration, nil
}
