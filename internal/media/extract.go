package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ExtractAudioASR produces the mono 16 kHz PCM WAV the speech engine
// consumes. The output is written to a temp path and renamed so readers never
// see a partial file. Non-zero ffmpeg exit maps to ErrExtractFailed;
// cancellation terminates the subprocess and propagates the context error.
func (t Tools) ExtractAudioASR(ctx context.Context, inputPath, outPath string) error {
	return t.extract(ctx, inputPath, outPath,
		"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1")
}

// ExtractAudioNative extracts the audio track as PCM16 preserving the source
// sample rate and channel count. Mute and beep rendering operate on this
// stream so the re-muxed track keeps the original characteristics.
func (t Tools) ExtractAudioNative(ctx context.Context, inputPath, outPath string) error {
	return t.extract(ctx, inputPath, outPath, "-vn", "-acodec", "pcm_s16le")
}

func (t Tools) extract(ctx context.Context, inputPath, outPath string, codecArgs ...string) error {
	tmp := tempSibling(outPath)
	defer os.Remove(tmp)

	if err := t.runFFmpeg(ctx, extractArgs(inputPath, tmp, codecArgs...)...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}

	// An extraction that produced no audio payload is as bad as a failed one.
	fi, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("%w: stat output: %v", ErrExtractFailed, err)
	}
	const wavHeaderSize = 44
	if fi.Size() <= wavHeaderSize {
		return fmt.Errorf("%w: extracted audio is empty", ErrExtractFailed)
	}

	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("%w: finalize output: %v", ErrExtractFailed, err)
	}
	return nil
}

// extractArgs builds the ffmpeg argv for an audio extraction. ffmpeg guesses
// the muxer from the output extension, and the temp path ends in .part, so
// the wav muxer must be forced with -f.
func extractArgs(inputPath, outPath string, codecArgs ...string) []string {
	args := append([]string{"-y", "-i", inputPath}, codecArgs...)
	return append(args, "-f", "wav", outPath)
}

// tempSibling returns a hidden temp path in the same directory as path, so
// the final rename stays on one filesystem.
func tempSibling(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".part")
}
