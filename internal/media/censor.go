package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/KushagraSharma924/censorly/pkg/interval"
)

// beepAmplitude is −6 dBFS relative to int16 full scale.
const beepAmplitude = 0.5

// beepFadeS is the linear fade-in/out applied at beep edges to avoid clicks.
const beepFadeS = 0.010

// minCutOutputS is the shortest output cut mode will emit.
const minCutOutputS = 1.0

// CensorRequest describes one censoring operation over a source video.
type CensorRequest struct {
	InputPath  string
	OutputPath string

	// Workspace holds intermediates; the caller owns its lifecycle.
	Workspace string

	Mode      string // beep, mute or cut
	Intervals []interval.Interval
	DurationS float64

	// BeepFrequencyHz is only used in beep mode.
	BeepFrequencyHz int
}

// Censor renders the censored output. Mute and beep rewrite the audio track
// sample-by-sample and re-mux against the untouched video stream, preserving
// input duration. Cut assembles the stream-copied complement ranges.
func (t Tools) Censor(ctx context.Context, req CensorRequest) error {
	if len(req.Intervals) == 0 && req.Mode != "cut" {
		// Nothing to censor: the output is the input re-muxed as-is.
		return t.remuxCopy(ctx, req.InputPath, req.OutputPath)
	}

	switch req.Mode {
	case "mute", "beep":
		return t.censorAudio(ctx, req)
	case "cut":
		return t.censorCut(ctx, req)
	default:
		return fmt.Errorf("media: unknown censor mode %q", req.Mode)
	}
}

// censorAudio extracts the native audio track, silences or beeps the flagged
// ranges on PCM, and muxes the rewritten track back while stream-copying the
// video.
func (t Tools) censorAudio(ctx context.Context, req CensorRequest) error {
	rawWAV := filepath.Join(req.Workspace, "audio-native.wav")
	if err := t.ExtractAudioNative(ctx, req.InputPath, rawWAV); err != nil {
		return err
	}

	audio, err := ReadWAV(rawWAV)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMuxFailed, err)
	}

	for _, iv := range req.Intervals {
		if req.Mode == "beep" {
			BeepRange(audio, iv.Start, iv.End, req.BeepFrequencyHz)
		} else {
			SilenceRange(audio, iv.Start, iv.End)
		}
	}

	censoredWAV := filepath.Join(req.Workspace, "audio-censored.wav")
	if err := WriteWAV(censoredWAV, audio); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxFailed, err)
	}

	if err := t.muxAudio(ctx, req.InputPath, censoredWAV, req.OutputPath); err != nil {
		return err
	}
	return nil
}

// muxAudio replaces the audio track of videoPath with wavPath, copying the
// video stream without re-encoding.
func (t Tools) muxAudio(ctx context.Context, videoPath, wavPath, outPath string) error {
	tmp := tempSibling(outPath)
	defer os.Remove(tmp)

	err := t.runFFmpeg(ctx,
		"-y",
		"-i", videoPath,
		"-i", wavPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", containerFormat(outPath),
		tmp,
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMuxFailed, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("%w: finalize output: %v", ErrMuxFailed, err)
	}
	return nil
}

// remuxCopy copies both streams into a fresh container.
func (t Tools) remuxCopy(ctx context.Context, inputPath, outPath string) error {
	tmp := tempSibling(outPath)
	defer os.Remove(tmp)

	err := t.runFFmpeg(ctx, "-y", "-i", inputPath, "-c", "copy", "-f", containerFormat(outPath), tmp)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrMuxFailed, err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return fmt.Errorf("%w: finalize output: %v", ErrMuxFailed, err)
	}
	return nil
}

// censorCut extracts the complement of the flagged intervals as stream-copied
// segments and concatenates them with the concat demuxer.
func (t Tools) censorCut(ctx context.Context, req CensorRequest) error {
	keep := interval.Complement(req.Intervals, req.DurationS)
	if len(keep) == 0 {
		return ErrEmptyOutput
	}

	var keptTotal float64
	for _, r := range keep {
		keptTotal += r.Duration()
	}
	if keptTotal < minCutOutputS {
		return fmt.Errorf("%w: %.2fs remain", ErrOutputTooShort, keptTotal)
	}

	// One stream-copied segment per kept range.
	var segments []string
	for i, r := range keep {
		seg := filepath.Join(req.Workspace, fmt.Sprintf("segment-%03d%s", i, filepath.Ext(req.OutputPath)))
		err := t.runFFmpeg(ctx,
			"-y",
			"-ss", formatSeconds(r.Start),
			"-to", formatSeconds(r.End),
			"-i", req.InputPath,
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
			seg,
		)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: segment %d: %v", ErrMuxFailed, i, err)
		}
		segments = append(segments, seg)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	listPath := filepath.Join(req.Workspace, "concat.txt")
	var list strings.Builder
	for _, seg := range segments {
		fmt.Fprintf(&list, "file '%s'\n", seg)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return fmt.Errorf("%w: write concat list: %v", ErrMuxFailed, err)
	}

	tmp := tempSibling(req.OutputPath)
	defer os.Remove(tmp)

	err := t.runFFmpeg(ctx,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-f", containerFormat(req.OutputPath),
		tmp,
	)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: concat: %v", ErrMuxFailed, err)
	}
	if err := os.Rename(tmp, req.OutputPath); err != nil {
		return fmt.Errorf("%w: finalize output: %v", ErrMuxFailed, err)
	}
	return nil
}

// SilenceRange zeroes the samples covering [startS, endS].
func SilenceRange(a *Audio, startS, endS float64) {
	from, to := a.frameIndex(startS), a.frameIndex(endS)
	for i := from; i < to; i++ {
		a.Samples[i] = 0
	}
}

// BeepRange replaces [startS, endS] with a sine tone at −6 dBFS with 10 ms
// linear fades at both edges.
func BeepRange(a *Audio, startS, endS float64, freqHz int) {
	from, to := a.frameIndex(startS), a.frameIndex(endS)
	if to <= from {
		return
	}

	frames := (to - from) / a.Channels
	fadeFrames := int(beepFadeS * float64(a.SampleRate))
	if fadeFrames*2 > frames {
		fadeFrames = frames / 2
	}

	omega := 2 * math.Pi * float64(freqHz) / float64(a.SampleRate)
	for f := 0; f < frames; f++ {
		gain := 1.0
		if f < fadeFrames {
			gain = float64(f) / float64(fadeFrames)
		} else if remain := frames - 1 - f; remain < fadeFrames {
			gain = float64(remain) / float64(fadeFrames)
		}
		sample := int16(beepAmplitude * gain * math.Sin(omega*float64(f)) * 32767)
		for c := 0; c < a.Channels; c++ {
			a.Samples[from+f*a.Channels+c] = sample
		}
	}
}

// formatSeconds renders a timestamp for ffmpeg arguments.
func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// containerFormat picks the ffmpeg muxer for the output extension, defaulting
// to mp4. Writing to a temp path without the final extension needs -f.
func containerFormat(outPath string) string {
	switch strings.ToLower(filepath.Ext(outPath)) {
	case ".mkv":
		return "matroska"
	case ".webm":
		return "webm"
	case ".mov", ".mp4", ".m4v":
		return "mp4"
	default:
		return "mp4"
	}
}
