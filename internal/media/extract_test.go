package media

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractArgsForcesWAVMuxer(t *testing.T) {
	args := extractArgs("/in/video.mp4", "/ws/.audio-asr.wav.part",
		"-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1")

	// The temp path carries no recognizable extension, so the muxer must be
	// selected explicitly right before the output path.
	n := len(args)
	if n < 3 || args[n-3] != "-f" || args[n-2] != "wav" {
		t.Fatalf("args = %v, want ... -f wav <output>", args)
	}
	if args[n-1] != "/ws/.audio-asr.wav.part" {
		t.Errorf("output path = %q, want the temp path last", args[n-1])
	}

	joined := strings.Join(args, " ")
	for _, want := range []string{"-y", "-i /in/video.mp4", "-acodec pcm_s16le"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestExtractArgsKeepsCodecArgsBeforeOutput(t *testing.T) {
	args := extractArgs("in.mkv", "out.part", "-vn", "-acodec", "pcm_s16le")

	var codecAt, outAt int
	for i, a := range args {
		switch a {
		case "pcm_s16le":
			codecAt = i
		case "out.part":
			outAt = i
		}
	}
	if codecAt == 0 || outAt == 0 || codecAt > outAt {
		t.Fatalf("args = %v, want codec args before the output path", args)
	}
}

func TestTempSiblingStaysInDir(t *testing.T) {
	tmp := tempSibling("/ws/job/audio-asr.wav")
	if filepath.Dir(tmp) != "/ws/job" {
		t.Errorf("tempSibling dir = %q, want /ws/job", filepath.Dir(tmp))
	}
	if filepath.Base(tmp) != ".audio-asr.wav.part" {
		t.Errorf("tempSibling base = %q", filepath.Base(tmp))
	}
}
