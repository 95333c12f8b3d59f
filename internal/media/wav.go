package media

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Audio is decoded 16-bit PCM. Samples are interleaved when Channels > 1.
type Audio struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// DurationS returns the audio length in seconds.
func (a *Audio) DurationS() float64 {
	if a.SampleRate == 0 || a.Channels == 0 {
		return 0
	}
	frames := len(a.Samples) / a.Channels
	return float64(frames) / float64(a.SampleRate)
}

// frameIndex converts a timestamp to an interleaved sample offset, clipped to
// the buffer.
func (a *Audio) frameIndex(ts float64) int {
	if ts < 0 {
		ts = 0
	}
	idx := int(ts*float64(a.SampleRate)) * a.Channels
	if idx > len(a.Samples) {
		idx = len(a.Samples)
	}
	return idx
}

// ReadWAV decodes a PCM16 RIFF/WAVE file. Chunks other than fmt and data are
// skipped, so files with LIST/INFO metadata parse fine.
func ReadWAV(path string) (*Audio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("media: read wav: %w", err)
	}
	return DecodeWAV(data)
}

// DecodeWAV decodes PCM16 RIFF/WAVE bytes.
func DecodeWAV(data []byte) (*Audio, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("media: not a RIFF/WAVE file")
	}

	var (
		audio    Audio
		sawFmt   bool
		bitDepth uint16
	)

	r := bytes.NewReader(data[12:])
	for {
		var header [8]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("media: read chunk header: %w", err)
		}
		chunkID := string(header[0:4])
		chunkSize := int(binary.LittleEndian.Uint32(header[4:8]))
		if chunkSize < 0 || chunkSize > r.Len() {
			chunkSize = r.Len()
		}
		chunk := make([]byte, chunkSize)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("media: read chunk %q: %w", chunkID, err)
		}
		// Chunks are word aligned.
		if chunkSize%2 == 1 && r.Len() > 0 {
			_, _ = r.Seek(1, io.SeekCurrent)
		}

		switch chunkID {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, fmt.Errorf("media: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(chunk[0:2])
			if format != 1 {
				return nil, fmt.Errorf("media: unsupported wav format %d, want PCM", format)
			}
			audio.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			audio.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitDepth = binary.LittleEndian.Uint16(chunk[14:16])
			if bitDepth != 16 {
				return nil, fmt.Errorf("media: unsupported bit depth %d, want 16", bitDepth)
			}
			sawFmt = true

		case "data":
			if !sawFmt {
				return nil, fmt.Errorf("media: data chunk before fmt chunk")
			}
			audio.Samples = make([]int16, len(chunk)/2)
			for i := range audio.Samples {
				audio.Samples[i] = int16(binary.LittleEndian.Uint16(chunk[2*i : 2*i+2]))
			}
		}
	}

	if !sawFmt {
		return nil, fmt.Errorf("media: missing fmt chunk")
	}
	if audio.Channels <= 0 || audio.SampleRate <= 0 {
		return nil, fmt.Errorf("media: invalid wav header: %d channels at %d Hz", audio.Channels, audio.SampleRate)
	}
	return &audio, nil
}

// WriteWAV encodes audio as PCM16 RIFF/WAVE at path.
func WriteWAV(path string, audio *Audio) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("media: create wav: %w", err)
	}
	defer f.Close()

	dataSize := uint32(len(audio.Samples) * 2)
	byteRate := audio.SampleRate * audio.Channels * 2
	blockAlign := audio.Channels * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(audio.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(audio.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	for _, s := range audio.Samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("media: write wav: %w", err)
	}
	return f.Sync()
}

// SamplesToFloat32 converts PCM16 samples to [-1, 1] floats, the form the
// speech engine consumes.
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
