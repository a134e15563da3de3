package stt

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"go.aimuz.me/termtalk/internal/types"
)

// writeTempWAV encodes samples into a new temporary 16-bit WAV file,
// rewound to the start. The caller removes it with cleanup.
func writeTempWAV(samples []float32, format types.AudioFormat) (file *os.File, cleanup func(), err error) {
	file, err = os.CreateTemp("", "termtalk_*.wav")
	if err != nil {
		return nil, nil, fmt.Errorf("temp file: %w", err)
	}
	cleanup = func() {
		file.Close()
		os.Remove(file.Name())
	}

	if err := EncodeWAV(file, samples, format); err != nil {
		cleanup()
		return nil, nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("rewind wav: %w", err)
	}
	return file, cleanup, nil
}

// EncodeWAV writes samples as 16-bit PCM WAV to w.
func EncodeWAV(w io.WriteSeeker, samples []float32, format types.AudioFormat) error {
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buffer.Data[i] = int(toInt16(s))
	}

	enc := wav.NewEncoder(w, format.SampleRate, 16, format.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// pcm16 converts samples to little-endian signed 16-bit PCM.
func pcm16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func toInt16(s float32) int16 {
	// Clamp to [-1, 1]
	if s > 1.0 {
		s = 1.0
	} else if s < -1.0 {
		s = -1.0
	}
	return int16(s * 32767)
}
