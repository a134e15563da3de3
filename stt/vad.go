package stt

import (
	"time"

	"go.aimuz.me/termtalk/internal/types"
)

// VAD (Voice Activity Detector) finds the part of a finished recording
// that contains speech, so leading and trailing silence never reaches the
// model.
type VAD struct {
	threshold float32       // RMS above this marks a frame as speech
	frame     time.Duration // Analysis window
	padding   time.Duration // Audio kept on both sides of the detected speech
	minSpeech time.Duration // Less voiced time than this is treated as noise
}

// NewVAD creates a detector with given thresholds.
func NewVAD(threshold float32, frame, padding, minSpeech time.Duration) *VAD {
	if frame <= 0 {
		frame = 20 * time.Millisecond
	}
	return &VAD{
		threshold: threshold,
		frame:     frame,
		padding:   padding,
		minSpeech: minSpeech,
	}
}

// SpeechSpan is the sample range [Start, End) to transcribe.
type SpeechSpan struct {
	Start  int
	End    int
	Voiced time.Duration // Total duration of frames above the threshold
}

// Detect returns the padded span around all speech in samples. ok is false
// when the recording holds no speech at all.
func (v *VAD) Detect(samples []float32, f types.AudioFormat) (span SpeechSpan, ok bool) {
	if len(samples) == 0 || f.SampleRate <= 0 || f.Channels <= 0 {
		return SpeechSpan{}, false
	}

	frameLen := samplesFor(v.frame, f)
	if frameLen <= 0 {
		frameLen = len(samples)
	}

	first, last, voiced := -1, -1, 0
	for off := 0; off < len(samples); off += frameLen {
		end := min(off+frameLen, len(samples))
		if calculateRMS(samples[off:end]) > v.threshold {
			if first < 0 {
				first = off
			}
			last = end
			voiced += end - off
		}
	}
	if first < 0 {
		return SpeechSpan{}, false
	}

	span.Voiced = time.Duration(voiced/f.Channels) * time.Second / time.Duration(f.SampleRate)
	if span.Voiced < v.minSpeech {
		return span, false
	}

	pad := samplesFor(v.padding, f)
	span.Start = max(0, first-pad)
	span.End = min(len(samples), last+pad)
	return span, true
}

// samplesFor converts d into an interleaved sample count.
func samplesFor(d time.Duration, f types.AudioFormat) int {
	return int(d*time.Duration(f.SampleRate)/time.Second) * f.Channels
}
