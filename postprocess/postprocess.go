// Package postprocess cleans raw transcripts before they are typed.
package postprocess

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"go.aimuz.me/termtalk/internal/types"
)

var (
	// regexTimestamp matches whisper segment timestamps
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s-->\s\d{2}:\d{2}:\d{2}\.\d{3}\]`)
	// regexArtifacts matches [BLANK_AUDIO], (music) and similar non-speech tags
	regexArtifacts = regexp.MustCompile(`\[[^\]]*\]|[(*](?i:music|applause|laughter|laughs|silence|inaudible|noise|coughs|sighs)[)*]`)
	regexSpaces    = regexp.MustCompile(`\s+`)
)

// Options configures a Processor.
type Options struct {
	ApplyReplacements bool
	Replacements      map[string]string // Nil selects DefaultReplacements
	FilterRepetitive  bool
	Language          string  // Configured transcription language, empty for auto
	Refiner           Refiner // Optional last step; failures keep the unrefined text
}

// Refiner rewrites a cleaned transcript, e.g. with a language model.
type Refiner interface {
	Refine(ctx context.Context, text string) (string, error)
}

// Processor implements the transcript clean-up chain.
type Processor struct {
	opts     Options
	replacer *Replacer
	detector *Detector
}

// New creates a processor.
func New(opts Options) *Processor {
	p := &Processor{opts: opts}
	if opts.ApplyReplacements {
		table := opts.Replacements
		if table == nil {
			table = DefaultReplacements
		}
		p.replacer = NewReplacer(table)
		p.detector = NewDetector()
	}
	return p
}

// Filter cleans text. Corrupted or empty output yields types.ErrEmptyResult;
// a cancelled ctx yields its error.
func (p *Processor) Filter(ctx context.Context, text string) (string, error) {
	text = Clean(text)
	if text == "" {
		return "", types.ErrEmptyResult
	}
	if p.opts.FilterRepetitive && IsRepetitive(text) {
		return "", types.ErrEmptyResult
	}
	if p.replacer != nil && p.isEnglish(text) {
		text = p.replacer.Replace(text)
	}
	if p.opts.Refiner != nil {
		refined, err := p.opts.Refiner.Refine(ctx, text)
		switch {
		case ctx.Err() != nil:
			return "", ctx.Err()
		case err != nil:
			slog.Warn("refine transcript, keeping unrefined text", "error", err)
		default:
			text = refined
		}
	}
	return norm.NFC.String(strings.TrimSpace(text)), nil
}

func (p *Processor) isEnglish(text string) bool {
	switch strings.ToLower(p.opts.Language) {
	case "", "auto":
		return p.detector.MaybeEnglish(text)
	case "en", "english":
		return true
	default:
		return false
	}
}

// Clean removes timestamps and artifacts from the text.
func Clean(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = regexArtifacts.ReplaceAllString(text, "")
	text = regexSpaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// IsRepetitive reports whether text looks like a decoder loop on corrupted
// audio: one word making up more than 70% of six or more words, or a
// three-word run immediately repeated in more than ten words.
func IsRepetitive(text string) bool {
	words := strings.Fields(text)
	if len(words) < 6 {
		return false
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	for _, n := range counts {
		if float64(n) > float64(len(words))*0.7 {
			return true
		}
	}

	if len(words) > 10 {
		const pattern = 3
		for i := 0; i < len(words)-pattern*3; i++ {
			if equalWords(words[i:i+pattern], words[i+pattern:i+pattern*2]) {
				return true
			}
		}
	}
	return false
}

func equalWords(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
