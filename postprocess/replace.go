package postprocess

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultReplacements maps spoken phrases to shell tokens.
var DefaultReplacements = map[string]string{
	"pseudo":           "sudo",
	"LS":               "ls",
	"change directory": "cd",
	"make directory":   "mkdir",
	"remove":           "rm",
	"copy":             "cp",
	"move":             "mv",
	"pipe":             "|",
	"greater than":     ">",
	"append":           ">>",
	"ampersand":        "&",
	"dollar sign":      "$",
	"dot":              ".",
	"dot dot":          "..",
	"slash":            "/",
	"home":             "~",
	"space dash":       " -",
	"dash dash":        "--",
}

// Replacer rewrites whole-word phrases in a single pass, preferring the
// longest phrase at each position. Matching ignores case.
type Replacer struct {
	re    *regexp.Regexp
	table map[string]string // Lower-cased phrase → replacement
}

// NewReplacer compiles table into a Replacer.
func NewReplacer(table map[string]string) *Replacer {
	phrases := make([]string, 0, len(table))
	lower := make(map[string]string, len(table))
	for phrase, repl := range table {
		key := strings.ToLower(strings.TrimSpace(phrase))
		if key == "" {
			continue
		}
		if _, dup := lower[key]; !dup {
			phrases = append(phrases, key)
		}
		lower[key] = repl
	}
	sort.Slice(phrases, func(i, j int) bool {
		if len(phrases[i]) != len(phrases[j]) {
			return len(phrases[i]) > len(phrases[j])
		}
		return phrases[i] < phrases[j]
	})

	if len(phrases) == 0 {
		return &Replacer{table: lower}
	}

	alts := make([]string, len(phrases))
	for i, phrase := range phrases {
		alts[i] = boundary(phrase)
	}
	return &Replacer{
		re:    regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`),
		table: lower,
	}
}

// Replace applies the table to text.
func (r *Replacer) Replace(text string) string {
	if r.re == nil {
		return text
	}
	return r.re.ReplaceAllStringFunc(text, func(match string) string {
		if repl, ok := r.table[strings.ToLower(match)]; ok {
			return repl
		}
		return match
	})
}

// boundary quotes phrase and anchors it on word boundaries where the phrase
// starts or ends with a word character.
func boundary(phrase string) string {
	quoted := regexp.QuoteMeta(phrase)
	first, _ := utf8.DecodeRuneInString(phrase)
	last, _ := utf8.DecodeLastRuneInString(phrase)
	if isWord(first) {
		quoted = `\b` + quoted
	}
	if isWord(last) {
		quoted += `\b`
	}
	return quoted
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
