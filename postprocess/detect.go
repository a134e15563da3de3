package postprocess

import (
	"sync"

	"github.com/pemistahl/lingua-go"
	_ "github.com/pemistahl/lingua-go/language-models/de"
	_ "github.com/pemistahl/lingua-go/language-models/en"
	_ "github.com/pemistahl/lingua-go/language-models/es"
	_ "github.com/pemistahl/lingua-go/language-models/fr"
	_ "github.com/pemistahl/lingua-go/language-models/it"
	_ "github.com/pemistahl/lingua-go/language-models/ja"
	_ "github.com/pemistahl/lingua-go/language-models/nl"
	_ "github.com/pemistahl/lingua-go/language-models/pt"
	_ "github.com/pemistahl/lingua-go/language-models/ru"
	_ "github.com/pemistahl/lingua-go/language-models/zh"
)

// detectLanguages are the candidates considered when deciding whether a
// transcript is English. Each needs its model package imported above. Keeping the set small keeps detection fast.
var detectLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Russian,
	lingua.Chinese,
	lingua.Japanese,
}

// Detector gates English-only rewrites.
type Detector struct {
	once     sync.Once
	detector lingua.LanguageDetector
}

// NewDetector creates a detector; language models load on first use.
func NewDetector() *Detector {
	return &Detector{}
}

// MaybeEnglish reports false only when text is confidently another language.
// Short shell-like fragments are usually undetectable and count as English.
func (d *Detector) MaybeEnglish(text string) bool {
	d.once.Do(func() {
		d.detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(detectLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})

	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return true
	}
	return lang == lingua.English
}
