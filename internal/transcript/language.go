package transcript

import (
	"unicode"

	"golang.org/x/text/language"
)

// scriptTables maps ISO 15924 codes to the unicode tables whose letters
// count as written in that script.
var scriptTables = map[string][]*unicode.RangeTable{
	"Latn": {unicode.Latin},
	"Cyrl": {unicode.Cyrillic},
	"Grek": {unicode.Greek},
	"Arab": {unicode.Arabic},
	"Hebr": {unicode.Hebrew},
	"Deva": {unicode.Devanagari},
	"Thai": {unicode.Thai},
	"Hans": {unicode.Han},
	"Hant": {unicode.Han},
	"Jpan": {unicode.Han, unicode.Hiragana, unicode.Katakana},
	"Kore": {unicode.Hangul, unicode.Han},
}

// ValidateScript reports ErrLanguageMismatch when text has letters but none
// of them belong to the script of lang. Unknown languages and scripts pass.
func ValidateScript(text, lang string) error {
	if lang == "" {
		return nil
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return nil
	}
	script, _ := tag.Script()
	tables, ok := scriptTables[script.String()]
	if !ok {
		return nil
	}
	var expected, other int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		if unicode.In(r, tables...) {
			expected++
		} else {
			other++
		}
	}
	if expected == 0 && other > 0 {
		return ErrLanguageMismatch
	}
	return nil
}
