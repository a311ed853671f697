package tavus

import "strings"

// DefaultLanguage is used when a stored preference has no provider mapping.
const DefaultLanguage = "english"

// languages maps stored preference codes and names to the provider's
// language vocabulary.
var languages = map[string]string{
	"en": "english", "english": "english",
	"es": "spanish", "spanish": "spanish", "español": "spanish",
	"fr": "french", "french": "french", "français": "french",
	"de": "german", "german": "german", "deutsch": "german",
	"it": "italian", "italian": "italian",
	"pt": "portuguese", "portuguese": "portuguese",
	"nl": "dutch", "dutch": "dutch",
	"pl": "polish", "polish": "polish",
	"ru": "russian", "russian": "russian",
	"ja": "japanese", "japanese": "japanese",
	"ko": "korean", "korean": "korean",
	"zh": "chinese", "chinese": "chinese",
	"hi": "hindi", "hindi": "hindi",
	"ar": "arabic", "arabic": "arabic",
	"tr": "turkish", "turkish": "turkish",
	"sv": "swedish", "swedish": "swedish",
}

// Language maps a stored language preference ("en", "en-US", "Spanish") to
// the provider vocabulary, defaulting to DefaultLanguage.
func Language(pref string) string {
	p := strings.ToLower(strings.TrimSpace(pref))
	if p == "" {
		return DefaultLanguage
	}
	if lang, ok := languages[p]; ok {
		return lang
	}
	// Region-tagged codes: "pt-BR", "en_GB".
	if i := strings.IndexAny(p, "-_"); i > 0 {
		if lang, ok := languages[p[:i]]; ok {
			return lang
		}
	}
	return DefaultLanguage
}
