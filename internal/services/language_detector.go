package services

import "strings"

// Supported chat languages
const (
	LanguageEnglish = "en"
	LanguageTurkish = "tr"
)

// LanguageDetector classifies a short text as one of the supported languages.
// Implementations must be pure and deterministic. The pipeline treats the
// detector as a swappable strategy so the lexical heuristic can be replaced
// with a real classifier without touching control flow.
type LanguageDetector func(text string) string

// Turkish-specific letters are a strong signal on their own.
var turkishRunes = []rune{'ç', 'ğ', 'ı', 'ö', 'ş', 'ü', 'Ç', 'Ğ', 'İ', 'Ö', 'Ş', 'Ü'}

var turkishWords = []string{
	"ve", "bir", "bu", "şu", "için", "ile", "nasıl", "neden", "nedir",
	"merhaba", "teşekkür", "lütfen", "var", "yok", "ben", "sen", "evet",
	"hayır", "hakkında", "yazı", "makale",
}

var englishWords = []string{
	"the", "and", "is", "are", "was", "what", "how", "why", "hello", "hi",
	"please", "thanks", "about", "can", "you", "your", "tell", "me", "of",
	"do", "does",
}

// DetectLanguage scores the text against the Turkish and English signal sets
// and returns the language with the most distinct matches. Ties, unknown and
// empty input all resolve to English. Never fails.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return LanguageEnglish
	}

	lower := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,!?;:\"'()")] = true
	}

	turkish := 0
	for _, r := range turkishRunes {
		if strings.ContainsRune(text, r) {
			turkish++
		}
	}
	for _, w := range turkishWords {
		if words[w] {
			turkish++
		}
	}

	english := 0
	for _, w := range englishWords {
		if words[w] {
			english++
		}
	}

	if turkish > english {
		return LanguageTurkish
	}
	return LanguageEnglish
}
