package translate

import (
	"context"
	"strings"
)

type Translation struct {
	Text           string
	DetectedSource string
	// AlreadyTarget is set when the source was already in the target
	// language and Text is the input unchanged.
	AlreadyTarget bool
}

type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (Translation, error)
}

var deeplTargets = map[string]string{
	"en": "EN-US",
	"es": "ES",
	"fr": "FR",
	"de": "DE",
	"pt": "PT-BR",
	"ja": "JA",
	"zh": "ZH-HANS",
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Brazilian Portuguese",
	"ja": "Japanese",
	"zh": "Simplified Chinese",
}

// DeepLTarget maps a two-letter code to DeepL's target_lang value.
func DeepLTarget(lang string) string {
	lang = strings.ToLower(lang)
	if t, ok := deeplTargets[lang]; ok {
		return t
	}
	return strings.ToUpper(lang)
}

func LanguageName(lang string) string {
	if name, ok := languageNames[strings.ToLower(lang)]; ok {
		return name
	}
	return lang
}

// BaseLanguage normalises "en-US" style tags to "en".
func BaseLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}

func prompt(targetLang string) string {
	return "You are a live meeting interpreter. Translate the user's message into " +
		LanguageName(targetLang) +
		". Reply with the translation only, no quotes or commentary. " +
		"If the message is already in that language, repeat it unchanged."
}
