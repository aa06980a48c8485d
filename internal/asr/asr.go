// Package asr is the speech recognition boundary: a Recognizer contract, the
// source-language locale table, and an OpenAI-compatible backend.
package asr

import (
	"context"
	"strings"
)

// Multilingual is the locale code that asks the service to detect the language.
const Multilingual = "multi"

// Recognizer transcribes one utterance of mono little-endian 16-bit PCM.
// Implementations do not retry.
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, sampleRate int, languageCode string) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, pcm []byte, sampleRate int, languageCode string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, pcm []byte, sampleRate int, languageCode string) (string, error) {
	return f(ctx, pcm, sampleRate, languageCode)
}

var locales = map[string]string{
	"en": "en-US",
	"es": "es-US",
	"fr": "fr-FR",
	"de": "de-DE",
	"zh": "zh-CN",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"ru": "ru-RU",
	"pt": "pt-BR",
	"it": "it-IT",
	"ar": "ar-AR",
	"hi": "hi-IN",
	"nl": "nl-NL",
	"tr": "tr-TR",
	"vi": "vi-VN",
	"pl": "pl-PL",
	"id": "id-ID",
	"th": "th-TH",
	"bn": "bn-IN",
}

// Locale maps a two-letter source language to the service locale. "auto",
// empty and unknown languages map to Multilingual.
func Locale(lang string) string {
	if l, ok := locales[strings.ToLower(strings.TrimSpace(lang))]; ok {
		return l
	}
	return Multilingual
}
