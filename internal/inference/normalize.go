package inference

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// FallbackNoResponse подставляется, когда форма ответа не распознана.
	FallbackNoResponse = "Sorry, I could not produce a suitable response."
	// FallbackCouldNotGenerate подставляется для пустого ответа.
	FallbackCouldNotGenerate = "Sorry, I could not generate a response. Please try again."
	// FallbackClarify подставляется, когда после очистки почти ничего не осталось.
	FallbackClarify = "Sorry, I could not produce a suitable response. Please phrase your question more clearly."

	minResponseRunes = 3
	maxResponseRunes = 1000
	ellipsis         = "..."
)

var (
	rolePrefixRe     = regexp.MustCompile(`(?i)^(AI:|Bot:|Assistant:|Human:|User:)`)
	leadingNonWordRe = regexp.MustCompile(`^[^\p{L}\p{N}_]+`)
)

// textFields поля, в которых разные семейства моделей возвращают текст, в порядке приоритета.
var textFields = []string{"generated_text", "text", "summary_text", "translation_text"}

// ExtractText достаёт текст из ответа API. Форма ответа зависит от семейства задачи:
// массив объектов или одиночный объект. Нераспознанная форма даёт FallbackNoResponse.
func ExtractText(payload []byte) (string, error) {
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", err
	}

	switch v := decoded.(type) {
	case []any:
		if len(v) == 0 {
			return FallbackNoResponse, nil
		}
		if obj, ok := v[0].(map[string]any); ok {
			if text, ok := firstTextField(obj); ok {
				return text, nil
			}
		}
	case map[string]any:
		if text, ok := firstTextField(v); ok {
			return text, nil
		}
	}
	return FallbackNoResponse, nil
}

func firstTextField(obj map[string]any) (string, bool) {
	for _, field := range textFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		// Нестроковое значение считаем пустым ответом, CleanResponse вернёт заглушку.
		text, _ := raw.(string)
		if text != "" {
			return text, true
		}
	}
	return "", false
}

// CleanResponse приводит сырой текст модели к виду для показа пользователю.
// Заглушки возвращаются без изменений; очистка повторяется до неподвижной точки,
// поэтому повторный вызов на результате ничего не меняет.
func CleanResponse(raw string, prompt string) string {
	if raw == "" {
		return FallbackCouldNotGenerate
	}
	if isFallback(raw) {
		return raw
	}

	cleaned := raw
	for {
		next := stripOnce(cleaned, prompt)
		if next == cleaned {
			break
		}
		cleaned = next
	}

	length := utf8.RuneCountInString(cleaned)
	if length < minResponseRunes {
		return FallbackClarify
	}
	if length > maxResponseRunes {
		runes := []rune(cleaned)
		cleaned = string(runes[:maxResponseRunes]) + ellipsis
	}
	return cleaned
}

func stripOnce(text, prompt string) string {
	if prompt != "" {
		for strings.Contains(text, prompt) {
			text = strings.ReplaceAll(text, prompt, "")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSpace(rolePrefixRe.ReplaceAllString(text, ""))
	return strings.TrimSpace(leadingNonWordRe.ReplaceAllString(text, ""))
}

func isFallback(text string) bool {
	switch text {
	case FallbackNoResponse, FallbackCouldNotGenerate, FallbackClarify:
		return true
	}
	return false
}
