package extract

import (
	"strings"

	"github.com/abadojack/whatlanggo"

	"github.com/spherical-ai/docscan/internal/storage"
)

// NoTextMessage is recorded when extraction succeeds but yields only whitespace.
const NoTextMessage = "no text found"

// minLanguageConfidence gates language detection on short or mixed text.
const minLanguageConfidence = 0.5

// Outcome is the terminal state an extraction attempt maps to.
type Outcome struct {
	Status   storage.OCRStatus
	Text     string
	Language *string
	Error    string
}

// Evaluate applies the outcome policy. Non-empty trimmed text completes the
// document; empty text or an error fails it with a readable cause.
func Evaluate(res *Result, err error) Outcome {
	if err != nil {
		msg := strings.TrimSpace(err.Error())
		if msg == "" {
			msg = "extraction failed"
		}
		return Outcome{Status: storage.OCRStatusFailed, Error: msg}
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return Outcome{Status: storage.OCRStatusFailed, Error: NoTextMessage}
	}
	return Outcome{
		Status:   storage.OCRStatusCompleted,
		Text:     res.Text,
		Language: DetectLanguage(res.Text),
	}
}

// DetectLanguage returns the ISO 639-1 code of text, or nil when unsure.
func DetectLanguage(text string) *string {
	info := whatlanggo.Detect(text)
	if info.Confidence < minLanguageConfidence {
		return nil
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return nil
	}
	return &code
}
