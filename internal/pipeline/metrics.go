package pipeline

import (
	"math"
	"strings"
	"unicode"

	"github.com/loqalabs/loqa-dictate/internal/domain"
)

// MaxWordsPerMinute caps speech rate for sub-second recordings.
const MaxWordsPerMinute = 1000

// CountWords counts whitespace-separated words. CJK ideographs, kana and hangul count one per
// character, including when embedded in other words.
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			count++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// ComputeMetrics derives speech rate from the final text and the recording duration.
func ComputeMetrics(text string, elapsedSeconds float64) domain.SpeechMetrics {
	words := CountWords(text)
	if elapsedSeconds <= 0 || math.IsNaN(elapsedSeconds) || math.IsInf(elapsedSeconds, 0) {
		return domain.SpeechMetrics{WordCount: words}
	}
	wpm := float64(words) * 60 / elapsedSeconds
	if wpm > MaxWordsPerMinute {
		wpm = MaxWordsPerMinute
	}
	return domain.SpeechMetrics{WordCount: words, WordsPerMinute: wpm, DurationSeconds: elapsedSeconds}
}

// NormalizeLanguage reduces a language tag to its lowercase primary subtag. "auto" and "" mean unknown.
func NormalizeLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	if tag == "auto" {
		return ""
	}
	return tag
}

func translationRequired(source, target string) bool {
	return source != "" && target != "" && source != target
}

// BuildProvenance records what the pipeline did to the transcript.
func BuildProvenance(rawText, finalText, source, target string, appCtx *domain.ApplicationContext, contextRule string) domain.ProvenanceMetadata {
	src, tgt := NormalizeLanguage(source), NormalizeLanguage(target)
	p := domain.ProvenanceMetadata{
		WasTranslated:  translationRequired(src, tgt),
		SourceLanguage: src,
		TargetLanguage: tgt,
		Confidence:     confidenceNoContext,
		WordCountRatio: WordCountRatio(rawText, finalText),
		ContextApplied: strings.TrimSpace(contextRule) != "",
	}
	if appCtx != nil {
		p.Confidence = appCtx.Confidence
		p.ContextID = appCtx.ApplicationID
	}
	return p
}

// confidenceNoContext matches the detector's confidence for an unreadable application.
const confidenceNoContext = 0.1

// WordCountRatio is final/original words, 1.0 when the original is empty.
func WordCountRatio(original, final string) float64 {
	originalWords := CountWords(original)
	if originalWords == 0 {
		return 1.0
	}
	return float64(CountWords(final)) / float64(originalWords)
}
