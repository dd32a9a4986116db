package orchestration

import (
	"iter"
	"strings"
	"unicode/utf8"
)

// utteranceBoundaries are the characters that complete an utterance when
// they end the accumulated text.
const utteranceBoundaries = ".!?\n"

// utteranceSegmenter groups generated tokens into speakable utterances.
//
// A boundary only counts when it is the last character of the accumulated
// text, so a token like "3.5 " does not split "3" from "5". Each turn uses its
// own segmenter.
type utteranceSegmenter struct {
	accumulated strings.Builder
}

// Add appends token and returns the completed utterance, if any.
func (s *utteranceSegmenter) Add(token string) (string, bool) {
	s.accumulated.WriteString(token)

	text := s.accumulated.String()
	last, size := utf8.DecodeLastRuneInString(text)
	if size == 0 || !strings.ContainsRune(utteranceBoundaries, last) {
		return "", false
	}

	s.accumulated.Reset()
	return speakable(text)
}

// Flush returns whatever was accumulated after the last boundary.
func (s *utteranceSegmenter) Flush() (string, bool) {
	text := s.accumulated.String()
	s.accumulated.Reset()
	return speakable(text)
}

// speakable trims text and reports whether anything is left to say.
func speakable(text string) (string, bool) {
	text = strings.TrimSpace(text)
	return text, text != ""
}

// segmentTokens is a pull-style view over a segmenter for a finite token
// sequence.
func segmentTokens(tokens iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		var segmenter utteranceSegmenter
		for token := range tokens {
			if utterance, ok := segmenter.Add(token); ok {
				if !yield(utterance) {
					return
				}
			}
		}
		if utterance, ok := segmenter.Flush(); ok {
			yield(utterance)
		}
	}
}
