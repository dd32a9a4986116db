package orchestration

import (
	"slices"
	"strings"
	"testing"
)

func TestSegmentTokensCompletesUtterancesOnBoundaries(t *testing.T) {
	tokens := []string{"Hel", "lo wor", "ld.", " How are you?"}

	got := slices.Collect(segmentTokens(slices.Values(tokens)))

	expected := []string{"Hello world.", "How are you?"}
	if !slices.Equal(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestSegmenterBoundaryClasses(t *testing.T) {
	testCases := []struct {
		name     string
		tokens   []string
		expected []string
	}{
		{name: "exclamation", tokens: []string{"Great!", " Next"}, expected: []string{"Great!", "Next"}},
		{name: "question", tokens: []string{"Why", "?"}, expected: []string{"Why?"}},
		{name: "newline", tokens: []string{"- one\n", "- two"}, expected: []string{"- one", "- two"}},
		{name: "boundary ending token", tokens: []string{"Pi is 3.", "14 ok"}, expected: []string{"Pi is 3.", "14 ok"}},
		{name: "boundary mid token", tokens: []string{"It costs 3.5 ", "euros"}, expected: []string{"It costs 3.5 euros"}},
		{name: "no boundary", tokens: []string{"no ", "punctuation"}, expected: []string{"no punctuation"}},
		{name: "multi byte", tokens: []string{"¿Qué tal?", " Bien."}, expected: []string{"¿Qué tal?", "Bien."}},
		{name: "empty stream", tokens: nil, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := slices.Collect(segmentTokens(slices.Values(tc.tokens)))
			if !slices.Equal(got, tc.expected) {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestSegmenterSkipsWhitespaceOnlyUtterances(t *testing.T) {
	var segmenter utteranceSegmenter

	if utterance, ok := segmenter.Add("  \n"); ok {
		t.Fatalf("expected whitespace-only text not to be an utterance, got %q", utterance)
	}
	if utterance, ok := segmenter.Add("Done."); !ok || utterance != "Done." {
		t.Fatalf("expected accumulator to be reset before the next utterance, got %q", utterance)
	}
	if utterance, ok := segmenter.Add("   "); ok {
		t.Fatalf("expected no utterance without boundary, got %q", utterance)
	}
	if utterance, ok := segmenter.Flush(); ok {
		t.Fatalf("expected whitespace-only remainder to be dropped, got %q", utterance)
	}
}

func TestSegmentTokensConservesText(t *testing.T) {
	streams := [][]string{
		{"Hel", "lo wor", "ld.", " How are you?"},
		{"a.b", ".", "c!", "d?\n", "e"},
		{" lead", "ing. ", " trail ", "ing "},
		{"...", "!!", "??"},
	}

	removeSpace := func(s string) string { return strings.Join(strings.Fields(s), "") }
	for _, tokens := range streams {
		utterances := slices.Collect(segmentTokens(slices.Values(tokens)))
		if got, expected := removeSpace(strings.Join(utterances, "")), removeSpace(strings.Join(tokens, "")); got != expected {
			t.Fatalf("expected concatenation %q, got %q", expected, got)
		}
		for _, utterance := range utterances {
			if utterance == "" || utterance != strings.TrimSpace(utterance) {
				t.Fatalf("expected trimmed non-empty utterances, got %q", utterance)
			}
		}
	}
}

func TestSegmentersDoNotShareState(t *testing.T) {
	var first, second utteranceSegmenter

	first.Add("First turn without ")
	if utterance, ok := second.Add("Second."); !ok || utterance != "Second." {
		t.Fatalf("expected second segmenter to see only its own text, got %q", utterance)
	}
	if utterance, ok := first.Add("an end."); !ok || utterance != "First turn without an end." {
		t.Fatalf("expected first segmenter to keep its text, got %q", utterance)
	}
}
