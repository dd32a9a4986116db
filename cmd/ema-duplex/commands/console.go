package commands

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	orchestration "github.com/koscakluka/ema-duplex/core"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

const (
	consoleWidth = 80
	clearLine    = "\r\x1b[K"
)

type consoleStyles struct {
	partial   lipgloss.Style
	user      lipgloss.Style
	label     lipgloss.Style
	assistant lipgloss.Style
	separator lipgloss.Style
	hint      lipgloss.Style
}

// console prints the conversation as it happens: the live transcript, the
// final question and the assistant's sentences as they are spoken.
type console struct {
	mu      sync.Mutex
	out     io.Writer
	width   int
	styles  consoleStyles
	partial strings.Builder
}

func newConsole(out io.Writer) *console {
	renderer := lipgloss.NewRenderer(out)
	return &console{
		out:   out,
		width: consoleWidth,
		styles: consoleStyles{
			partial:   renderer.NewStyle().Foreground(lipgloss.Color("#6e7681")),
			user:      renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
			label:     renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#58a6ff")),
			assistant: renderer.NewStyle(),
			separator: renderer.NewStyle().Foreground(lipgloss.Color("#6e7681")),
			hint:      renderer.NewStyle().Italic(true),
		},
	}
}

func (c *console) options() []orchestration.OrchestrateOption {
	return []orchestration.OrchestrateOption{
		orchestration.WithPartialTranscriptionCallback(c.Partial),
		orchestration.WithTranscriptionCallback(c.Final),
		orchestration.WithUtteranceCallback(c.Utterance),
		orchestration.WithSpeakingStateChangedCallback(c.SpeakingChanged),
	}
}

func (c *console) Ready() {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.styles.hint.Render("Connected. Say something!"))
}

// Partial redraws the transcript line with the text heard so far.
func (c *console) Partial(delta string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partial.WriteString(delta)
	line := truncate.StringWithTail(strings.TrimSpace(c.partial.String()), uint(c.width-1), "…")
	fmt.Fprint(c.out, clearLine+c.styles.partial.Render(line))
}

func (c *console) Final(transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.partial.Reset()
	wrapped := wordwrap.String(transcript, c.width-3)
	fmt.Fprint(c.out, clearLine)
	fmt.Fprintln(c.out, c.styles.user.Render(">> ")+c.styles.user.Render(indentContinuation(wrapped, 3)))
}

func (c *console) Utterance(utterance string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wrapped := indent.String(wordwrap.String(utterance, c.width-2), 2)
	fmt.Fprintln(c.out, c.styles.assistant.Render(wrapped))
}

func (c *console) SpeakingChanged(isSpeaking bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if isSpeaking {
		fmt.Fprintln(c.out)
		fmt.Fprintln(c.out, c.styles.label.Render("Assistant:"))
		return
	}
	fmt.Fprintln(c.out, c.styles.separator.Render(strings.Repeat("_", c.width)))
	fmt.Fprintln(c.out, c.styles.hint.Render("Say something else!"))
}

// indentContinuation indents every line but the first by n spaces.
func indentContinuation(text string, n int) string {
	first, rest, found := strings.Cut(text, "\n")
	if !found {
		return text
	}
	return first + "\n" + indent.String(rest, uint(n))
}
