package llms

// StreamingPromptOptions configures a single streamed generation. Requests
// carry no conversation history, only the instructions and the prompt.
type StreamingPromptOptions struct {
	Instructions    string
	Temperature     *float64
	MaxOutputTokens *int
}

type StreamingPromptOption func(*StreamingPromptOptions)

func NewStreamingPromptOptions(instructions string, opts ...StreamingPromptOption) StreamingPromptOptions {
	options := StreamingPromptOptions{Instructions: instructions}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}

// WithSystemPrompt sets the instructions sent ahead of the prompt.
// Repeating this option will overwrite the previous system prompt.
func WithSystemPrompt(prompt string) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Instructions = prompt
	}
}

func WithTemperature(temperature float64) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.Temperature = &temperature
	}
}

func WithMaxOutputTokens(maxTokens int) StreamingPromptOption {
	return func(o *StreamingPromptOptions) {
		o.MaxOutputTokens = &maxTokens
	}
}
