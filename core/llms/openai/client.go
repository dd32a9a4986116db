package openai

import (
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultModel = "gpt-4o-mini"

// Client streams chat completions from OpenAI or, when configured with an
// Azure endpoint, from an Azure OpenAI deployment. For Azure the model is the
// deployment name.
type Client struct {
	client       openai.Client
	model        string
	systemPrompt string
}

type clientConfig struct {
	model        string
	systemPrompt string
	azure        bool
	requestOpts  []option.RequestOption
}

type ClientOption func(*clientConfig)

func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		c.model = model
	}
}

// WithSystemPrompt sets the default instructions used when a request does not
// carry its own.
func WithSystemPrompt(prompt string) ClientOption {
	return func(c *clientConfig) {
		c.systemPrompt = prompt
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.requestOpts = append(c.requestOpts, option.WithBaseURL(baseURL))
	}
}

// WithAzureEndpoint routes requests to an Azure OpenAI resource. The API key
// passed to NewClient is sent as an api-key header.
func WithAzureEndpoint(endpoint, apiVersion string) ClientOption {
	return func(c *clientConfig) {
		c.azure = true
		c.requestOpts = append(c.requestOpts, azure.WithEndpoint(endpoint, apiVersion))
	}
}

func NewClient(apiKey string, opts ...ClientOption) *Client {
	cfg := clientConfig{model: defaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	requestOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)}),
	}
	requestOpts = append(requestOpts, cfg.requestOpts...)
	if cfg.azure {
		requestOpts = append(requestOpts, azure.WithAPIKey(apiKey))
	} else {
		requestOpts = append(requestOpts, option.WithAPIKey(apiKey))
	}

	return &Client{
		client:       openai.NewClient(requestOpts...),
		model:        cfg.model,
		systemPrompt: cfg.systemPrompt,
	}
}
