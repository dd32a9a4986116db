package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "ballad"

	// pcmSampleRate is the only rate the pcm response format is produced at.
	pcmSampleRate = 24000
	readChunkSize = 2048
)

// TextToSpeechClient streams raw pcm speech from OpenAI or an Azure OpenAI
// deployment. Each call to Synthesize is one request for one utterance.
type TextToSpeechClient struct {
	client       openai.Client
	model        string
	voice        string
	instructions string
}

type clientConfig struct {
	model        string
	voice        string
	instructions string
	azure        bool
	requestOpts  []option.RequestOption
}

type ClientOption func(*clientConfig)

func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		c.model = model
	}
}

func WithVoice(voice string) ClientOption {
	return func(c *clientConfig) {
		c.voice = voice
	}
}

func WithInstructions(instructions string) ClientOption {
	return func(c *clientConfig) {
		c.instructions = instructions
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.requestOpts = append(c.requestOpts, option.WithBaseURL(baseURL))
	}
}

// WithAzureEndpoint routes requests to an Azure OpenAI resource; the model is
// then the deployment name.
func WithAzureEndpoint(endpoint, apiVersion string) ClientOption {
	return func(c *clientConfig) {
		c.azure = true
		c.requestOpts = append(c.requestOpts, azure.WithEndpoint(endpoint, apiVersion))
	}
}

func NewTextToSpeechClient(apiKey string, opts ...ClientOption) *TextToSpeechClient {
	cfg := clientConfig{model: defaultModel, voice: defaultVoice}
	for _, opt := range opts {
		opt(&cfg)
	}

	requestOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	requestOpts = append(requestOpts, cfg.requestOpts...)
	if cfg.azure {
		requestOpts = append(requestOpts, azure.WithAPIKey(apiKey))
	} else {
		requestOpts = append(requestOpts, option.WithAPIKey(apiKey))
	}

	return &TextToSpeechClient{
		client:       openai.NewClient(requestOpts...),
		model:        cfg.model,
		voice:        cfg.voice,
		instructions: cfg.instructions,
	}
}

func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, opts ...texttospeech.TextToSpeechOption) iter.Seq2[[]byte, error] {
	options := texttospeech.NewTextToSpeechOptions(texttospeech.TextToSpeechOptions{
		Voice:        c.voice,
		Instructions: c.instructions,
	}, opts...)

	return func(yield func([]byte, error) bool) {
		ctx, span := tracer.Start(ctx, "synthesize speech")
		defer span.End()
		span.SetAttributes(
			attribute.String("synthesis.model", c.model),
			attribute.String("synthesis.voice", options.Voice),
			attribute.Int("synthesis.text_length", len(text)),
		)

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield(nil, err)
		}

		if options.EncodingInfo.Format != audio.EncodingLinear16 || options.EncodingInfo.SampleRate != pcmSampleRate {
			fail(fmt.Errorf("unsupported output encoding %s@%d, only linear16@%d is produced",
				options.EncodingInfo.Format.Name(), options.EncodingInfo.SampleRate, pcmSampleRate))
			return
		}

		params := openai.AudioSpeechNewParams{
			Input:          text,
			Model:          openai.SpeechModel(c.model),
			Voice:          openai.AudioSpeechNewParamsVoice(options.Voice),
			ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
		}
		if options.Instructions != "" {
			params.Instructions = openai.String(options.Instructions)
		}

		resp, err := c.client.Audio.Speech.New(ctx, params)
		if err != nil {
			fail(fmt.Errorf("speech request failed: %w", err))
			return
		}
		defer resp.Body.Close()
		span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))

		buffer := make([]byte, readChunkSize)
		for {
			n, err := resp.Body.Read(buffer)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buffer[:n])
				if !yield(chunk, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				fail(fmt.Errorf("error reading speech stream: %w", err))
				return
			}
		}
	}
}
