package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultRealtimeURL = "wss://api.openai.com/v1/realtime"
	defaultAPIVersion  = "2025-04-01-preview"
	defaultModel       = "gpt-4o-transcribe"
)

// TranscriptionClient opens realtime transcription sessions either against
// an Azure OpenAI resource or against the public OpenAI API.
type TranscriptionClient struct {
	apiKey string

	azureEndpoint string
	apiVersion    string
	baseURL       string

	dialer websocket.Dialer
}

type ClientOption func(*TranscriptionClient)

// WithAzureEndpoint targets an Azure OpenAI resource, e.g.
// https://my-resource.openai.azure.com. The key is sent as an api-key header.
func WithAzureEndpoint(endpoint, apiVersion string) ClientOption {
	return func(c *TranscriptionClient) {
		c.azureEndpoint = endpoint
		if apiVersion != "" {
			c.apiVersion = apiVersion
		}
	}
}

// WithBaseURL overrides the websocket URL used for the public API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *TranscriptionClient) {
		c.baseURL = baseURL
	}
}

func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(c *TranscriptionClient) {
		c.dialer.HandshakeTimeout = timeout
	}
}

func NewTranscriptionClient(apiKey string, opts ...ClientOption) *TranscriptionClient {
	c := &TranscriptionClient{
		apiKey:     apiKey,
		apiVersion: defaultAPIVersion,
		baseURL:    defaultRealtimeURL,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Transcribe connects, pushes the session configuration and starts decoding
// events. The returned session stays open until Close or a transport error.
func (c *TranscriptionClient) Transcribe(ctx context.Context, opts ...speechtotext.TranscriptionOption) (speechtotext.Session, error) {
	ctx, span := tracer.Start(ctx, "open transcription session")
	defer span.End()

	options := speechtotext.NewTranscriptionOptions(opts...)
	if options.EncodingInfo.Format != audio.EncodingLinear16 {
		err := fmt.Errorf("unsupported encoding %q, only pcm16 is accepted", options.EncodingInfo.Format.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if options.Model == "" {
		options.Model = defaultModel
	}

	endpoint, header, err := c.connectionTarget()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("transcription.model", options.Model),
		attribute.Bool("transcription.azure", c.azureEndpoint != ""),
	)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("failed to connect to realtime transcription (status %d): %w", resp.StatusCode, err)
		} else {
			err = fmt.Errorf("failed to connect to realtime transcription: %w", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	session := newTranscriptionSession(conn)
	if err := session.sendEvent(newSessionUpdate(options)); err != nil {
		_ = session.Close()
		err = fmt.Errorf("failed to configure transcription session: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	go session.readLoop()
	return session, nil
}

func (c *TranscriptionClient) connectionTarget() (string, http.Header, error) {
	header := http.Header{}
	if c.azureEndpoint != "" {
		base := strings.TrimRight(c.azureEndpoint, "/")
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}

		endpoint, err := url.Parse(base + "/openai/realtime")
		if err != nil {
			return "", nil, fmt.Errorf("invalid azure endpoint: %w", err)
		}
		query := endpoint.Query()
		query.Set("api-version", c.apiVersion)
		query.Set("intent", "transcription")
		endpoint.RawQuery = query.Encode()

		header.Set("api-key", c.apiKey)
		return endpoint.String(), header, nil
	}

	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	query := endpoint.Query()
	query.Set("intent", "transcription")
	endpoint.RawQuery = query.Encode()

	header.Set("Authorization", "Bearer "+c.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	return endpoint.String(), header, nil
}
