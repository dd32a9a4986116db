package commands

import (
	"fmt"

	orchestration "github.com/koscakluka/ema-duplex/core"
	"github.com/koscakluka/ema-duplex/core/audio"
	"github.com/koscakluka/ema-duplex/core/audio/miniaudio"
	"github.com/koscakluka/ema-duplex/core/audio/portaudio"
	"github.com/koscakluka/ema-duplex/core/llms"
	"github.com/koscakluka/ema-duplex/core/llms/groq"
	llmopenai "github.com/koscakluka/ema-duplex/core/llms/openai"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	sttdeepgram "github.com/koscakluka/ema-duplex/core/speechtotext/deepgram"
	sttopenai "github.com/koscakluka/ema-duplex/core/speechtotext/openai"
	"github.com/koscakluka/ema-duplex/core/texttospeech"
	ttsdeepgram "github.com/koscakluka/ema-duplex/core/texttospeech/deepgram"
	ttsopenai "github.com/koscakluka/ema-duplex/core/texttospeech/openai"
	"github.com/koscakluka/ema-duplex/internal/config"
)

// audioDevice is a microphone and a speaker owned by one client.
type audioDevice interface {
	orchestration.AudioInput
	orchestration.AudioOutput
	Close() error
}

func newAudioDevice(cfg config.AudioConfig) (audioDevice, error) {
	switch cfg.Backend {
	case config.BackendMiniaudio:
		if cfg.SampleRate != audio.DefaultSampleRate {
			return nil, fmt.Errorf("the %s backend only runs at %d Hz", cfg.Backend, audio.DefaultSampleRate)
		}
		client, err := miniaudio.NewClient(cfg.FrameSize)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.BackendPortAudio:
		client, err := portaudio.NewClient(cfg.FrameSize, portaudio.WithSampleRate(cfg.SampleRate))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", cfg.Backend)
	}
}

func newSpeechToText(cfg config.Config) (orchestration.SpeechToText, error) {
	switch cfg.STT.Provider {
	case config.ProviderAzure:
		azure := cfg.STT.Azure
		return sttopenai.NewTranscriptionClient(azure.APIKey, sttopenai.WithAzureEndpoint(azure.Endpoint, azure.APIVersion)), nil
	case config.ProviderOpenAI:
		return sttopenai.NewTranscriptionClient(cfg.Credentials.OpenAIAPIKey), nil
	case config.ProviderDeepgram:
		return sttdeepgram.NewTranscriptionClient(cfg.Credentials.DeepgramAPIKey), nil
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", cfg.STT.Provider)
	}
}

func transcriptionOptions(cfg config.Config) []speechtotext.TranscriptionOption {
	model := cfg.STT.Model
	if model == "" && cfg.STT.Provider == config.ProviderAzure {
		model = cfg.STT.Azure.Deployment
	}
	return []speechtotext.TranscriptionOption{
		speechtotext.WithModel(model),
		speechtotext.WithPrompt(cfg.STT.Prompt),
		speechtotext.WithLanguage(cfg.STT.Language),
		speechtotext.WithNoiseReduction(cfg.STT.NoiseReductionMode()),
		speechtotext.WithTurnDetection(cfg.STT.TurnDetectionMode()),
	}
}

func newLLM(cfg config.Config) (orchestration.LLMWithStream, error) {
	switch cfg.LLM.Provider {
	case config.ProviderAzure:
		azure := cfg.LLM.Azure
		return llmopenai.NewClient(azure.APIKey,
			llmopenai.WithAzureEndpoint(azure.Endpoint, azure.APIVersion),
			llmopenai.WithModel(azure.Deployment),
		), nil
	case config.ProviderOpenAI:
		var opts []llmopenai.ClientOption
		if cfg.LLM.Model != "" {
			opts = append(opts, llmopenai.WithModel(cfg.LLM.Model))
		}
		return llmopenai.NewClient(cfg.Credentials.OpenAIAPIKey, opts...), nil
	case config.ProviderGroq:
		var opts []groq.ClientOption
		if cfg.LLM.Model != "" {
			opts = append(opts, groq.WithModel(cfg.LLM.Model))
		}
		return groq.NewClient(cfg.Credentials.GroqAPIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func generationOptions(cfg config.Config) []llms.StreamingPromptOption {
	return []llms.StreamingPromptOption{
		llms.WithSystemPrompt(cfg.LLM.SystemPrompt),
		llms.WithTemperature(cfg.LLM.Temperature),
		llms.WithMaxOutputTokens(cfg.LLM.MaxOutputTokens),
	}
}

func newTextToSpeech(cfg config.Config) (orchestration.TextToSpeech, error) {
	switch cfg.TTS.Provider {
	case config.ProviderAzure:
		azure := cfg.TTS.Azure
		return ttsopenai.NewTextToSpeechClient(azure.APIKey,
			ttsopenai.WithAzureEndpoint(azure.Endpoint, azure.APIVersion),
			ttsopenai.WithModel(azure.Deployment),
		), nil
	case config.ProviderOpenAI:
		var opts []ttsopenai.ClientOption
		if cfg.TTS.Model != "" {
			opts = append(opts, ttsopenai.WithModel(cfg.TTS.Model))
		}
		return ttsopenai.NewTextToSpeechClient(cfg.Credentials.OpenAIAPIKey, opts...), nil
	case config.ProviderDeepgram:
		client, err := ttsdeepgram.NewTextToSpeechClient(cfg.Credentials.DeepgramAPIKey, cfg.TTS.Voice)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTS.Provider)
	}
}

func synthesisOptions(cfg config.Config) []texttospeech.TextToSpeechOption {
	opts := []texttospeech.TextToSpeechOption{texttospeech.WithInstructions(cfg.TTS.Instructions)}
	if cfg.TTS.Voice != "" {
		opts = append(opts, texttospeech.WithVoice(cfg.TTS.Voice))
	}
	return opts
}
