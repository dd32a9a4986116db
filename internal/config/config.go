package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/koscakluka/ema-duplex/core/speechtotext"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	ProviderAzure    = "azure"
	ProviderOpenAI   = "openai"
	ProviderDeepgram = "deepgram"
	ProviderGroq     = "groq"

	BackendPortAudio = "portaudio"
	BackendMiniaudio = "miniaudio"

	// openAIPCMSampleRate is the only rate OpenAI speech is returned at.
	openAIPCMSampleRate = 24000
)

const (
	DefaultTranscriptionPrompt = "Your response **MUST** be in the same language than the user's question."
	DefaultSystemPrompt        = "You are a helpful assistant. Respond in the same language than the user's question."
	DefaultVoiceInstructions   = "Affect/personality: A cheerful guide\n\n" +
		"Tone: Friendly, clear, and reassuring.\n" +
		"Pause: Brief pauses after key instructions.\n" +
		"Emotion: Warm and supportive."
)

type Config struct {
	LogLevel    string         `mapstructure:"log_level"`
	Audio       AudioConfig    `mapstructure:"audio"`
	STT         STTConfig      `mapstructure:"stt"`
	LLM         LLMConfig      `mapstructure:"llm"`
	TTS         TTSConfig      `mapstructure:"tts"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Credentials Credentials    `mapstructure:"credentials"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend"`
	SampleRate int    `mapstructure:"sample_rate"`
	FrameSize  int    `mapstructure:"frame_size"`
}

// AzureConfig addresses one Azure OpenAI deployment. Transcription, chat and
// speech may live on different resources.
type AzureConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	APIVersion string `mapstructure:"api_version"`
	Deployment string `mapstructure:"deployment"`
}

type STTConfig struct {
	Provider       string          `mapstructure:"provider"`
	Model          string          `mapstructure:"model"`
	Prompt         string          `mapstructure:"prompt"`
	Language       string          `mapstructure:"language"`
	NoiseReduction string          `mapstructure:"noise_reduction"`
	TurnDetection  string          `mapstructure:"turn_detection"`
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
	Azure          AzureConfig     `mapstructure:"azure"`
}

type ReconnectConfig struct {
	Attempts       int           `mapstructure:"attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type LLMConfig struct {
	Provider        string      `mapstructure:"provider"`
	Model           string      `mapstructure:"model"`
	SystemPrompt    string      `mapstructure:"system_prompt"`
	Temperature     float64     `mapstructure:"temperature"`
	MaxOutputTokens int         `mapstructure:"max_output_tokens"`
	Azure           AzureConfig `mapstructure:"azure"`
}

type TTSConfig struct {
	Provider     string      `mapstructure:"provider"`
	Model        string      `mapstructure:"model"`
	Voice        string      `mapstructure:"voice"`
	Instructions string      `mapstructure:"instructions"`
	Azure        AzureConfig `mapstructure:"azure"`
}

type PipelineConfig struct {
	TranscriptQueueSize int `mapstructure:"transcript_queue_size"`
}

type Credentials struct {
	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	DeepgramAPIKey string `mapstructure:"deepgram_api_key"`
	GroqAPIKey     string `mapstructure:"groq_api_key"`
}

// envBindings maps config keys to the environment variables they are read
// from, in order of precedence. Per-service Azure variables fall back to the
// shared ones.
var envBindings = map[string][]string{
	"log_level": {"EMA_DUPLEX_LOG_LEVEL"},

	"stt.azure.endpoint":    {"AZURE_OPENAI_ENDPOINT_STT", "AZURE_OPENAI_ENDPOINT"},
	"stt.azure.api_key":     {"AZURE_OPENAI_API_KEY_STT", "AZURE_OPENAI_API_KEY"},
	"stt.azure.api_version": {"AZURE_OPENAI_API_VERSION_STT", "AZURE_OPENAI_API_VERSION"},
	"stt.azure.deployment":  {"AZURE_OPENAI_DEPLOYMENT_NAME_STT"},

	"llm.azure.endpoint":    {"AZURE_OPENAI_ENDPOINT"},
	"llm.azure.api_key":     {"AZURE_OPENAI_API_KEY"},
	"llm.azure.api_version": {"AZURE_OPENAI_API_VERSION"},
	"llm.azure.deployment":  {"AZURE_OPENAI_DEPLOYMENT_NAME"},

	"tts.azure.endpoint":    {"AZURE_OPENAI_ENDPOINT_TTS", "AZURE_OPENAI_ENDPOINT"},
	"tts.azure.api_key":     {"AZURE_OPENAI_API_KEY_TTS", "AZURE_OPENAI_API_KEY"},
	"tts.azure.api_version": {"AZURE_OPENAI_API_VERSION_TTS", "AZURE_OPENAI_API_VERSION"},
	"tts.azure.deployment":  {"AZURE_OPENAI_DEPLOYMENT_NAME_TTS"},

	"credentials.openai_api_key":   {"OPENAI_API_KEY"},
	"credentials.deepgram_api_key": {"DEEPGRAM_API_KEY"},
	"credentials.groq_api_key":     {"GROQ_API_KEY"},
}

// New returns a viper instance with every default and environment binding
// in place, ready for command line flags to be bound on top.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")

	v.SetDefault("audio.backend", BackendPortAudio)
	v.SetDefault("audio.sample_rate", 24000)
	v.SetDefault("audio.frame_size", 1024)

	v.SetDefault("stt.provider", ProviderAzure)
	v.SetDefault("stt.model", "")
	v.SetDefault("stt.prompt", DefaultTranscriptionPrompt)
	v.SetDefault("stt.language", "")
	v.SetDefault("stt.noise_reduction", string(speechtotext.NoiseReductionNearField))
	v.SetDefault("stt.turn_detection", string(speechtotext.TurnDetectionServerVAD))
	v.SetDefault("stt.reconnect.attempts", 0)
	v.SetDefault("stt.reconnect.initial_backoff", "500ms")
	v.SetDefault("stt.reconnect.max_backoff", "8s")
	v.SetDefault("stt.azure.endpoint", "")
	v.SetDefault("stt.azure.api_key", "")
	v.SetDefault("stt.azure.api_version", "2025-04-01-preview")
	v.SetDefault("stt.azure.deployment", "")

	v.SetDefault("llm.provider", ProviderAzure)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.system_prompt", DefaultSystemPrompt)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_output_tokens", 1000)
	v.SetDefault("llm.azure.endpoint", "")
	v.SetDefault("llm.azure.api_key", "")
	v.SetDefault("llm.azure.api_version", "2024-02-01-preview")
	v.SetDefault("llm.azure.deployment", "gpt-4o-mini")

	v.SetDefault("tts.provider", ProviderAzure)
	v.SetDefault("tts.model", "")
	// Empty keeps the provider's voice, ballad for OpenAI.
	v.SetDefault("tts.voice", "")
	v.SetDefault("tts.instructions", DefaultVoiceInstructions)
	v.SetDefault("tts.azure.endpoint", "")
	v.SetDefault("tts.azure.api_key", "")
	v.SetDefault("tts.azure.api_version", "2025-03-01-preview")
	v.SetDefault("tts.azure.deployment", "")

	v.SetDefault("pipeline.transcript_queue_size", 8)

	v.SetDefault("credentials.openai_api_key", "")
	v.SetDefault("credentials.deepgram_api_key", "")
	v.SetDefault("credentials.groq_api_key", "")

	for key, envs := range envBindings {
		// BindEnv only fails without a key.
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	return v
}

// LoadDotEnv loads a .env file into the process environment, overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Overload(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional config file at path into v and decodes the result.
// Environment variables and bound flags take precedence over the file.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		trimStringsHookFunc(),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func trimStringsHookFunc() mapstructure.DecodeHookFuncKind {
	return func(from, to reflect.Kind, data any) (any, error) {
		if from != reflect.String || to != reflect.String {
			return data, nil
		}
		return strings.TrimSpace(data.(string)), nil
	}
}

// Validate reports every problem at once so a broken setup can be fixed in
// one go.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(slices.Contains([]string{BackendPortAudio, BackendMiniaudio}, c.Audio.Backend),
		"audio.backend must be %s or %s, got %q", BackendPortAudio, BackendMiniaudio, c.Audio.Backend)
	check(c.Audio.SampleRate > 0, "audio.sample_rate must be positive")
	check(c.Audio.FrameSize > 0, "audio.frame_size must be positive")

	switch c.STT.Provider {
	case ProviderAzure:
		errs = append(errs, c.STT.Azure.validate("stt.azure")...)
	case ProviderOpenAI:
		check(c.Credentials.OpenAIAPIKey != "", "credentials.openai_api_key is required for stt.provider %s", ProviderOpenAI)
	case ProviderDeepgram:
		check(c.Credentials.DeepgramAPIKey != "", "credentials.deepgram_api_key is required for stt.provider %s", ProviderDeepgram)
	default:
		errs = append(errs, fmt.Errorf("unknown stt.provider %q", c.STT.Provider))
	}
	if _, err := c.STT.noiseReduction(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.STT.turnDetection(); err != nil {
		errs = append(errs, err)
	}
	check(c.STT.Reconnect.Attempts >= 0, "stt.reconnect.attempts must not be negative")

	switch c.LLM.Provider {
	case ProviderAzure:
		errs = append(errs, c.LLM.Azure.validate("llm.azure")...)
	case ProviderOpenAI:
		check(c.Credentials.OpenAIAPIKey != "", "credentials.openai_api_key is required for llm.provider %s", ProviderOpenAI)
	case ProviderGroq:
		check(c.Credentials.GroqAPIKey != "", "credentials.groq_api_key is required for llm.provider %s", ProviderGroq)
	default:
		errs = append(errs, fmt.Errorf("unknown llm.provider %q", c.LLM.Provider))
	}
	check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "llm.temperature must be between 0 and 2")
	check(c.LLM.MaxOutputTokens > 0, "llm.max_output_tokens must be positive")

	switch c.TTS.Provider {
	case ProviderAzure, ProviderOpenAI:
		if c.TTS.Provider == ProviderAzure {
			errs = append(errs, c.TTS.Azure.validate("tts.azure")...)
		} else {
			check(c.Credentials.OpenAIAPIKey != "", "credentials.openai_api_key is required for tts.provider %s", ProviderOpenAI)
		}
		check(c.Audio.SampleRate == openAIPCMSampleRate,
			"tts.provider %s only produces %d Hz audio, audio.sample_rate is %d", c.TTS.Provider, openAIPCMSampleRate, c.Audio.SampleRate)
	case ProviderDeepgram:
		check(c.Credentials.DeepgramAPIKey != "", "credentials.deepgram_api_key is required for tts.provider %s", ProviderDeepgram)
	default:
		errs = append(errs, fmt.Errorf("unknown tts.provider %q", c.TTS.Provider))
	}

	check(c.Pipeline.TranscriptQueueSize > 0, "pipeline.transcript_queue_size must be positive")

	return errors.Join(errs...)
}

func (a AzureConfig) validate(path string) []error {
	var errs []error
	for field, value := range map[string]string{
		"endpoint":    a.Endpoint,
		"api_key":     a.APIKey,
		"api_version": a.APIVersion,
		"deployment":  a.Deployment,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s.%s is required", path, field))
		}
	}
	slices.SortFunc(errs, func(a, b error) int { return strings.Compare(a.Error(), b.Error()) })
	return errs
}

// NoiseReductionMode returns the configured mode, "none" disabling it.
func (s STTConfig) NoiseReductionMode() speechtotext.NoiseReduction {
	mode, _ := s.noiseReduction()
	return mode
}

func (s STTConfig) noiseReduction() (speechtotext.NoiseReduction, error) {
	switch mode := speechtotext.NoiseReduction(s.NoiseReduction); mode {
	case "none", speechtotext.NoiseReductionNone:
		return speechtotext.NoiseReductionNone, nil
	case speechtotext.NoiseReductionNearField, speechtotext.NoiseReductionFarField:
		return mode, nil
	default:
		return speechtotext.NoiseReductionNone, fmt.Errorf("unknown stt.noise_reduction %q", s.NoiseReduction)
	}
}

// TurnDetectionMode returns the configured mode, "none" disabling it.
func (s STTConfig) TurnDetectionMode() speechtotext.TurnDetection {
	mode, _ := s.turnDetection()
	return mode
}

func (s STTConfig) turnDetection() (speechtotext.TurnDetection, error) {
	switch mode := speechtotext.TurnDetection(s.TurnDetection); mode {
	case "none", speechtotext.TurnDetectionNone:
		return speechtotext.TurnDetectionNone, nil
	case speechtotext.TurnDetectionServerVAD, speechtotext.TurnDetectionSemanticVAD:
		return mode, nil
	default:
		return speechtotext.TurnDetectionNone, fmt.Errorf("unknown stt.turn_detection %q", s.TurnDetection)
	}
}
