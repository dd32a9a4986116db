package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-duplex/core/speechtotext"
)

// clearEnv blanks every bound variable; empty values are ignored by the
// bindings so the defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, envs := range envBindings {
		for _, env := range envs {
			t.Setenv(env, "")
		}
	}
}

func setAzureEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://shared.openai.azure.com")
	t.Setenv("AZURE_OPENAI_API_KEY", "shared-key")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "chat")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME_STT", "transcribe")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME_TTS", "speech")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.TTS.Voice != "" {
		t.Fatalf("expected the provider voice by default, got %q", cfg.TTS.Voice)
	}
	if cfg.TTS.Instructions != DefaultVoiceInstructions {
		t.Fatalf("expected default voice instructions, got %q", cfg.TTS.Instructions)
	}
	if cfg.LLM.Temperature != 0.7 || cfg.LLM.MaxOutputTokens != 1000 {
		t.Fatalf("expected temperature 0.7 and 1000 tokens, got %v and %d", cfg.LLM.Temperature, cfg.LLM.MaxOutputTokens)
	}
	if cfg.LLM.SystemPrompt != DefaultSystemPrompt || cfg.STT.Prompt != DefaultTranscriptionPrompt {
		t.Fatalf("expected default prompts, got %q and %q", cfg.LLM.SystemPrompt, cfg.STT.Prompt)
	}
	if cfg.Audio.SampleRate != 24000 || cfg.Audio.FrameSize != 1024 || cfg.Audio.Backend != BackendPortAudio {
		t.Fatalf("expected 24kHz portaudio frames of 1024, got %+v", cfg.Audio)
	}
	if cfg.Pipeline.TranscriptQueueSize != 8 {
		t.Fatalf("expected queue size 8, got %d", cfg.Pipeline.TranscriptQueueSize)
	}
	if cfg.STT.Reconnect.Attempts != 0 {
		t.Fatalf("expected reconnection to be off, got %d attempts", cfg.STT.Reconnect.Attempts)
	}
	if cfg.STT.Reconnect.InitialBackoff != 500*time.Millisecond || cfg.STT.Reconnect.MaxBackoff != 8*time.Second {
		t.Fatalf("expected 500ms to 8s backoff, got %v to %v", cfg.STT.Reconnect.InitialBackoff, cfg.STT.Reconnect.MaxBackoff)
	}
	if cfg.STT.NoiseReductionMode() != speechtotext.NoiseReductionNearField {
		t.Fatalf("expected near field noise reduction, got %q", cfg.STT.NoiseReductionMode())
	}
	if cfg.STT.TurnDetectionMode() != speechtotext.TurnDetectionServerVAD {
		t.Fatalf("expected server vad, got %q", cfg.STT.TurnDetectionMode())
	}
}

func TestLoadAzureServiceVariablesFallBackToShared(t *testing.T) {
	clearEnv(t)
	setAzureEnv(t)
	t.Setenv("AZURE_OPENAI_ENDPOINT_TTS", "https://speech.openai.azure.com")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.STT.Azure.Endpoint != "https://shared.openai.azure.com" {
		t.Fatalf("expected stt to use the shared endpoint, got %q", cfg.STT.Azure.Endpoint)
	}
	if cfg.TTS.Azure.Endpoint != "https://speech.openai.azure.com" {
		t.Fatalf("expected tts specific endpoint, got %q", cfg.TTS.Azure.Endpoint)
	}
	if cfg.LLM.Azure.Deployment != "chat" || cfg.STT.Azure.Deployment != "transcribe" || cfg.TTS.Azure.Deployment != "speech" {
		t.Fatalf("expected per service deployments, got %q, %q, %q",
			cfg.LLM.Azure.Deployment, cfg.STT.Azure.Deployment, cfg.TTS.Azure.Deployment)
	}
	if cfg.TTS.Azure.APIKey != "shared-key" {
		t.Fatalf("expected shared api key, got %q", cfg.TTS.Azure.APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadConfigFileIsOverriddenByEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("GROQ_API_KEY", "from-env")

	path := filepath.Join(t.TempDir(), "ema-duplex.yaml")
	content := `
llm:
  provider: " groq "
  temperature: 0.2
tts:
  voice: coral
stt:
  reconnect:
    attempts: 3
    max_backoff: 2s
credentials:
  groq_api_key: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.LLM.Provider != ProviderGroq {
		t.Fatalf("expected trimmed provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Fatalf("expected temperature from file, got %v", cfg.LLM.Temperature)
	}
	if cfg.TTS.Voice != "coral" {
		t.Fatalf("expected voice from file, got %q", cfg.TTS.Voice)
	}
	if cfg.STT.Reconnect.Attempts != 3 || cfg.STT.Reconnect.MaxBackoff != 2*time.Second {
		t.Fatalf("expected reconnect settings from file, got %+v", cfg.STT.Reconnect)
	}
	if cfg.Credentials.GroqAPIKey != "from-env" {
		t.Fatalf("expected environment to win over file, got %q", cfg.Credentials.GroqAPIKey)
	}
}

func TestLoadMissingConfigFileFails(t *testing.T) {
	clearEnv(t)

	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadDotEnvOverridesEnvironment(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "old")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DEEPGRAM_API_KEY=new\n"), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := os.Getenv("DEEPGRAM_API_KEY"); got != "new" {
		t.Fatalf("expected .env to override, got %q", got)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cfg.Audio.Backend = "alsa"
	cfg.Audio.SampleRate = 16000
	cfg.STT.Provider = "whisper"
	cfg.STT.TurnDetection = "push_to_talk"
	cfg.LLM.Provider = ProviderGroq
	cfg.Pipeline.TranscriptQueueSize = 0

	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{
		`audio.backend must be portaudio or miniaudio, got "alsa"`,
		`unknown stt.provider "whisper"`,
		`unknown stt.turn_detection "push_to_talk"`,
		"credentials.groq_api_key is required",
		"tts.azure.endpoint is required",
		"only produces 24000 Hz audio",
		"pipeline.transcript_queue_size must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateAcceptsDeepgramPipeline(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEEPGRAM_API_KEY", "dg")
	t.Setenv("OPENAI_API_KEY", "oa")

	v := New()
	v.Set("stt.provider", ProviderDeepgram)
	v.Set("llm.provider", ProviderOpenAI)
	v.Set("tts.provider", ProviderDeepgram)
	v.Set("audio.sample_rate", 16000)
	v.Set("stt.noise_reduction", "none")

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.STT.NoiseReductionMode() != speechtotext.NoiseReductionNone {
		t.Fatalf("expected noise reduction off, got %q", cfg.STT.NoiseReductionMode())
	}
}
