package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/koscakluka/ema-duplex/internal/config"
)

type rootOptions struct {
	configFile string
	envFile    string
	viper      *viper.Viper
}

// flagBindings maps command line flags onto config keys.
var flagBindings = map[string]string{
	"log-level":     "log_level",
	"audio-backend": "audio.backend",
	"voice":         "tts.voice",
	"stt":           "stt.provider",
	"llm":           "llm.provider",
	"tts":           "tts.provider",
}

// NewRootCommand builds the ema-duplex command tree. Running it without a
// subcommand starts a conversation.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{viper: config.New()}

	cmd := &cobra.Command{
		Use:   "ema-duplex",
		Short: "Talk to a streaming assistant through your microphone and speaker",
		Long: `ema-duplex - a half-duplex spoken conversation.

Your speech is transcribed continuously. Every finished sentence you say is
answered by the language model and the answer is spoken back sentence by
sentence. The microphone is muted while the assistant talks.

Credentials are read from the environment, after loading a .env file:
  AZURE_OPENAI_ENDPOINT[_STT|_TTS], AZURE_OPENAI_API_KEY[_STT|_TTS],
  AZURE_OPENAI_API_VERSION[_STT|_TTS], AZURE_OPENAI_DEPLOYMENT_NAME[_STT|_TTS],
  OPENAI_API_KEY, DEEPGRAM_API_KEY, GROQ_API_KEY

Examples:
  # Azure OpenAI for everything, as configured in .env
  ema-duplex

  # Deepgram ears and voice, Groq brain
  ema-duplex --stt deepgram --llm groq --tts deepgram

  # Check what would be used
  ema-duplex config`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversation(cmd, opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (yaml, json or toml)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("audio-backend", config.BackendPortAudio, "audio backend (portaudio, miniaudio)")
	flags.String("voice", "", "synthesis voice (default: the provider's voice)")
	flags.String("stt", config.ProviderAzure, "transcription provider (azure, openai, deepgram)")
	flags.String("llm", config.ProviderAzure, "language model provider (azure, openai, groq)")
	flags.String("tts", config.ProviderAzure, "synthesis provider (azure, openai, deepgram)")
	for flag, key := range flagBindings {
		// The flags were just defined, binding cannot fail.
		_ = opts.viper.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newRunCommand(opts), newConfigCommand(opts))
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.viper, o.configFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
