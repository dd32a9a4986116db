package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	orchestration "github.com/koscakluka/ema-duplex/core"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start a conversation (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConversation(cmd, opts)
		},
	}
}

func runConversation(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}

	speechToText, err := newSpeechToText(cfg)
	if err != nil {
		return err
	}
	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	textToSpeech, err := newTextToSpeech(cfg)
	if err != nil {
		return err
	}

	device, err := newAudioDevice(cfg.Audio)
	if err != nil {
		return fmt.Errorf("failed to open audio devices: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o := orchestration.NewOrchestrator(
		orchestration.WithSpeechToTextClient(speechToText),
		orchestration.WithStreamingLLM(llm),
		orchestration.WithTextToSpeechClient(textToSpeech),
		orchestration.WithAudioInput(device),
		orchestration.WithAudioOutput(device),
		orchestration.WithLogger(logger),
		orchestration.WithTranscriptQueueSize(cfg.Pipeline.TranscriptQueueSize),
		orchestration.WithReconnectAttempts(cfg.STT.Reconnect.Attempts),
		orchestration.WithReconnectBackoff(cfg.STT.Reconnect.InitialBackoff, cfg.STT.Reconnect.MaxBackoff),
		orchestration.WithTranscriptionOptions(transcriptionOptions(cfg)...),
		orchestration.WithGenerationOptions(generationOptions(cfg)...),
		orchestration.WithSynthesisOptions(synthesisOptions(cfg)...),
	)

	console := newConsole(cmd.OutOrStdout())
	logger.Info("starting conversation",
		"stt", cfg.STT.Provider,
		"llm", cfg.LLM.Provider,
		"tts", cfg.TTS.Provider,
		"audio_backend", cfg.Audio.Backend)
	if err := o.Orchestrate(ctx, console.options()...); err != nil {
		return err
	}
	console.Ready()

	// Interrupts cancel ctx, which closes the orchestrator; Wait then
	// returns nil.
	err = o.Wait()
	if closeErr := o.Close(); closeErr != nil {
		logger.Warn("failed to release audio devices", "error", closeErr)
	}
	return err
}
