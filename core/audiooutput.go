package orchestration

import (
	"github.com/koscakluka/ema-duplex/core/audio"
)

// audioOutput wraps the speaker client the same way audioInput wraps the
// microphone.
//
// SendAudio and AwaitMark errors are returned as is; the synthesis player
// turns them into device errors.
type audioOutput struct {
	// base stores the configured speaker client.
	base AudioOutput
	// stopper is set when the client can stop playback without being
	// released.
	stopper interface{ StopPlayback() error }
	// clearer is set when the client can drop queued audio.
	clearer interface{ ClearBuffer() }
	// closer is set when the client holds a device that must be released.
	closer interface{ Close() error }
}

func newAudioOutput(client AudioOutput) *audioOutput {
	a := &audioOutput{}
	a.Set(client)
	return a
}

// Set replaces the configured client. Nil and typed-nil clients leave the
// output unconfigured.
func (a *audioOutput) Set(client AudioOutput) {
	if a == nil {
		return
	}

	*a = audioOutput{}
	if isNilClient(client) {
		return
	}

	a.base = client
	if stopper, ok := client.(interface{ StopPlayback() error }); ok {
		a.stopper = stopper
	}
	if clearer, ok := client.(interface{ ClearBuffer() }); ok {
		a.clearer = clearer
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		a.closer = closer
	}
}

func (a *audioOutput) IsConfigured() bool { return a != nil && a.base != nil }

// SendAudio writes aligned PCM to the speaker. Without a speaker the audio is
// dropped.
func (a *audioOutput) SendAudio(audio []byte) error {
	if !a.IsConfigured() {
		return nil
	}
	return a.base.SendAudio(audio)
}

// AwaitMark blocks until everything sent so far was played.
func (a *audioOutput) AwaitMark() error {
	if !a.IsConfigured() {
		return nil
	}
	return a.base.AwaitMark()
}

func (a *audioOutput) Clear() {
	if a != nil && a.clearer != nil {
		a.clearer.ClearBuffer()
	}
}

func (a *audioOutput) StopPlayback() error {
	if a == nil || a.stopper == nil {
		return nil
	}
	return a.stopper.StopPlayback()
}

func (a *audioOutput) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// EncodingInfo returns the playback encoding, or the project default when no
// client is configured.
func (a *audioOutput) EncodingInfo() audio.EncodingInfo {
	if !a.IsConfigured() {
		return audio.GetDefaultEncodingInfo()
	}
	return a.base.EncodingInfo()
}
