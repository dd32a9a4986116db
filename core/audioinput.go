package orchestration

import (
	"reflect"

	"github.com/koscakluka/ema-duplex/core/audio"
)

// audioInput wraps the microphone client and caches its optional
// capabilities so the capture pump does not repeat type assertions.
type audioInput struct {
	// base stores the configured microphone client.
	base AudioInput
	// stopper is set when the client can stop capturing without being
	// released.
	stopper interface{ StopCapture() error }
	// discarder is set when the client buffers frames while nobody reads and
	// can drop them on request.
	discarder interface{ DiscardCaptured() }
	// closer is set when the client holds a device that must be released.
	closer interface{ Close() error }
}

func newAudioInput(client AudioInput) *audioInput {
	a := &audioInput{}
	a.Set(client)
	return a
}

// Set replaces the configured client. Nil and typed-nil clients leave the
// input unconfigured.
func (a *audioInput) Set(client AudioInput) {
	if a == nil {
		return
	}

	*a = audioInput{}
	if isNilClient(client) {
		return
	}

	a.base = client
	if stopper, ok := client.(interface{ StopCapture() error }); ok {
		a.stopper = stopper
	}
	if discarder, ok := client.(interface{ DiscardCaptured() }); ok {
		a.discarder = discarder
	}
	if closer, ok := client.(interface{ Close() error }); ok {
		a.closer = closer
	}
}

func (a *audioInput) IsConfigured() bool { return a != nil && a.base != nil }

func (a *audioInput) ReadFrame() ([]byte, error) {
	return a.base.ReadFrame()
}

// DiscardCaptured drops audio buffered by the client while capture was gated.
func (a *audioInput) DiscardCaptured() {
	if a.discarder != nil {
		a.discarder.DiscardCaptured()
	}
}

func (a *audioInput) StopCapture() error {
	if a == nil || a.stopper == nil {
		return nil
	}
	return a.stopper.StopCapture()
}

func (a *audioInput) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// EncodingInfo returns the capture encoding, or the project default when no
// client is configured.
func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if !a.IsConfigured() {
		return audio.GetDefaultEncodingInfo()
	}
	return a.base.EncodingInfo()
}

// isNilClient detects nil and typed-nil interface values.
func isNilClient(client any) bool {
	if client == nil {
		return true
	}

	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// isSameClient reports whether a and b are the same device client, e.g. one
// duplex client configured as both microphone and speaker.
func isSameClient(a, b any) bool {
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}
