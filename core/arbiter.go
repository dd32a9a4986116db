package orchestration

import "sync/atomic"

// duplexArbiter is the single flag deciding who owns the audio channel.
// While it is set the assistant is speaking and microphone frames are not
// sent for transcription.
//
// Only the synthesis player sets and clears it; anything may read it. None of
// the methods block.
type duplexArbiter struct {
	speaking atomic.Bool

	// onChange is called on every transition, from the goroutine that caused
	// it.
	onChange func(isSpeaking bool)
}

func newDuplexArbiter(onChange func(isSpeaking bool)) *duplexArbiter {
	if onChange == nil {
		onChange = func(bool) {}
	}
	return &duplexArbiter{onChange: onChange}
}

func (a *duplexArbiter) SetSpeaking() {
	if a.speaking.CompareAndSwap(false, true) {
		a.onChange(true)
	}
}

func (a *duplexArbiter) ClearSpeaking() {
	if a.speaking.CompareAndSwap(true, false) {
		a.onChange(false)
	}
}

func (a *duplexArbiter) IsSpeaking() bool {
	return a.speaking.Load()
}
