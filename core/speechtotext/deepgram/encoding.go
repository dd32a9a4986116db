package deepgram

import (
	"fmt"
	"slices"

	"github.com/koscakluka/ema-duplex/core/audio"
)

// listenEncoding is how captured audio is described in the listen query.
type listenEncoding struct {
	name       string
	sampleRate int
}

var linear16SampleRates = []int{8000, 16000, 24000, 32000, 48000}

// telephonyRate is the only rate companded audio is accepted at.
const telephonyRate = 8000

func toListenEncoding(encoding audio.EncodingInfo) (listenEncoding, error) {
	switch encoding.Format {
	case audio.EncodingLinear16:
		if !slices.Contains(linear16SampleRates, encoding.SampleRate) {
			return listenEncoding{}, fmt.Errorf("unsupported sample rate %d for linear16", encoding.SampleRate)
		}
		return listenEncoding{name: "linear16", sampleRate: encoding.SampleRate}, nil
	case audio.EncodingALaw, audio.EncodingMulaw:
		if encoding.SampleRate != telephonyRate {
			return listenEncoding{}, fmt.Errorf("unsupported sample rate %d for %s, only %d is accepted",
				encoding.SampleRate, encoding.Format.Name(), telephonyRate)
		}
		return listenEncoding{name: encoding.Format.Name(), sampleRate: telephonyRate}, nil
	default:
		return listenEncoding{}, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}
}
