package audio

import "bytes"

const (
	// WAVHeaderLength is the size of the canonical RIFF/WAVE header some
	// synthesis services prepend to the first chunk of a response.
	WAVHeaderLength = 44
)

var riffMagic = []byte("RIFF")

// PCMAligner turns the arbitrarily sized chunks of a single synthesis response
// into buffers that always hold whole samples. A fresh aligner (or one that
// was Reset) must be used for every response.
//
// The first non-empty chunk is inspected for a RIFF header which, when
// present, is dropped exactly once. Bytes that do not complete a sample are
// carried over and prepended to the next chunk.
type PCMAligner struct {
	sampleSize int

	seenFirst bool
	carry     []byte
}

func NewPCMAligner(encodingInfo EncodingInfo) *PCMAligner {
	return &PCMAligner{sampleSize: encodingInfo.SampleSize()}
}

// Align returns the part of chunk that can be written to the speaker. The
// returned slice is nil when nothing is writable yet. Its length is always a
// multiple of the sample size.
func (a *PCMAligner) Align(chunk []byte) []byte {
	if len(chunk) == 0 {
		return nil
	}

	if !a.seenFirst {
		a.seenFirst = true
		if bytes.HasPrefix(chunk, riffMagic) {
			if len(chunk) <= WAVHeaderLength {
				return nil
			}
			chunk = chunk[WAVHeaderLength:]
		}
	}

	var data []byte
	if len(a.carry) > 0 {
		data = make([]byte, 0, len(a.carry)+len(chunk))
		data = append(data, a.carry...)
		data = append(data, chunk...)
		a.carry = a.carry[:0]
	} else {
		data = chunk
	}

	writable := len(data) - len(data)%a.sampleSize
	if writable < len(data) {
		a.carry = append(a.carry, data[writable:]...)
	}
	if writable == 0 {
		return nil
	}

	out := make([]byte, writable)
	copy(out, data[:writable])
	return out
}

// Carry returns the bytes currently held back because they do not complete a
// sample.
func (a *PCMAligner) Carry() []byte {
	return bytes.Clone(a.carry)
}

// Reset prepares the aligner for the next response and returns the number of
// carried bytes that were discarded.
func (a *PCMAligner) Reset() int {
	dropped := len(a.carry)
	a.carry = a.carry[:0]
	a.seenFirst = false
	return dropped
}
