package audio

const (
	DefaultSampleRate = 24000
	DefaultFormat     = EncodingLinear16
	// DefaultFrameSize is the number of samples read from the microphone per
	// frame.
	DefaultFrameSize = 1024
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: DefaultFormat}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

// SampleSize is the number of bytes a single mono sample occupies. Unknown
// formats are treated as single byte streams.
func (e EncodingInfo) SampleSize() int {
	if size := e.Format.ByteSize(); size > 0 {
		return size
	}
	return 1
}

// FrameBytes returns the byte length of a frame of the given sample count.
func (e EncodingInfo) FrameBytes(samples int) int {
	return samples * e.SampleSize()
}

func (e EncodingInfo) SilenceValue() byte {
	switch e.Format {
	case EncodingALaw:
		return 0x55
	case EncodingMulaw:
		return 0xFF
	}
	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingMulaw, EncodingALaw:
		return 1
	case EncodingLinear16:
		return 2
	}
	return -1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)
