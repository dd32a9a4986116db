package portaudio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-duplex/core/audio"
)

// Client owns a blocking microphone stream and a blocking speaker stream on
// the default devices. Reads and writes happen on separate streams so capture
// and playback can be driven from different goroutines.
type Client struct {
	frameSize    int
	encodingInfo audio.EncodingInfo

	inStream  *portaudio.Stream
	outStream *portaudio.Stream

	in  []int16
	out []int16

	inMu          sync.Mutex
	outMu         sync.Mutex
	leftoverAudio []byte

	closeOnce sync.Once
}

type ClientOption func(*Client)

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		c.encodingInfo.SampleRate = sampleRate
	}
}

// NewClient opens and starts mono 16-bit streams with the given number of
// samples per frame.
func NewClient(frameSize int, opts ...ClientOption) (*Client, error) {
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}

	c := &Client{
		frameSize: frameSize,
		encodingInfo: audio.EncodingInfo{
			SampleRate: audio.DefaultSampleRate,
			Format:     audio.EncodingLinear16,
		},
		in:  make([]int16, frameSize),
		out: make([]int16, frameSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	sampleRate := float64(c.encodingInfo.SampleRate)
	var err error
	if c.inStream, err = portaudio.OpenDefaultStream(1, 0, sampleRate, frameSize, c.in); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if c.outStream, err = portaudio.OpenDefaultStream(0, 1, sampleRate, frameSize, c.out); err != nil {
		_ = c.inStream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}

	if err := c.inStream.Start(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}
	if err := c.outStream.Start(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	return c, nil
}

// ReadFrame blocks until a full frame was captured and returns it as little
// endian PCM. Input overflows happen whenever capture is paused by the caller
// and are not treated as failures.
func (c *Client) ReadFrame() ([]byte, error) {
	c.inMu.Lock()
	defer c.inMu.Unlock()

	if err := c.inStream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, fmt.Errorf("failed to read from input stream: %w", err)
	}

	audioBuffer := bytes.Buffer{}
	audioBuffer.Grow(len(c.in) * 2)
	if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
		return nil, fmt.Errorf("failed to encode captured frame: %w", err)
	}
	return audioBuffer.Bytes(), nil
}

// DiscardCaptured drops whole frames the host stream buffered while the
// microphone was not read. It never blocks.
func (c *Client) DiscardCaptured() {
	c.inMu.Lock()
	defer c.inMu.Unlock()

	discardBuffered(c.inStream, c.frameSize)
}

type bufferedInput interface {
	AvailableToRead() (int, error)
	Read() error
}

func discardBuffered(stream bufferedInput, frameSize int) int {
	discarded := 0
	for {
		available, err := stream.AvailableToRead()
		if err != nil || available < frameSize {
			return discarded
		}
		if err := stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
			return discarded
		}
		discarded++
	}
}

// SendAudio writes as many whole frames as possible and keeps the remainder
// until the next call or AwaitMark. It blocks while the device is busy.
func (c *Client) SendAudio(audio []byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	bufferSize := c.frameSize * 2
	c.leftoverAudio = append(c.leftoverAudio, audio...)

	written := 0
	for len(c.leftoverAudio)-written >= bufferSize {
		if err := c.writeFrame(c.leftoverAudio[written : written+bufferSize]); err != nil {
			return err
		}
		written += bufferSize
	}

	c.leftoverAudio = append(c.leftoverAudio[:0], c.leftoverAudio[written:]...)
	return nil
}

// AwaitMark pads whatever is left with silence and writes it out, returning
// once the device accepted the last frame.
func (c *Client) AwaitMark() error {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if len(c.leftoverAudio) == 0 {
		return nil
	}

	frame := make([]byte, c.frameSize*2)
	copy(frame, c.leftoverAudio)
	c.leftoverAudio = c.leftoverAudio[:0]
	return c.writeFrame(frame)
}

func (c *Client) ClearBuffer() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	c.leftoverAudio = c.leftoverAudio[:0]
}

func (c *Client) writeFrame(frame []byte) error {
	if err := binary.Read(bytes.NewReader(frame), binary.LittleEndian, c.out); err != nil {
		return fmt.Errorf("failed to decode playback frame: %w", err)
	}
	if err := c.outStream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
		return fmt.Errorf("failed to write to output stream: %w", err)
	}
	return nil
}

func (c *Client) StopCapture() error {
	if err := c.inStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return nil
}

func (c *Client) StopPlayback() error {
	if err := c.outStream.Stop(); err != nil {
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	return nil
}

// Close releases both streams and terminates portaudio. It waits for an
// in-flight read or write, so the streams should be stopped first. It is safe
// to call more than once.
func (c *Client) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.inMu.Lock()
		defer c.inMu.Unlock()
		c.outMu.Lock()
		defer c.outMu.Unlock()

		if c.inStream != nil {
			if err := c.inStream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close input stream: %w", err))
			}
		}
		if c.outStream != nil {
			if err := c.outStream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close output stream: %w", err))
			}
		}
		if err := portaudio.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate portaudio: %w", err))
		}
	})
	return errors.Join(errs...)
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
