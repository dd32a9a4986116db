package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// captureFrameBacklog bounds how many frames are held while nobody reads.
// Older frames are dropped first, which is what happens to the microphone
// while the assistant is speaking.
const captureFrameBacklog = 32

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	frameBytes int
	pending    []byte
	frames     chan []byte

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32, frameSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = sampleRate
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext
	c.frameBytes = frameSize * bytesPerFrame
	c.frames = make(chan []byte, captureFrameBacklog)

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.collect(pInput[:n])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// collect slices device periods into fixed size frames. It runs on the audio
// thread and never blocks.
func (c *captureClient) collect(input []byte) {
	c.pending = append(c.pending, input...)
	for len(c.pending) >= c.frameBytes {
		frame := make([]byte, c.frameBytes)
		copy(frame, c.pending[:c.frameBytes])
		c.pending = c.pending[c.frameBytes:]

		select {
		case c.frames <- frame:
		default:
			select {
			case <-c.frames:
			default:
			}
			select {
			case c.frames <- frame:
			default:
			}
		}
	}
}

// discardBacklog drops frames captured while nobody was reading.
func (c *captureClient) discardBacklog() int {
	dropped := 0
	for {
		select {
		case _, ok := <-c.frames:
			if !ok {
				return dropped
			}
			dropped++
		default:
			return dropped
		}
	}
}

func (c *captureClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
		close(c.frames)
	}
	return nil
}
