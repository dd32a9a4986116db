package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// maxQueuedPlayback bounds the audio held ahead of the device (about two
// seconds at 24kHz). SendAudio blocks while the queue is above it, which gives
// writers the same backpressure as a blocking stream.
const maxQueuedPlayback = 2 * 24000 * 2

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	queuedAudio []byte
	marks       []playbackMark
	closed      bool

	mu      sync.Mutex
	audioMu sync.Mutex
	drained *sync.Cond
}

type playbackMark struct {
	position int
	callback func()
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, sampleRate uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Playback)
	c.config.SampleRate = sampleRate
	c.config.Playback.Format = format
	c.config.Playback.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	c.config.Periods = 4

	c.audioContext = audioContext
	c.drained = sync.NewCond(&c.audioMu)

	var err error
	if c.device, err = malgo.InitDevice(
		c.audioContext.Context,
		c.config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

func (c *playbackClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop playback device: %w", err)
	}

	c.audioMu.Lock()
	c.closed = true
	c.audioMu.Unlock()
	c.ClearBuffer()
	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	if c.device == nil {
		c.mu.Unlock()
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		c.mu.Unlock()
		return fmt.Errorf("device not started")
	}
	c.mu.Unlock()

	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	for len(c.queuedAudio) > maxQueuedPlayback && !c.closed {
		c.drained.Wait()
	}
	if c.closed {
		return fmt.Errorf("playback device stopped")
	}
	c.queuedAudio = append(c.queuedAudio, audio...)
	return nil
}

// ClearBuffer drops queued audio and releases everybody waiting on a mark.
func (c *playbackClient) ClearBuffer() {
	c.audioMu.Lock()
	marks := c.marks
	c.queuedAudio = nil
	c.marks = nil
	c.drained.Broadcast()
	c.audioMu.Unlock()

	for _, mark := range marks {
		mark.callback()
	}
}

// AwaitMark blocks until everything queued so far has been handed to the
// device.
func (c *playbackClient) AwaitMark() error {
	done := make(chan struct{})
	c.audioMu.Lock()
	if len(c.queuedAudio) == 0 || c.closed {
		c.audioMu.Unlock()
		return nil
	}
	c.marks = append(c.marks, playbackMark{
		position: len(c.queuedAudio),
		callback: func() { close(done) },
	})
	c.audioMu.Unlock()

	<-done
	return nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	c.device.Uninit()
	c.device = nil

	c.audioMu.Lock()
	c.closed = true
	c.audioMu.Unlock()
	c.ClearBuffer()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		c.audioMu.Lock()
		n := copy(pOutput[:need], c.queuedAudio)
		c.queuedAudio = c.queuedAudio[n:]
		for i := n; i < need; i++ {
			pOutput[i] = 0
		}
		passed := c.advanceMarks(n)
		c.drained.Broadcast()
		c.audioMu.Unlock()

		for _, mark := range passed {
			mark.callback()
		}
	}
}

// advanceMarks moves all marks by the consumed byte count and returns the
// ones that were reached. Must be called with audioMu held.
func (c *playbackClient) advanceMarks(consumed int) []playbackMark {
	passed := 0
	for i := range c.marks {
		c.marks[i].position -= consumed
		if c.marks[i].position <= 0 {
			passed = i + 1
		}
	}
	if passed == 0 {
		return nil
	}

	reached := c.marks[:passed]
	c.marks = append([]playbackMark(nil), c.marks[passed:]...)
	return reached
}
