package miniaudio

import (
	"errors"
	"fmt"
	"io"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-duplex/core/audio"
)

// Client drives the default capture and playback devices through miniaudio.
// Unlike the portaudio backend it is callback based; captured audio is sliced
// into frames and buffered, played audio is queued and pulled by the device.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo
	playbackClient
	captureClient
}

func NewClient(frameSize int) (*Client, error) {
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encodingInfo: audio.EncodingInfo{
			SampleRate: audio.DefaultSampleRate,
			Format:     audio.EncodingLinear16,
		},
	}
	sampleRate := uint32(client.encodingInfo.SampleRate)

	if err := client.playbackClient.Init(audioCtx, sampleRate); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playbackClient.Start(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, sampleRate, frameSize); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}
	if err := client.captureClient.Start(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	return &client, nil
}

// ReadFrame blocks until the next captured frame is available. It returns
// io.EOF once the capture device was released.
func (c *Client) ReadFrame() ([]byte, error) {
	frame, ok := <-c.captureClient.frames
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

// DiscardCaptured drops frames that piled up while the microphone was gated,
// so the assistant's own tail is not transcribed.
func (c *Client) DiscardCaptured() {
	if dropped := c.captureClient.discardBacklog(); dropped > 0 {
		logger.Debug("discarded captured frames", "frames", dropped)
	}
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) StopPlayback() error {
	return c.playbackClient.Stop()
}

func (c *Client) Close() error {
	errs := []error{
		c.captureClient.Uninit(),
		c.playbackClient.Uninit(),
	}
	if c.audioContext != nil {
		errs = append(errs, c.audioContext.Uninit())
		c.audioContext.Free()
		c.audioContext = nil
	}
	return errors.Join(errs...)
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) AwaitMark() error {
	return c.playbackClient.AwaitMark()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
