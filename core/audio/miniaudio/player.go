package miniaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/brightboard/tutor-core/core/audio"
)

// Player plays raw linear16 audio through the default output device. Play
// blocks until the buffered audio has drained through the device callback
// or the context is cancelled.
type Player struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	mu       sync.Mutex
	buffered []byte
	drained  chan struct{}
}

func NewPlayer() (*Player, error) {
	audioContext, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	p := &Player{audioContext: audioContext}

	sampleRate := uint32(audio.DefaultSampleRate)
	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	config.Periods = 4

	device, err := malgo.InitDevice(audioContext.Context, config, malgo.DeviceCallbacks{
		Data: p.processAudio(bytesPerFrame),
	})
	if err != nil {
		audioContext.Uninit()
		audioContext.Free()
		return nil, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		audioContext.Uninit()
		audioContext.Free()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	return p, nil
}

func (p *Player) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}

	p.mu.Lock()
	p.buffered = append(p.buffered, audio...)
	drained := make(chan struct{})
	p.drained = drained
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.buffered = nil
		p.drained = nil
		p.mu.Unlock()
		return ctx.Err()
	case <-drained:
		return nil
	}
}

func (p *Player) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := int(frameCount) * bytesPerFrame

		p.mu.Lock()
		defer p.mu.Unlock()

		if len(p.buffered) == 0 {
			return
		}

		if len(p.buffered) <= need {
			copy(pOutput, p.buffered)
			p.buffered = nil
			if p.drained != nil {
				close(p.drained)
				p.drained = nil
			}
			return
		}

		copy(pOutput, p.buffered[:need])
		p.buffered = p.buffered[need:]
	}
}

func (p *Player) Close() error {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.audioContext != nil {
		if err := p.audioContext.Uninit(); err != nil {
			return fmt.Errorf("failed to uninitialize audio context: %w", err)
		}
		p.audioContext.Free()
		p.audioContext = nil
	}
	return nil
}

func (p *Player) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
