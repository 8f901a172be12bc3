package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/brightboard/tutor-core/core/audio"
)

// Player plays raw linear16 audio through the default output stream.
// Writes block per buffer, so Play naturally paces itself to the device.
type Player struct {
	bufferSize int

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []int16
}

func NewPlayer(bufferSize int) (*Player, error) {
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(0, 1, audio.DefaultSampleRate, bufferSize, out)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
	}

	return &Player{bufferSize: bufferSize, stream: stream, out: out}, nil
}

func (p *Player) Play(ctx context.Context, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("player is closed")
	}

	chunkBytes := p.bufferSize * 2
	for offset := 0; offset < len(data); offset += chunkBytes {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := offset + chunkBytes
		chunk := data[offset:min(end, len(data))]
		if len(chunk) < chunkBytes {
			padded := make([]byte, chunkBytes)
			copy(padded, chunk)
			chunk = padded
		}

		if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, p.out); err != nil {
			return fmt.Errorf("failed to frame audio: %w", err)
		}
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("failed to write to playback stream: %w", err)
		}
	}

	return nil
}

func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	p.stream.Stop()
	err := p.stream.Close()
	p.stream = nil
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("failed to close playback stream: %w", err)
	}
	return nil
}

func (p *Player) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
