package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// frame is the wire envelope. Timestamps travel as unix milliseconds.
type frame struct {
	Type      Type            `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ErrUnknownType is wrapped by decode errors for types outside the contract.
// Consumers may skip the frame and keep reading.
var ErrUnknownType = fmt.Errorf("unknown event type")

// Marshal encodes a single event as one newline-terminated wire frame.
func Marshal(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", e.Type(), err)
	}

	framed, err := json.Marshal(frame{
		Type:      e.Type(),
		Timestamp: e.Timestamp().UnixMilli(),
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", e.Type(), err)
	}

	return append(framed, '\n'), nil
}

// Unmarshal decodes one complete wire frame into its typed event.
func Unmarshal(raw []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(bytes.TrimSpace(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}

	base := Base{typ: f.Type, timestamp: time.UnixMilli(f.Timestamp)}

	switch f.Type {
	case TypeMetadata:
		return decodeData[Metadata](f, base)
	case TypeCachedIntro:
		return decodeData[CachedIntro](f, base)
	case TypeBrainSelected:
		return decodeData[BrainSelected](f, base)
	case TypeToolStart:
		return decodeData[ToolStart](f, base)
	case TypeToolComplete:
		return decodeData[ToolComplete](f, base)
	case TypeTextChunk:
		return decodeData[TextChunk](f, base)
	case TypeAudioChunk:
		return decodeData[AudioChunk](f, base)
	case TypeCanvasObject:
		return decodeData[CanvasObject](f, base)
	case TypeReference:
		return decodeData[Reference](f, base)
	case TypeComplete:
		return decodeData[Complete](f, base)
	case TypeError:
		return decodeData[Error](f, base)
	case TypeInterrupted:
		return decodeData[Interrupted](f, base)
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
}

type rebaseable interface {
	setBase(Base)
}

func (b *Base) setBase(base Base) { *b = base }

func decodeData[E any](f frame, base Base) (Event, error) {
	var e E
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s data: %w", f.Type, err)
		}
	}

	event, ok := any(&e).(rebaseable)
	if !ok {
		return nil, fmt.Errorf("event %s does not embed a base", f.Type)
	}
	event.setBase(base)

	return any(e).(Event), nil
}

// Encoder writes events as wire frames to a stream.
type Encoder struct {
	w io.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

func (e *Encoder) Encode(event Event) error {
	raw, err := Marshal(event)
	if err != nil {
		return err
	}
	if _, err := e.w.Write(raw); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", event.Type(), err)
	}
	return nil
}

// Decoder reads wire frames from a stream. Frames may arrive split across
// reads; the decoder buffers until a full frame boundary is seen.
type Decoder struct {
	r   io.Reader
	buf bytes.Buffer
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode returns the next complete event. io.EOF means the stream closed
// cleanly at a frame boundary; io.ErrUnexpectedEOF means it closed with a
// partial frame buffered.
func (d *Decoder) Decode() (Event, error) {
	for {
		if line, ok := d.nextLine(); ok {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return Unmarshal(line)
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf.Write(chunk[:n])
			continue
		}
		if err == io.EOF && d.buf.Len() > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
	}
}

func (d *Decoder) nextLine() ([]byte, bool) {
	raw := d.buf.Bytes()
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return nil, false
	}

	line := make([]byte, idx+1)
	copy(line, raw[:idx+1])
	d.buf.Next(idx + 1)
	return line, true
}
