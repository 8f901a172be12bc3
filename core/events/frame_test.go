package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
)

func TestMarshalProducesContractFrames(t *testing.T) {
	raw, err := Marshal(NewTextChunk("Hello there.", 3))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if raw[len(raw)-1] != '\n' {
		t.Fatal("expected newline-terminated frame")
	}

	var decoded struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
		Data      struct {
			Text          string `json:"text"`
			SentenceIndex int    `json:"sentenceIndex"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if decoded.Type != "text_chunk" {
		t.Fatalf("expected type text_chunk, got %q", decoded.Type)
	}
	if decoded.Timestamp == 0 {
		t.Fatal("expected a timestamp")
	}
	if decoded.Data.Text != "Hello there." || decoded.Data.SentenceIndex != 3 {
		t.Fatalf("unexpected data: %+v", decoded.Data)
	}
}

func TestUnmarshalRoundTripsEveryEventType(t *testing.T) {
	sequence := []Event{
		NewMetadata("turn-1", 4, "session-1"),
		NewCachedIntro("One moment.", []byte{1, 2}, "math", 1.5),
		NewBrainSelected("math", "Math Tutor", 0.9, "matched keyword algebra"),
		NewToolStart("render", "manim", "Render an animation"),
		NewToolComplete("render", "manim", false, 2.5, "timeout"),
		NewTextChunk("A sentence.", 0),
		NewAudioChunk([]byte{3, 4, 5}, "A sentence.", 0),
		NewReference("this equation", "object-1"),
		NewComplete(4, 1, 1),
		NewError("model unavailable"),
		NewInterrupted("partial text", InterruptionCodeSuperseded),
	}

	for _, original := range sequence {
		raw, err := Marshal(original)
		if err != nil {
			t.Fatalf("marshal %s failed: %v", original.Type(), err)
		}
		decoded, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("unmarshal %s failed: %v", original.Type(), err)
		}
		if decoded.Type() != original.Type() {
			t.Fatalf("expected type %s, got %s", original.Type(), decoded.Type())
		}
	}
}

func TestUnmarshalPreservesFields(t *testing.T) {
	raw, err := Marshal(NewToolComplete("run", "python", false, 1.25, "exit status 1"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	complete, ok := decoded.(ToolComplete)
	if !ok {
		t.Fatalf("expected ToolComplete, got %T", decoded)
	}
	if complete.ToolName != "run" || complete.ServerID != "python" {
		t.Fatalf("unexpected identifiers: %+v", complete)
	}
	if complete.Success || complete.Duration != 1.25 || complete.Error != "exit status 1" {
		t.Fatalf("unexpected fields: %+v", complete)
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	_, err := Unmarshal([]byte(`{"type":"telemetry","timestamp":1,"data":{}}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestTerminalEvents(t *testing.T) {
	if !IsTerminal(NewComplete(0, 0, 0)) || !IsTerminal(NewError("x")) || !IsTerminal(NewInterrupted("", InterruptionCodeUserStop)) {
		t.Fatal("expected complete, error and interrupted to be terminal")
	}
	if IsTerminal(NewTextChunk("x", 0)) || IsTerminal(NewMetadata("t", 0, "s")) {
		t.Fatal("expected non-terminal events to report false")
	}
}

// oneByteReader forces the decoder to see frames split across reads.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	return o.r.Read(p[:1])
}

func TestDecoderHandlesFramesSplitAcrossReads(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	for _, event := range []Event{
		NewTextChunk("First.", 0),
		NewTextChunk("Second.", 1),
		NewComplete(2, 0, 0),
	} {
		if err := encoder.Encode(event); err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	}

	decoder := NewDecoder(oneByteReader{r: &buf})
	var decoded []Event
	for {
		event, err := decoder.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		decoded = append(decoded, event)
	}

	if len(decoded) != 3 {
		t.Fatalf("expected 3 events, got %d", len(decoded))
	}
	if !IsTerminal(decoded[2]) {
		t.Fatalf("expected terminal last, got %s", decoded[2].Type())
	}
}

func TestDecoderReportsPartialFrameAtEOF(t *testing.T) {
	raw, err := Marshal(NewTextChunk("cut off", 0))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoder := NewDecoder(bytes.NewReader(raw[:len(raw)-5]))
	if _, err := decoder.Decode(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecoderSkipsBlankLines(t *testing.T) {
	raw, err := Marshal(NewComplete(0, 0, 0))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	stream := append([]byte("\n\n"), raw...)

	decoder := NewDecoder(bytes.NewReader(stream))
	event, err := decoder.Decode()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if event.Type() != TypeComplete {
		t.Fatalf("expected complete, got %s", event.Type())
	}
}

func TestAudioSurvivesRoundTrip(t *testing.T) {
	audio := []byte{0, 1, 2, 253, 254, 255}
	raw, err := Marshal(NewAudioChunk(audio, "clip", 7))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	chunk, ok := decoded.(AudioChunk)
	if !ok {
		t.Fatalf("expected AudioChunk, got %T", decoded)
	}
	if !bytes.Equal(chunk.Audio, audio) {
		t.Fatalf("audio corrupted: %v", chunk.Audio)
	}
	if chunk.SentenceIndex != 7 {
		t.Fatalf("expected index 7, got %d", chunk.SentenceIndex)
	}
}
