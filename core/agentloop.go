package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightboard/tutor-core/core/canvas"
	"github.com/brightboard/tutor-core/core/events"
	"github.com/brightboard/tutor-core/core/llms"
)

// maxAgentIterations bounds how many times the model may be re-prompted
// within one turn. Hitting the bound is not an error; the turn completes
// with whatever has been narrated.
const maxAgentIterations = 5

// StreamingLLM produces a streamed model response for a prompt with an
// optional tool catalog.
type StreamingLLM interface {
	PromptWithStream(ctx context.Context, instructions string, history []llms.Message, tools []llms.Tool) llms.Stream
}

// agentLoop drives one turn's reason-act cycle: stream a model response,
// segment and emit its narration as it arrives, execute any requested
// tools concurrently, feed results back, and repeat until the model
// answers without tool use or the iteration budget runs out.
type agentLoop struct {
	turn         *activeTurn
	llm          StreamingLLM
	tools        ToolSource
	layout       canvas.Layout
	renderer     canvas.Renderer
	instructions string
	bundle       ContextBundle
	catalog      []catalogTool

	segmenter  *sentenceSegmenter
	sentences  chan<- Sentence
	references *referenceTracker

	placedMu sync.Mutex
	placed   []canvas.BoundingBox
}

func (l *agentLoop) run(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "agent loop",
		trace.WithAttributes(attribute.String("turn.id", l.turn.ID())),
	)
	defer span.End()

	history := l.seedHistory()

	for iteration := 1; iteration <= maxAgentIterations; iteration++ {
		span.AddEvent(fmt.Sprintf("iteration %d", iteration))

		content, calls, err := l.streamResponse(ctx, history)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		if len(calls) == 0 {
			l.flushNarration(ctx)
			return nil
		}

		// The model keeps narrating while it waits for tools; whatever is
		// still buffered has to reach the listener before the tools run.
		l.flushNarration(ctx)

		if iteration == maxAgentIterations {
			logger.WarnContext(ctx, "iteration budget exhausted with pending tool requests",
				"turnId", l.turn.ID(), "pendingTools", len(calls))
			span.AddEvent("iteration budget exhausted")
			return nil
		}

		history = append(history, llms.Message{
			Role:      llms.MessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})

		results := l.executeTools(ctx, calls)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for _, call := range results {
			history = append(history, llms.Message{
				Role:       llms.MessageRoleTool,
				Content:    call.Response,
				ToolCallID: call.ID,
			})
		}
	}

	return nil
}

// streamResponse consumes one model invocation. Content deltas run
// through the segmenter and completed sentences are emitted immediately;
// tool call deltas are reassembled into full calls.
// seedHistory rebuilds the model-facing conversation from the context
// bundle's prior exchanges and ends it with the current question.
func (l *agentLoop) seedHistory() []llms.Message {
	var history []llms.Message
	for _, exchange := range l.bundle.Exchanges {
		history = append(history,
			llms.Message{Role: llms.MessageRoleUser, Content: exchange.Question},
			llms.Message{Role: llms.MessageRoleAssistant, Content: exchange.Answer},
		)
	}
	return append(history, llms.Message{Role: llms.MessageRoleUser, Content: l.turn.Question()})
}

// modelInstructions folds the session summary into the brain's prompt.
func (l *agentLoop) modelInstructions() string {
	if l.bundle.Summary == "" {
		return l.instructions
	}
	return l.instructions + "\n\nWhat you know about this student so far: " + l.bundle.Summary
}

func (l *agentLoop) streamResponse(ctx context.Context, history []llms.Message) (string, []llms.ToolCall, error) {
	stream := l.llm.PromptWithStream(ctx, l.modelInstructions(), history, l.modelTools())

	var content strings.Builder
	var calls []llms.ToolCall

	for chunk, err := range stream.Chunks(ctx) {
		if err != nil {
			return content.String(), calls, fmt.Errorf("model stream failed: %w", err)
		}
		if ctx.Err() != nil {
			return content.String(), calls, ctx.Err()
		}

		switch c := chunk.(type) {
		case llms.StreamContentChunk:
			text := c.Content()
			content.WriteString(text)
			for _, sentence := range l.segmenter.Push(text) {
				l.emitSentence(ctx, sentence)
			}
		case llms.StreamToolCallChunk:
			call := c.ToolCall()
			if call.ID != "" || len(calls) == 0 {
				calls = append(calls, call)
			} else {
				// Argument deltas without an id continue the previous call.
				calls[len(calls)-1].Arguments += call.Arguments
			}
		}
	}

	return content.String(), calls, ctx.Err()
}

func (l *agentLoop) modelTools() []llms.Tool {
	if len(l.catalog) == 0 {
		return nil
	}
	tools := make([]llms.Tool, 0, len(l.catalog))
	for _, tool := range l.catalog {
		tools = append(tools, tool.Tool)
	}
	return tools
}

func (l *agentLoop) emitSentence(ctx context.Context, sentence Sentence) {
	l.turn.emitText(sentence)

	for _, reference := range l.references.Scan(sentence.Text) {
		if l.turn.emitter.Emit(reference) {
			l.turn.totalReferences.Add(1)
		}
	}

	select {
	case l.sentences <- sentence:
	case <-ctx.Done():
	}
}

// flushNarration closes out a trailing partial sentence.
func (l *agentLoop) flushNarration(ctx context.Context) {
	if sentence := l.segmenter.Flush(); sentence != nil {
		l.emitSentence(ctx, *sentence)
	}
}

// executeTools fans the model's tool requests out to the servers and
// waits for all of them. Failures come back as error results for the
// model instead of failing the turn.
func (l *agentLoop) executeTools(ctx context.Context, calls []llms.ToolCall) []llms.ToolCall {
	results := make([]llms.ToolCall, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llms.ToolCall) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil {
					call.Response = fmt.Sprintf("tool %s panicked: %v", call.Name, recovered)
					call.IsError = true
					results[i] = call
				}
			}()
			results[i] = l.executeTool(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

func (l *agentLoop) executeTool(ctx context.Context, call llms.ToolCall) llms.ToolCall {
	serverID, toolName := splitToolName(call.Name)

	ctx, span := tracer.Start(ctx, "execute tool",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.server_id", serverID),
		),
	)
	defer span.End()

	tool, known := findCatalogTool(l.catalog, call.Name)
	if !known {
		call.Response = fmt.Sprintf("unknown tool %q", call.Name)
		call.IsError = true
		span.SetStatus(codes.Error, call.Response)
		return call
	}

	l.turn.emitter.Emit(events.NewToolStart(toolName, serverID, tool.Description))

	start := time.Now()
	response, err := l.invoke(ctx, tool, toolName, call.Arguments)
	duration := time.Since(start).Seconds()

	errText := ""
	if err != nil {
		errText = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, errText)
		logger.WarnContext(ctx, "tool execution failed",
			"tool", toolName, "serverId", serverID, "error", err)
	}
	l.turn.emitter.Emit(events.NewToolComplete(toolName, serverID, err == nil, duration, errText))

	if err != nil {
		call.Response = fmt.Sprintf("tool %s failed: %s", toolName, errText)
		call.IsError = true
		return call
	}
	call.Response = response
	return call
}

// invoke runs a single catalog tool. Remote results may carry media
// blocks; those become canvas objects right away while the text blocks
// feed back to the model.
func (l *agentLoop) invoke(ctx context.Context, tool catalogTool, toolName, arguments string) (string, error) {
	if tool.serverID == "" {
		return tool.Execute(arguments)
	}

	result, err := l.tools.Call(ctx, tool.serverID, toolName, json.RawMessage(arguments))
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("%s", result.Text())
	}

	artifacts, err := artifactsFromResult(result)
	if err != nil {
		logger.WarnContext(ctx, "dropping unrenderable tool output",
			"tool", toolName, "error", err)
	}
	for _, artifact := range artifacts {
		l.placeArtifact(ctx, artifact)
	}

	text := result.Text()
	if text == "" && len(artifacts) > 0 {
		text = fmt.Sprintf("produced %d canvas object(s)", len(artifacts))
	}
	return text, nil
}

// placeArtifact assigns the artifact a position and streams it. Placement
// is serialized so concurrent tool workers never overlap footprints.
func (l *agentLoop) placeArtifact(ctx context.Context, artifact canvas.Artifact) {
	size := defaultArtifactSize(artifact.Type)

	l.placedMu.Lock()
	position, err := l.layout.Place(ctx, l.placed, size)
	if err != nil {
		logger.WarnContext(ctx, "layout placement failed, using origin",
			"objectId", artifact.ID, "error", err)
		position = canvas.Position{}
	}
	if artifact.SuggestedPosition != nil {
		position = *artifact.SuggestedPosition
	}
	l.placed = append(l.placed, canvas.BoundingBox{Position: position, Size: size})
	l.placedMu.Unlock()

	animateIn := artifact.AnimationHint
	if animateIn == "" {
		animateIn = "fade"
	}
	placement := canvas.Placement{
		ObjectID:  artifact.ID,
		Position:  position,
		AnimateIn: animateIn,
	}

	if l.turn.emitter.Emit(events.NewCanvasObject(artifact, placement)) {
		l.turn.totalObjects.Add(1)
	}
	l.references.Register(artifact, referencePhrases(artifact)...)

	if l.renderer != nil {
		l.renderer.Render(artifact, placement)
	}
}

func defaultArtifactSize(typ canvas.Type) canvas.Size {
	switch typ {
	case canvas.TypeEquation:
		return canvas.Size{Width: 480, Height: 120}
	case canvas.TypeCode:
		return canvas.Size{Width: 640, Height: 360}
	case canvas.TypeNote:
		return canvas.Size{Width: 320, Height: 180}
	case canvas.TypeVideo:
		return canvas.Size{Width: 640, Height: 480}
	}
	return canvas.Size{Width: 480, Height: 360}
}
