package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brightboard/tutor-core/core/events"
	"github.com/brightboard/tutor-core/core/llms"
	"github.com/brightboard/tutor-core/core/mcp"
)

type scriptedResponse struct {
	chunks []any // string fragments and llms.ToolCall requests
	err    error
	block  bool
}

type fakeLLM struct {
	mu           sync.Mutex
	responses    []scriptedResponse
	invocations  int
	instructions []string
	histories    [][]llms.Message
	toolLists    [][]llms.Tool
}

func (f *fakeLLM) PromptWithStream(_ context.Context, instructions string, history []llms.Message, tools []llms.Tool) llms.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.instructions = append(f.instructions, instructions)
	f.histories = append(f.histories, history)
	f.toolLists = append(f.toolLists, tools)

	var response scriptedResponse
	if f.invocations < len(f.responses) {
		response = f.responses[f.invocations]
	}
	f.invocations++
	return &fakeStream{response: response}
}

func (f *fakeLLM) invocationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invocations
}

type fakeStream struct {
	response scriptedResponse
}

func (s *fakeStream) Chunks(ctx context.Context) func(func(llms.StreamChunk, error) bool) {
	return func(yield func(llms.StreamChunk, error) bool) {
		for _, chunk := range s.response.chunks {
			switch v := chunk.(type) {
			case string:
				if !yield(fakeContentChunk{text: v}, nil) {
					return
				}
			case llms.ToolCall:
				if !yield(fakeToolCallChunk{call: v}, nil) {
					return
				}
			}
		}
		if s.response.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		if s.response.err != nil {
			yield(nil, s.response.err)
		}
	}
}

type fakeContentChunk struct{ text string }

func (fakeContentChunk) FinishReason() *string { return nil }
func (c fakeContentChunk) Content() string     { return c.text }

type fakeToolCallChunk struct{ call llms.ToolCall }

func (fakeToolCallChunk) FinishReason() *string     { return nil }
func (c fakeToolCallChunk) ToolCall() llms.ToolCall { return c.call }

type fakeToolSource struct {
	mu      sync.Mutex
	tools   map[string][]mcp.ToolDescription
	results map[string]*mcp.Result
	errs    map[string]error
	calls   []string
}

func (f *fakeToolSource) ServerIDs() []string {
	ids := make([]string, 0, len(f.tools))
	for id := range f.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeToolSource) ListTools(_ context.Context, serverID string) ([]mcp.ToolDescription, error) {
	return f.tools[serverID], nil
}

func (f *fakeToolSource) Call(_ context.Context, serverID, tool string, _ json.RawMessage) (*mcp.Result, error) {
	key := serverID + "/" + tool
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()

	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if result, ok := f.results[key]; ok {
		return result, nil
	}
	return &mcp.Result{}, nil
}

func (f *fakeToolSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func collectEvents(t *testing.T, handle *TurnHandle) []events.Event {
	t.Helper()

	var collected []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-handle.Events():
			if !ok {
				return collected
			}
			collected = append(collected, event)
		case <-timeout:
			t.Fatalf("turn did not settle; got %d events so far", len(collected))
		}
	}
}

func eventTypes(collected []events.Event) []events.Type {
	types := make([]events.Type, 0, len(collected))
	for _, event := range collected {
		types = append(types, event.Type())
	}
	return types
}

func TestTurnStreamsTextAndCompletes(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"Force equals mass times acceleration. ", "Check the units. "}},
	}}
	orchestrator, err := NewOrchestrator(llm, WithSynthesizer(&fakeSynthesizer{}))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "What is Newton's second law?")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}

	collected := collectEvents(t, handle)
	if len(collected) < 2 {
		t.Fatalf("expected at least metadata and terminal, got %v", eventTypes(collected))
	}

	metadata, ok := collected[0].(events.Metadata)
	if !ok {
		t.Fatalf("expected first event to be metadata, got %T", collected[0])
	}
	if metadata.TurnID != handle.ID() || metadata.SessionID != "session-1" {
		t.Fatalf("unexpected metadata: %+v", metadata)
	}

	var textIndices, audioIndices []int
	for _, event := range collected {
		switch e := event.(type) {
		case events.TextChunk:
			textIndices = append(textIndices, e.SentenceIndex)
		case events.AudioChunk:
			audioIndices = append(audioIndices, e.SentenceIndex)
		}
	}
	if len(textIndices) != 2 {
		t.Fatalf("expected 2 text chunks, got %v", textIndices)
	}
	for i, index := range textIndices {
		if index != i {
			t.Fatalf("expected strictly increasing indices from 0, got %v", textIndices)
		}
	}
	if len(audioIndices) != 2 {
		t.Fatalf("expected 2 audio chunks, got %v", audioIndices)
	}

	terminal, ok := collected[len(collected)-1].(events.Complete)
	if !ok {
		t.Fatalf("expected terminal complete, got %T", collected[len(collected)-1])
	}
	if !terminal.Success || terminal.TotalSentences != 2 {
		t.Fatalf("unexpected terminal: %+v", terminal)
	}
	if handle.Status() != TurnStatusCompleted {
		t.Fatalf("expected completed status, got %s", handle.Status())
	}
}

func TestToolRoundStreamsCanvasObjectBeforeLaterNarration(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{
			"Let me draw that. ",
			llms.ToolCall{ID: "call-1", Name: "manim__render", Arguments: `{"prompt":"pythagoras"}`},
		}},
		{chunks: []any{"As you can see in this animation, the squares line up. "}},
	}}
	tools := &fakeToolSource{
		tools: map[string][]mcp.ToolDescription{
			"manim": {{Name: "render", Description: "Render an animation"}},
		},
		results: map[string]*mcp.Result{
			"manim/render": {Content: []mcp.ContentBlock{
				{Type: "video", MimeType: "video/mp4", Data: []byte{1, 2, 3}},
				{Type: "text", Text: "rendered pythagoras"},
			}},
		},
	}
	orchestrator, err := NewOrchestrator(llm, WithToolSource(tools))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Show me the Pythagorean theorem")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	var toolStart *events.ToolStart
	var toolComplete *events.ToolComplete
	canvasAt, lastTextAt, referenceAt := -1, -1, -1
	var objectID string
	for i, event := range collected {
		switch e := event.(type) {
		case events.ToolStart:
			toolStart = &e
		case events.ToolComplete:
			toolComplete = &e
		case events.CanvasObject:
			canvasAt = i
			objectID = e.Object.ID
		case events.TextChunk:
			lastTextAt = i
		case events.Reference:
			referenceAt = i
			if e.ObjectID == "" {
				t.Fatal("reference missing object id")
			}
		}
	}

	if toolStart == nil || toolStart.ToolName != "render" || toolStart.ServerID != "manim" {
		t.Fatalf("unexpected tool start: %+v", toolStart)
	}
	if toolComplete == nil || !toolComplete.Success || toolComplete.Error != "" {
		t.Fatalf("unexpected tool complete: %+v", toolComplete)
	}
	if canvasAt == -1 {
		t.Fatal("expected a canvas object event")
	}
	if lastTextAt < canvasAt {
		t.Fatal("expected narration after the tool round to follow the canvas object")
	}
	if referenceAt == -1 {
		t.Fatal("expected a reference event for the mentioned animation")
	}

	terminal, ok := collected[len(collected)-1].(events.Complete)
	if !ok {
		t.Fatalf("expected terminal complete, got %T", collected[len(collected)-1])
	}
	if terminal.TotalObjects != 1 || terminal.TotalReferences != 1 {
		t.Fatalf("unexpected totals: %+v", terminal)
	}
	_ = objectID

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.histories) != 2 {
		t.Fatalf("expected 2 model invocations, got %d", len(llm.histories))
	}
	second := llm.histories[1]
	last := second[len(second)-1]
	if last.Role != llms.MessageRoleTool || last.ToolCallID != "call-1" {
		t.Fatalf("expected tool result message, got %+v", last)
	}
	if !strings.Contains(last.Content, "rendered pythagoras") {
		t.Fatalf("expected tool output fed back to the model, got %q", last.Content)
	}
}

func TestToolFailureIsFedBackAndTurnCompletes(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{llms.ToolCall{ID: "call-1", Name: "python__run", Arguments: `{"code":"1/0"}`}}},
		{chunks: []any{"That computation is not defined. "}},
	}}
	tools := &fakeToolSource{
		tools: map[string][]mcp.ToolDescription{
			"python": {{Name: "run", Description: "Run python"}},
		},
		errs: map[string]error{"python/run": fmt.Errorf("division by zero")},
	}
	orchestrator, err := NewOrchestrator(llm, WithToolSource(tools))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "What is 1/0?")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	var toolComplete *events.ToolComplete
	for _, event := range collected {
		if e, ok := event.(events.ToolComplete); ok {
			toolComplete = &e
		}
	}
	if toolComplete == nil || toolComplete.Success || toolComplete.Error == "" {
		t.Fatalf("expected failed tool completion, got %+v", toolComplete)
	}

	if _, ok := collected[len(collected)-1].(events.Complete); !ok {
		t.Fatalf("tool failure must not fail the turn, got terminal %T", collected[len(collected)-1])
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	second := llm.histories[1]
	last := second[len(second)-1]
	if last.Role != llms.MessageRoleTool || !strings.Contains(last.Content, "division by zero") {
		t.Fatalf("expected failure fed back to the model, got %+v", last)
	}
}

func TestModelFailureEndsTurnWithError(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"Starting to answer. "}, err: fmt.Errorf("rate limited")},
	}}
	orchestrator, err := NewOrchestrator(llm)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Anything")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	terminal, ok := collected[len(collected)-1].(events.Error)
	if !ok {
		t.Fatalf("expected error terminal, got %T", collected[len(collected)-1])
	}
	if !strings.Contains(terminal.Message, "rate limited") {
		t.Fatalf("unexpected error message: %q", terminal.Message)
	}
	if handle.Status() != TurnStatusErrored {
		t.Fatalf("expected errored status, got %s", handle.Status())
	}

	// Narration streamed before the failure stays in the collected events.
	var sawText bool
	for _, event := range collected {
		if _, ok := event.(events.TextChunk); ok {
			sawText = true
		}
	}
	if !sawText {
		t.Fatal("expected partial narration before the failure")
	}
}

func TestCancelInterruptsTurnAndIsIdempotent(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"The mitochondria is the powerhouse of the cell. "}, block: true},
	}}
	orchestrator, err := NewOrchestrator(llm)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Tell me about cells")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}

	var collected []events.Event
	for event := range handle.Events() {
		collected = append(collected, event)
		if _, ok := event.(events.TextChunk); ok {
			if !handle.Cancel() {
				t.Fatal("expected first cancel to take effect")
			}
			if handle.Cancel() {
				t.Fatal("expected second cancel to be a no-op")
			}
		}
	}

	terminal, ok := collected[len(collected)-1].(events.Interrupted)
	if !ok {
		t.Fatalf("expected interrupted terminal, got %T", collected[len(collected)-1])
	}
	if terminal.Code != events.InterruptionCodeUserStop {
		t.Fatalf("expected user_stop code, got %q", terminal.Code)
	}
	if !strings.Contains(terminal.Message, "powerhouse of the cell") {
		t.Fatalf("expected interrupted message to keep streamed narration, got %q", terminal.Message)
	}
	if handle.Status() != TurnStatusInterrupted {
		t.Fatalf("expected interrupted status, got %s", handle.Status())
	}
}

func TestIterationBudgetIsNotFatal(t *testing.T) {
	request := llms.ToolCall{ID: "call", Name: "python__run", Arguments: `{}`}
	responses := make([]scriptedResponse, 6)
	for i := range responses {
		responses[i] = scriptedResponse{chunks: []any{
			"Still working on it. ",
			llms.ToolCall{ID: fmt.Sprintf("%s-%d", request.ID, i), Name: request.Name, Arguments: request.Arguments},
		}}
	}
	llm := &fakeLLM{responses: responses}
	tools := &fakeToolSource{
		tools: map[string][]mcp.ToolDescription{
			"python": {{Name: "run", Description: "Run python"}},
		},
	}
	orchestrator, err := NewOrchestrator(llm, WithToolSource(tools))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Loop forever")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	if _, ok := collected[len(collected)-1].(events.Complete); !ok {
		t.Fatalf("expected the exhausted turn to complete, got %T", collected[len(collected)-1])
	}
	if llm.invocationCount() != maxAgentIterations {
		t.Fatalf("expected %d model invocations, got %d", maxAgentIterations, llm.invocationCount())
	}
	if tools.callCount() != maxAgentIterations-1 {
		t.Fatalf("expected %d tool rounds, got %d", maxAgentIterations-1, tools.callCount())
	}
}

func TestNewQuestionSupersedesRunningTurn(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"First answer underway. "}, block: true},
		{chunks: []any{"Second answer. "}},
	}}
	orchestrator, err := NewOrchestrator(llm)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	first, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "First question")
	if err != nil {
		t.Fatalf("failed to submit first question: %v", err)
	}

	// Wait for the first turn's narration so it is mid-stream when
	// superseded.
	var firstEvents []events.Event
	for event := range first.Events() {
		firstEvents = append(firstEvents, event)
		if _, ok := event.(events.TextChunk); ok {
			break
		}
	}

	second, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Second question")
	if err != nil {
		t.Fatalf("failed to submit second question: %v", err)
	}

	for event := range first.Events() {
		firstEvents = append(firstEvents, event)
	}
	terminal, ok := firstEvents[len(firstEvents)-1].(events.Interrupted)
	if !ok {
		t.Fatalf("expected first turn interrupted, got %T", firstEvents[len(firstEvents)-1])
	}
	if terminal.Code != events.InterruptionCodeSuperseded {
		t.Fatalf("expected superseded code, got %q", terminal.Code)
	}

	secondEvents := collectEvents(t, second)
	if _, ok := secondEvents[len(secondEvents)-1].(events.Complete); !ok {
		t.Fatalf("expected second turn to complete, got %T", secondEvents[len(secondEvents)-1])
	}
}

func TestStopByTurnID(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{{block: true}}}
	orchestrator, err := NewOrchestrator(llm)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Question")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}

	if !orchestrator.Stop(handle.ID()) {
		t.Fatal("expected stop to take effect")
	}
	if orchestrator.Stop(handle.ID()) {
		t.Fatal("expected repeated stop to be a no-op")
	}
	if orchestrator.Stop("no-such-turn") {
		t.Fatal("expected stop of unknown turn to be a no-op")
	}

	collected := collectEvents(t, handle)
	if _, ok := collected[len(collected)-1].(events.Interrupted); !ok {
		t.Fatalf("expected interrupted terminal, got %T", collected[len(collected)-1])
	}
}

func TestBrainSelectionRestrictsToolCatalog(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"Algebra it is. "}},
	}}
	tools := &fakeToolSource{
		tools: map[string][]mcp.ToolDescription{
			"algebra":   {{Name: "solve", Description: "Solve an equation"}},
			"chemistry": {{Name: "draw_molecule", Description: "Draw a molecule"}},
		},
	}
	selector := NewKeywordBrainSelector(
		Brain{Type: "general", Name: "General Tutor"},
		[]Brain{{Type: "math", Name: "Math Tutor", ServerIDs: []string{"algebra"}}},
		map[string][]string{"math": {"equation", "algebra"}},
	)
	orchestrator, err := NewOrchestrator(llm,
		WithToolSource(tools), WithBrainSelector(selector))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "Solve this equation for x")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	var selected *events.BrainSelected
	for _, event := range collected {
		if e, ok := event.(events.BrainSelected); ok {
			selected = &e
		}
	}
	if selected == nil || selected.BrainType != "math" {
		t.Fatalf("expected math brain selection, got %+v", selected)
	}
	if selected.Confidence <= 0 || selected.Reasoning == "" {
		t.Fatalf("expected confidence and reasoning, got %+v", selected)
	}

	llm.mu.Lock()
	defer llm.mu.Unlock()
	for _, tool := range llm.toolLists[0] {
		if strings.HasPrefix(tool.Name, "chemistry__") {
			t.Fatalf("chemistry tools must not be offered to the math brain, got %q", tool.Name)
		}
	}
}

func TestCachedIntroIsEmittedFirst(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"Here is the answer. "}},
	}}
	store := NewKeywordIntroStore(map[string][]string{"math": {"integral"}})
	store.Add(CachedIntro{Category: "math", Text: "Great question, give me a second.", Audio: []byte{9, 9}})

	orchestrator, err := NewOrchestrator(llm, WithIntroStore(store))
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "What is an integral?")
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collected := collectEvents(t, handle)

	if len(collected) < 2 {
		t.Fatalf("expected intro after metadata, got %v", eventTypes(collected))
	}
	intro, ok := collected[1].(events.CachedIntro)
	if !ok {
		t.Fatalf("expected cached intro right after metadata, got %T", collected[1])
	}
	if intro.Category != "math" || len(intro.Audio) == 0 {
		t.Fatalf("unexpected intro: %+v", intro)
	}
}

func TestContextBundleSeedsModelConversation(t *testing.T) {
	llm := &fakeLLM{responses: []scriptedResponse{
		{chunks: []any{"Exactly, and it scales quadratically. "}},
	}}
	orchestrator, err := NewOrchestrator(llm)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}

	bundle := ContextBundle{
		Summary: "Alex is preparing for a kinematics exam and struggles with units.",
		Exchanges: []Exchange{
			{Question: "What is velocity?", Answer: "The rate of change of position."},
		},
	}
	handle, err := orchestrator.SubmitQuestion(context.Background(), "session-1", "And kinetic energy?",
		WithContextBundle(bundle))
	if err != nil {
		t.Fatalf("failed to submit question: %v", err)
	}
	collectEvents(t, handle)

	llm.mu.Lock()
	defer llm.mu.Unlock()
	if len(llm.histories) != 1 {
		t.Fatalf("expected a single invocation, got %d", len(llm.histories))
	}

	history := llm.histories[0]
	if len(history) != 3 {
		t.Fatalf("expected prior exchange plus question, got %d messages", len(history))
	}
	if history[0].Role != llms.MessageRoleUser || history[0].Content != "What is velocity?" {
		t.Fatalf("unexpected first message: %+v", history[0])
	}
	if history[1].Role != llms.MessageRoleAssistant || history[1].Content != "The rate of change of position." {
		t.Fatalf("unexpected second message: %+v", history[1])
	}
	if history[2].Role != llms.MessageRoleUser || history[2].Content != "And kinetic energy?" {
		t.Fatalf("unexpected final message: %+v", history[2])
	}

	if !strings.Contains(llm.instructions[0], bundle.Summary) {
		t.Fatalf("expected the summary in the instructions, got %q", llm.instructions[0])
	}
}
