package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

func drain(t *testing.T, stream *Stream) ([]models.AgentEvent, []models.Message) {
	t.Helper()
	ctx := context.Background()
	var events []models.AgentEvent
	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}
		events = append(events, ev)
	}
	result, ok := stream.Result(ctx)
	if !ok {
		t.Fatal("expected a terminal result")
	}
	return events, result
}

func eventKinds(events []models.AgentEvent) []models.AgentEventKind {
	kinds := make([]models.AgentEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

// TestBasicLifecycle matches spec scenario 1: a single prompt, no tools, a
// Done stream with one Text block.
func TestBasicLifecycle(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonStop, Message: textDoneMessage("m1", "world", models.StopReasonStop)},
		}},
	}}

	loop := New(Config{
		Model:   models.Model{ID: "m1", Provider: "test"},
		Adapter: adapter,
		Retry:   RetryConfig{MaxAttempts: 1},
	})

	agentCtx := &Context{SystemPrompt: "you are a test"}
	stream := loop.Run(context.Background(), []models.Message{models.NewUserMessage("hello", time.Now())}, agentCtx)

	events, result := drain(t, stream)

	if len(result) != 2 {
		t.Fatalf("expected 2 produced messages, got %d", len(result))
	}

	kinds := eventKinds(events)
	if kinds[0] != models.AgentEventAgentStart {
		t.Errorf("expected first event AgentStart, got %s", kinds[0])
	}
	if kinds[len(kinds)-1] != models.AgentEventAgentEnd {
		t.Errorf("expected last event AgentEnd, got %s", kinds[len(kinds)-1])
	}

	var starts, turnStarts, turnEnds int
	for _, k := range kinds {
		switch k {
		case models.AgentEventAgentStart:
			starts++
		case models.AgentEventTurnStart:
			turnStarts++
		case models.AgentEventTurnEnd:
			turnEnds++
		}
	}
	if starts != 1 {
		t.Errorf("expected exactly 1 AgentStart, got %d", starts)
	}
	if turnStarts != turnEnds || turnStarts < 1 {
		t.Errorf("expected #TurnStart == #TurnEnd >= 1, got %d/%d", turnStarts, turnEnds)
	}
}

type echoTool struct {
	text    string
	details json.RawMessage
}

func (e *echoTool) Name() string { return "read" }

func (e *echoTool) Execute(ctx context.Context, callID string, args json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: []models.ContentBlock{models.TextBlock(e.text)}, Details: e.details}, nil
}

// TestToolLoop matches spec scenario 2: one ToolCall round-trip then a
// final text response.
func TestToolLoop(t *testing.T) {
	toolCallArgs := json.RawMessage(`{"path":"README.md"}`)

	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonToolUse, Message: &models.Message{
				Role:       models.RoleAssistant,
				StopReason: models.StopReasonToolUse,
				Content:    []models.ContentBlock{models.ToolCallBlock("call_1", "read", toolCallArgs)},
			}},
		}},
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonStop, Message: textDoneMessage("m1", "done", models.StopReasonStop)},
		}},
	}}

	registry := tools.NewRegistry()
	registry.Register(&echoTool{text: "file-content", details: json.RawMessage(`{"bytes":12}`)})

	loop := New(Config{
		Model:        models.Model{ID: "m1", Provider: "test"},
		Adapter:      adapter,
		Retry:        RetryConfig{MaxAttempts: 1},
		ToolRegistry: registry,
	})

	agentCtx := &Context{}
	stream := loop.Run(context.Background(), []models.Message{models.NewUserMessage("read file", time.Now())}, agentCtx)

	events, result := drain(t, stream)

	if len(result) != 4 {
		t.Fatalf("expected 4 produced messages (user, assistant-tooluse, tool-result, assistant-text), got %d", len(result))
	}

	var turnStarts, toolStarts, toolEnds int
	for _, ev := range events {
		switch ev.Kind {
		case models.AgentEventTurnStart:
			turnStarts++
		case models.AgentEventToolExecutionStart:
			toolStarts++
		case models.AgentEventToolExecutionEnd:
			toolEnds++
		}
	}
	if turnStarts != 2 {
		t.Errorf("expected 2 TurnStarts, got %d", turnStarts)
	}
	if toolStarts != 1 || toolEnds != 1 {
		t.Errorf("expected 1 ToolExecutionStart/End, got %d/%d", toolStarts, toolEnds)
	}
}

// TestSteeringSkip matches spec scenario 3: two tool calls, steering fires
// after the first succeeds, the second is synthesized as skipped.
func TestSteeringSkip(t *testing.T) {
	args := json.RawMessage(`{}`)
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonToolUse, Message: &models.Message{
				Role:       models.RoleAssistant,
				StopReason: models.StopReasonToolUse,
				Content: []models.ContentBlock{
					models.ToolCallBlock("call_1", "t", args),
					models.ToolCallBlock("call_2", "t", args),
				},
			}},
		}},
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonStop, Message: textDoneMessage("m1", "pausing for your message", models.StopReasonStop)},
		}},
	}}

	registry := tools.NewRegistry()
	registry.Register(&echoTool{text: "ok"})

	polled := false
	steering := func() []models.Message {
		if !polled {
			polled = true
			return []models.Message{models.NewUserMessage("interrupt", time.Now())}
		}
		return nil
	}

	loop := New(Config{
		Model:        models.Model{ID: "m1", Provider: "test"},
		Adapter:      adapter,
		Retry:        RetryConfig{MaxAttempts: 1},
		ToolRegistry: registry,
		SteeringPoll: steering,
	})

	agentCtx := &Context{}
	stream := loop.Run(context.Background(), []models.Message{models.NewUserMessage("go", time.Now())}, agentCtx)
	_, result := drain(t, stream)

	var skipped *models.Message
	var steeringSeen bool
	for i := range result {
		m := result[i]
		if m.Role == models.RoleToolResult && m.ToolCallID == "call_2" {
			skipped = &result[i]
		}
		if m.Role == models.RoleUser && m.Text() == "interrupt" {
			steeringSeen = true
		}
	}

	if skipped == nil || !skipped.IsError || skipped.Text() != "Skipped due to queued user message." {
		t.Fatalf("expected call_2 skipped with steering text, got %+v", skipped)
	}
	if !steeringSeen {
		t.Error("expected steering message to appear in produced messages")
	}
}

func TestContinueRejectsEmptyContext(t *testing.T) {
	loop := New(Config{})
	_, err := loop.Continue(context.Background(), &Context{})
	if err != ErrEmptyContext {
		t.Errorf("expected ErrEmptyContext, got %v", err)
	}
}

func TestContinueRejectsAssistantTail(t *testing.T) {
	loop := New(Config{})
	agentCtx := &Context{Messages: []models.Message{{Role: models.RoleAssistant}}}
	_, err := loop.Continue(context.Background(), agentCtx)
	if err != ErrCannotContinueFromAssistant {
		t.Errorf("expected ErrCannotContinueFromAssistant, got %v", err)
	}
}
