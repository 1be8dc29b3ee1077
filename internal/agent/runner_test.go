package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/eventstream"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// scriptedAdapter replays a fixed sequence of events per call, advancing
// through calls []; it fails synchronously (emits a pre-Start Error) for
// calls marked failSynchronously.
type scriptedAdapter struct {
	name  string
	calls []scriptedCall
	next  int
}

type scriptedCall struct {
	failSynchronously bool
	failReason        string
	failKind          providers.ErrorKind
	events            []models.AssistantMessageEvent
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Stream(ctx context.Context, model models.Model, reqCtx providers.RequestContext, opts providers.StreamOptions) *providers.AssistantStream {
	call := a.calls[a.next]
	a.next++

	stream := eventstream.New[models.AssistantMessageEvent, models.Message](func(ev models.AssistantMessageEvent) (models.Message, bool) {
		if ev.Kind == models.AssistantEventDone || ev.Kind == models.AssistantEventError {
			if ev.Message != nil {
				return *ev.Message, true
			}
		}
		return models.Message{}, false
	})

	go func() {
		if call.failSynchronously {
			_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventError, Error: call.failReason, ErrorKind: string(call.failKind)})
			stream.End()
			return
		}
		for _, ev := range call.events {
			_ = stream.Push(ctx, ev)
		}
		stream.End()
	}()

	return stream
}

func textDoneMessage(modelID, text string, stop models.StopReason) *models.Message {
	return &models.Message{
		Role:       models.RoleAssistant,
		ModelID:    modelID,
		StopReason: stop,
		Content:    []models.ContentBlock{models.TextBlock(text)},
	}
}

func TestRunnerBasicSuccess(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventTextStart, Index: 0, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventTextDelta, Index: 0, Delta: "world", Partial: &models.Message{Role: models.RoleAssistant, Content: []models.ContentBlock{models.TextBlock("world")}}},
			{Kind: models.AssistantEventTextEnd, Index: 0, Content: "world", Partial: &models.Message{Role: models.RoleAssistant, Content: []models.ContentBlock{models.TextBlock("world")}}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonStop, Message: textDoneMessage("m1", "world", models.StopReasonStop)},
		}},
	}}

	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:   models.Model{ID: "m1", Provider: "test"},
		Adapter: adapter,
		Retry:   RetryConfig{MaxAttempts: 1},
	})

	var events []models.AgentEvent
	messages := []models.Message{models.NewUserMessage("hello", time.Now())}

	result, metrics := runner.Run(context.Background(), &messages, func(ev models.AgentEvent) { events = append(events, ev) })

	if result.StopReason != models.StopReasonStop {
		t.Fatalf("expected StopReasonStop, got %s", result.StopReason)
	}
	if result.Text() != "world" {
		t.Errorf("expected text 'world', got %q", result.Text())
	}
	if metrics.AssistantRequestCount != 1 {
		t.Errorf("expected 1 assistant request, got %d", metrics.AssistantRequestCount)
	}
	if len(messages) != 2 {
		t.Fatalf("expected context to carry 2 messages (user+assistant), got %d", len(messages))
	}

	var starts, updates, ends int
	for _, ev := range events {
		switch ev.Kind {
		case models.AgentEventMessageStart:
			starts++
		case models.AgentEventMessageUpdate:
			updates++
		case models.AgentEventMessageEnd:
			ends++
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("expected 1 MessageStart/End, got %d/%d", starts, ends)
	}
	if updates == 0 {
		t.Error("expected at least one MessageUpdate")
	}
}

func TestRunnerRetryThenFallbackSucceeds(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{failSynchronously: true, failReason: "primary model unavailable", failKind: providers.ErrorAuthMissing},
		{events: []models.AssistantMessageEvent{
			{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}},
			{Kind: models.AssistantEventDone, Reason: models.StopReasonStop, Message: textDoneMessage("fallback", "fallback success", models.StopReasonStop)},
		}},
	}}

	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:          models.Model{ID: "primary", Provider: "test"},
		FallbackModels: []models.Model{{ID: "fallback", Provider: "test"}},
		Adapter:        adapter,
		Retry:          RetryConfig{MaxAttempts: 2, InitialBackoffMs: 0},
	})

	var events []models.AgentEvent
	messages := []models.Message{}

	result, metrics := runner.Run(context.Background(), &messages, func(ev models.AgentEvent) { events = append(events, ev) })

	if result.ModelID != "fallback" {
		t.Fatalf("expected fallback model to win, got %q", result.ModelID)
	}
	if metrics.RetryCount != 1 {
		t.Errorf("expected retry_count 1, got %d", metrics.RetryCount)
	}

	var sawRetry, sawFallback bool
	for _, ev := range events {
		if ev.Kind == models.AgentEventRetryScheduled {
			sawRetry = true
			if ev.Attempt != 1 || ev.MaxAttempts != 2 {
				t.Errorf("unexpected RetryScheduled fields: %+v", ev)
			}
		}
		if ev.Kind == models.AgentEventModelFallback {
			sawFallback = true
			if ev.FromModel != "primary" || ev.ToModel != "fallback" {
				t.Errorf("unexpected ModelFallback fields: %+v", ev)
			}
		}
	}
	if !sawRetry || !sawFallback {
		t.Errorf("expected both RetryScheduled and ModelFallback events, got retry=%v fallback=%v", sawRetry, sawFallback)
	}
}

// TestRunnerTransportErrorBeforeStartIsTerminal confirms a pre-Start
// failure that isn't credential resolution (transport, HTTP, protocol)
// produces a terminal StopReasonError on the first attempt rather than
// being retried: the request already went out, so retrying the identical
// call against the identical model isn't expected to behave differently.
func TestRunnerTransportErrorBeforeStartIsTerminal(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{
		{failSynchronously: true, failReason: "connection reset", failKind: providers.ErrorTransport},
	}}

	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:   models.Model{ID: "m1", Provider: "test"},
		Adapter: adapter,
		Retry:   RetryConfig{MaxAttempts: 3, InitialBackoffMs: 0},
	})

	var events []models.AgentEvent
	messages := []models.Message{}
	result, metrics := runner.Run(context.Background(), &messages, func(ev models.AgentEvent) { events = append(events, ev) })

	if result.StopReason != models.StopReasonError {
		t.Fatalf("expected StopReasonError on first attempt, got %s", result.StopReason)
	}
	if metrics.RetryCount != 0 {
		t.Errorf("expected no retries for a pre-Start transport error, got %d", metrics.RetryCount)
	}
	for _, ev := range events {
		if ev.Kind == models.AgentEventRetryScheduled {
			t.Errorf("did not expect a RetryScheduled event, got %+v", ev)
		}
	}
}

func TestRunnerAbortBeforeAttempt(t *testing.T) {
	adapter := &scriptedAdapter{name: "test", calls: []scriptedCall{{}}}
	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:   models.Model{ID: "m1", Provider: "test"},
		Adapter: adapter,
		Retry:   RetryConfig{MaxAttempts: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var messages []models.Message
	result, _ := runner.Run(ctx, &messages, func(models.AgentEvent) {})

	if result.StopReason != models.StopReasonAborted {
		t.Fatalf("expected StopReasonAborted, got %s", result.StopReason)
	}
	if result.ErrorMessage != "Request was aborted" {
		t.Errorf("unexpected error message: %q", result.ErrorMessage)
	}
}

// blockingAdapter emits a Start event, then blocks until the caller's ctx
// is cancelled without ever sending a terminal event - modeling an
// in-flight stream that never resolves before an abort.
type blockingAdapter struct{}

func (a *blockingAdapter) Name() string { return "test" }

func (a *blockingAdapter) Stream(ctx context.Context, model models.Model, reqCtx providers.RequestContext, opts providers.StreamOptions) *providers.AssistantStream {
	stream := eventstream.New[models.AssistantMessageEvent, models.Message](func(ev models.AssistantMessageEvent) (models.Message, bool) {
		return models.Message{}, false
	})
	go func() {
		_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventStart, Partial: &models.Message{Role: models.RoleAssistant}})
		<-ctx.Done()
	}()
	return stream
}

func TestRunnerAbortDuringStreaming(t *testing.T) {
	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:   models.Model{ID: "m1", Provider: "test"},
		Adapter: &blockingAdapter{},
		Retry:   RetryConfig{MaxAttempts: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	var messages []models.Message

	var kinds []models.AgentEventKind
	done := make(chan struct{})
	var result models.Message
	go func() {
		result, _ = runner.Run(ctx, &messages, func(ev models.AgentEvent) { kinds = append(kinds, ev.Kind) })
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let the Start event land
	cancel()
	<-done

	if result.StopReason != models.StopReasonAborted {
		t.Fatalf("expected StopReasonAborted, got %s", result.StopReason)
	}
	if len(messages) != 1 {
		t.Fatalf("expected the Start placeholder to be overwritten in place, got %d messages", len(messages))
	}
	if messages[0].StopReason != models.StopReasonAborted {
		t.Errorf("expected the single message to carry StopReasonAborted, got %s", messages[0].StopReason)
	}

	var starts, ends int
	for _, k := range kinds {
		switch k {
		case models.AgentEventMessageStart:
			starts++
		case models.AgentEventMessageEnd:
			ends++
		}
	}
	if starts != 1 || ends != 1 {
		t.Errorf("expected exactly one MessageStart/MessageEnd pair, got %d/%d", starts, ends)
	}
}

func TestRetryDelayMsFormula(t *testing.T) {
	retry := RetryConfig{InitialBackoffMs: 1, MaxBackoffMs: 0}
	if d := RetryDelayMs(retry, 1); d != 1 {
		t.Errorf("attempt 1: expected 1, got %d", d)
	}
	if d := RetryDelayMs(retry, 5); d != 16 {
		t.Errorf("attempt 5: expected 16, got %d", d)
	}

	capped := RetryConfig{InitialBackoffMs: 1000, MaxBackoffMs: 5000}
	if d := RetryDelayMs(capped, 10); d != 5000 {
		t.Errorf("expected capped delay 5000, got %d", d)
	}

	disabled := RetryConfig{InitialBackoffMs: 0}
	if d := RetryDelayMs(disabled, 3); d != 0 {
		t.Errorf("expected 0 when initial backoff is 0, got %d", d)
	}
}

func TestDedupModelListRemovesDuplicates(t *testing.T) {
	primary := models.Model{ID: "m1", Provider: "p"}
	list := dedupModelList(primary, []models.Model{
		{ID: "m1", Provider: "p"}, // duplicate of primary
		{ID: "m2", Provider: "p"},
	})
	if len(list) != 2 {
		t.Fatalf("expected 2 deduplicated models, got %d", len(list))
	}
	if list[0].ID != "m1" || list[1].ID != "m2" {
		t.Errorf("unexpected model order: %+v", list)
	}
}
