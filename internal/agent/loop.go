package agent

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/eventstream"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Errors surfaced synchronously by Continue, per agent_loop_continue's
// validation — these never appear as turn outcomes inside a run.
var (
	ErrEmptyContext                = errors.New("agent loop: context has no messages")
	ErrCannotContinueFromAssistant = errors.New("agent loop: cannot continue a run whose last message is an assistant message")
)

// Context is the mutable conversation state a Loop run operates on: the
// system prompt, the message history, and (implicitly, via Config) the
// tool set. Messages is mutated in place by Run/Continue.
type Context struct {
	SystemPrompt string
	Messages     []models.Message
}

// Config wires a Loop to its collaborators: the model + fallback catalogue,
// retry policy, provider adapter, tool registry, and the steering/follow-up
// polls that let an operator inject messages mid-run.
type Config struct {
	Model          models.Model
	FallbackModels []models.Model
	Retry          RetryConfig
	Adapter        providers.Adapter
	ConvertToLLM   func(ctx context.Context, messages []models.Message) []models.Message
	Tools          []providers.ToolDescriptor
	ToolRegistry   *tools.Registry
	APIKey         string

	SteeringPoll tools.SteeringPoll
	FollowUpPoll func() []models.Message

	// Metrics is optional; when set, the loop and its runner record
	// Prometheus observations for requests, retries, fallbacks, tool
	// executions, and run outcomes.
	Metrics *observability.Metrics
}

// Loop drives the turn/tool-call/retry/fallback state machine described by
// the agent runtime's design: one assistant request plus any tool calls it
// makes and their results constitutes a turn; a run may span multiple
// turns, and (via follow-up) multiple outer iterations.
type Loop struct {
	cfg Config
}

// New constructs a Loop from cfg.
func New(cfg Config) *Loop {
	return &Loop{cfg: cfg}
}

// agentStreamTerminal recognises AgentEnd as the run's terminal event,
// latching the messages produced during the run.
func agentStreamTerminal(ev models.AgentEvent) ([]models.Message, bool) {
	if ev.Kind == models.AgentEventAgentEnd {
		return ev.Messages, true
	}
	return nil, false
}

// Stream is the concrete EventStream instantiation a Loop run produces.
type Stream = eventstream.EventStream[models.AgentEvent, []models.Message]

// Run starts a new agent loop run with the given initial prompts (zero or
// more user messages) against agentCtx, returning a handle whose Next()
// yields AgentEvents until the loop ends and whose Result() yields the
// messages produced by this call.
func (l *Loop) Run(ctx context.Context, prompts []models.Message, agentCtx *Context) *Stream {
	stream := eventstream.New[models.AgentEvent, []models.Message](agentStreamTerminal)
	go l.run(ctx, prompts, agentCtx, stream)
	return stream
}

// Continue validates that agentCtx can resume without a new user prompt —
// its message list must be non-empty, and if its last message is an
// assistant message the caller should invoke Run directly against a fresh
// turn instead. It then runs the loop with an empty prompt list.
func (l *Loop) Continue(ctx context.Context, agentCtx *Context) (*Stream, error) {
	if len(agentCtx.Messages) == 0 {
		return nil, ErrEmptyContext
	}
	if agentCtx.Messages[len(agentCtx.Messages)-1].Role == models.RoleAssistant {
		return nil, ErrCannotContinueFromAssistant
	}
	return l.Run(ctx, nil, agentCtx), nil
}

func (l *Loop) run(ctx context.Context, prompts []models.Message, agentCtx *Context, stream *Stream) {
	var produced []models.Message
	var metrics models.AgentRunMetrics
	outcome := models.StopReasonStop

	push := func(ev models.AgentEvent) {
		ev.Time = time.Now()
		_ = stream.Push(ctx, ev)
	}

	appendMessage := func(msg models.Message) {
		agentCtx.Messages = append(agentCtx.Messages, msg)
		produced = append(produced, msg)
		push(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
		push(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
	}

	runner := NewAssistantRequestRunner(RunnerConfig{
		Model:          l.cfg.Model,
		FallbackModels: l.cfg.FallbackModels,
		Retry:          l.cfg.Retry,
		Adapter:        l.cfg.Adapter,
		ConvertToLLM:   l.cfg.ConvertToLLM,
		SystemPrompt:   agentCtx.SystemPrompt,
		Tools:          l.cfg.Tools,
		APIKey:         l.cfg.APIKey,
		Metrics:        l.cfg.Metrics,
	})

	steeringPoll := func() []models.Message {
		if l.cfg.SteeringPoll == nil {
			return nil
		}
		return l.cfg.SteeringPoll()
	}
	followUpPoll := func() []models.Message {
		if l.cfg.FollowUpPoll == nil {
			return nil
		}
		return l.cfg.FollowUpPoll()
	}

	push(models.AgentEvent{Kind: models.AgentEventAgentStart})
	push(models.AgentEvent{Kind: models.AgentEventTurnStart})

	for _, p := range prompts {
		appendMessage(p)
	}
	pending := steeringPoll()

	firstTurn := true

outer:
	for {
	turn:
		for {
			if !firstTurn {
				push(models.AgentEvent{Kind: models.AgentEventTurnStart})
			}
			firstTurn = false

			for _, p := range pending {
				appendMessage(p)
			}
			pending = nil

			if ctx.Err() != nil {
				msg := abortedMessage()
				appendMessage(msg)
				push(models.AgentEvent{Kind: models.AgentEventTurnEnd, Message: &msg})
				outcome = models.StopReasonAborted
				break outer
			}

			message, turnMetrics := runner.Run(ctx, &agentCtx.Messages, push)
			produced = append(produced, message)
			metrics = metrics.Add(turnMetrics)
			outcome = message.StopReason

			if message.StopReason == models.StopReasonError || message.StopReason == models.StopReasonAborted {
				push(models.AgentEvent{Kind: models.AgentEventTurnEnd, Message: &message})
				break outer
			}

			if message.HasToolCalls() {
				toolOutcome := tools.Run(ctx, l.cfg.ToolRegistry, message.ToolCalls(), push, steeringPoll, l.cfg.Metrics)
				metrics.ToolExecutionCount = saturatingAddInt64(metrics.ToolExecutionCount, int64(toolOutcome.ExecutedCount))
				metrics.ToolExecutionTotalMs = saturatingAddInt64(metrics.ToolExecutionTotalMs, toolOutcome.ExecutedTotalDurationMs)

				agentCtx.Messages = append(agentCtx.Messages, toolOutcome.ToolResults...)
				produced = append(produced, toolOutcome.ToolResults...)

				push(models.AgentEvent{Kind: models.AgentEventTurnEnd, Message: &message, ToolResults: toolOutcome.ToolResults})

				if toolOutcome.Aborted {
					outcome = models.StopReasonAborted
					break outer
				}

				if len(toolOutcome.SteeringMessages) > 0 {
					pending = toolOutcome.SteeringMessages
				} else {
					pending = steeringPoll()
				}
				// A tool-use turn always continues: the assistant must see
				// the tool results (and any injected steering message)
				// before the turn can end.
			} else {
				push(models.AgentEvent{Kind: models.AgentEventTurnEnd, Message: &message})
				pending = steeringPoll()
				if len(pending) == 0 {
					break turn
				}
			}
		}

		followUp := followUpPoll()
		if len(followUp) == 0 {
			break outer
		}
		pending = followUp
	}

	push(models.AgentEvent{Kind: models.AgentEventMetrics, Metrics: &metrics})
	push(models.AgentEvent{Kind: models.AgentEventAgentEnd, Messages: produced})
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.RecordRunOutcome(string(outcome))
	}
	stream.End(produced)
}

func saturatingAddInt64(a, b int64) int64 {
	sum := a + b
	if sum < a || sum < b {
		return int64(^uint64(0) >> 1)
	}
	return sum
}
