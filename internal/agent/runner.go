// Package agent implements the agent loop: the state machine that drives
// turns, tool execution, retry/fallback, steering, and follow-up on top of
// the provider adapters and tool registry.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent/providers"
	internalmodels "github.com/haasonsaas/agentcore/internal/models"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// RetryConfig parameterizes the assistant request runner's backoff.
type RetryConfig struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
}

// RetryDelayMs computes the sleep duration before attempt+1, given the
// zero-based attempt that just failed (1-indexed per the runner's attempt
// counter). initial_backoff_ms == 0 disables backoff entirely.
func RetryDelayMs(retry RetryConfig, attempt int) int64 {
	if retry.InitialBackoffMs == 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 62 {
		shift = 62
	}
	delay := saturatingShiftLeft(retry.InitialBackoffMs, shift)
	if retry.MaxBackoffMs > 0 && delay > retry.MaxBackoffMs {
		delay = retry.MaxBackoffMs
	}
	return delay
}

// saturatingShiftLeft computes base*2^shift, saturating at MaxInt64 rather
// than overflowing.
func saturatingShiftLeft(base int64, shift int) int64 {
	const maxInt64 = int64(math.MaxInt64)
	for i := 0; i < shift; i++ {
		if base > maxInt64/2 {
			return maxInt64
		}
		base *= 2
	}
	return base
}

// RunnerConfig configures one assistant request runner invocation.
type RunnerConfig struct {
	Model          models.Model
	FallbackModels []models.Model
	Retry          RetryConfig
	Adapter        providers.Adapter
	ConvertToLLM   func(ctx context.Context, messages []models.Message) []models.Message
	SystemPrompt   string
	Tools          []providers.ToolDescriptor
	APIKey         string

	// Metrics is optional; when set, request/retry/fallback outcomes are
	// recorded to it.
	Metrics *observability.Metrics
}

// dedupModelList builds the attempt-indexed model list: the primary model
// followed by fallbacks, deduplicated by (provider, id), primary wins ties.
func dedupModelList(primary models.Model, fallbacks []models.Model) []models.Model {
	seen := map[models.ModelRef]bool{primary.Ref(): true}
	out := []models.Model{primary}
	for _, m := range fallbacks {
		ref := m.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true
		out = append(out, m)
	}
	return out
}

// selectModel implements models[min(attempt-1, len-1)].
func selectModel(list []models.Model, attempt int) models.Model {
	idx := attempt - 1
	if idx >= len(list) {
		idx = len(list) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return list[idx]
}

// AssistantRequestRunner wraps one logical "ask the model" call with retry
// and fallback across a deduplicated model list.
type AssistantRequestRunner struct {
	cfg RunnerConfig
}

// NewAssistantRequestRunner constructs a runner from cfg.
func NewAssistantRequestRunner(cfg RunnerConfig) *AssistantRequestRunner {
	return &AssistantRequestRunner{cfg: cfg}
}

// Run drives one assistant request to completion. It appends the resulting
// assistant message to the tail of *messages, emits MessageStart/
// MessageUpdate/MessageEnd and, on retry, RetryScheduled/ModelFallback
// through emit. It always returns a terminal assistant Message: provider
// failures that exhaust max_attempts, and context cancellation, are reified
// as assistant messages with StopReason Error/Aborted rather than returned
// as Go errors — the agent loop treats every outcome as a normal turn end.
func (r *AssistantRequestRunner) Run(ctx context.Context, messages *[]models.Message, emit func(models.AgentEvent)) (models.Message, models.AgentRunMetrics) {
	modelList := dedupModelList(r.cfg.Model, r.cfg.FallbackModels)
	maxAttempts := r.cfg.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var metrics models.AgentRunMetrics
	var prevModel models.Model
	havePrevModel := false

	convert := r.cfg.ConvertToLLM
	if convert == nil {
		convert = func(_ context.Context, ms []models.Message) []models.Message { return ms }
	}

	for attempt := 1; ; attempt++ {
		model := selectModel(modelList, attempt)
		if havePrevModel && model.Ref() != prevModel.Ref() {
			emit(models.AgentEvent{
				Kind:         models.AgentEventModelFallback,
				FromProvider: prevModel.Provider,
				FromModel:    prevModel.ID,
				ToProvider:   model.Provider,
				ToModel:      model.ID,
			})
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.RecordFallback(prevModel.Provider, model.Provider)
			}
		}
		prevModel, havePrevModel = model, true

		if ctx.Err() != nil {
			msg := abortedMessage()
			*messages = append(*messages, msg)
			emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
			emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
			return msg, metrics
		}

		reqCtx := providers.RequestContext{
			SystemPrompt: r.cfg.SystemPrompt,
			Messages:     convert(ctx, *messages),
			Tools:        r.cfg.Tools,
		}

		metrics.AssistantRequestCount++
		attemptStart := time.Now()
		stream := r.cfg.Adapter.Stream(ctx, model, reqCtx, providers.StreamOptions{APIKey: r.cfg.APIKey})

		startSeen := false
		tailIndex := -1
		var terminal *models.Message
		var preStartErr string
		var failed bool

	drain:
		for {
			ev, ok := stream.Next(ctx)
			if !ok {
				if ctx.Err() != nil {
					msg := abortedMessage()
					if startSeen {
						(*messages)[tailIndex] = msg
					} else {
						*messages = append(*messages, msg)
						emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
					}
					emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
					return msg, metrics
				}
				if !startSeen {
					preStartErr = "provider stream ended without a terminal event"
					failed = true
				} else {
					// Transport truncation after Start: synthesize a protocol error
					// as the terminal message rather than retrying.
					errMsg := errorMessage(model, "provider stream ended without a terminal event")
					terminal = &errMsg
				}
				break drain
			}

			switch ev.Kind {
			case models.AssistantEventStart:
				if !startSeen {
					startSeen = true
					placeholder := models.Message{}
					if ev.Partial != nil {
						placeholder = *ev.Partial
					}
					*messages = append(*messages, placeholder)
					tailIndex = len(*messages) - 1
					emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &placeholder})
				}
			case models.AssistantEventDone:
				msg := models.Message{}
				if ev.Message != nil {
					msg = *ev.Message
				}
				terminal = &msg
			case models.AssistantEventError:
				if !startSeen && providers.ErrorKind(ev.ErrorKind).IsRetryable() {
					preStartErr = ev.Error
					failed = true
					break drain
				}
				msg := ev.Message
				if msg == nil {
					m := errorMessage(model, ev.Error)
					msg = &m
				}
				terminal = msg
			default:
				if startSeen && ev.Partial != nil {
					(*messages)[tailIndex] = *ev.Partial
					e := ev
					emit(models.AgentEvent{Kind: models.AgentEventMessageUpdate, Message: ev.Partial, AssistantEvent: &e})
				}
			}

			if terminal != nil {
				break drain
			}
		}

		elapsedMs := time.Since(attemptStart).Milliseconds()
		metrics.AssistantRequestTotalMs += elapsedMs

		if terminal != nil {
			if startSeen {
				(*messages)[tailIndex] = *terminal
			} else {
				*messages = append(*messages, *terminal)
			}
			emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: terminal})
			if r.cfg.Metrics != nil {
				status := "success"
				if terminal.StopReason == models.StopReasonError {
					status = "error"
				}
				r.cfg.Metrics.RecordLLMRequest(model.Provider, model.ID, status, float64(elapsedMs)/1000, terminal.Usage.Input, terminal.Usage.Output)
				contextTokens := terminal.Usage.TotalTokens
				if contextTokens == 0 {
					contextTokens = terminal.Usage.Input + terminal.Usage.CacheRead
				}
				if contextTokens > 0 {
					r.cfg.Metrics.RecordContextWindow(model.Provider, model.ID, contextTokens)
				}
			}
			return *terminal, metrics
		}

		if !failed {
			// Defensive: the drain loop exited without a terminal result and
			// without marking failure (should not happen given the cases above).
			failed = true
			if preStartErr == "" {
				preStartErr = "provider adapter produced no terminal event"
			}
		}

		if attempt >= maxAttempts {
			msg := errorMessage(model, preStartErr)
			*messages = append(*messages, msg)
			emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
			emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
			return msg, metrics
		}

		delayMs := RetryDelayMs(r.cfg.Retry, attempt)
		reason := internalmodels.CoerceToFailoverError(errors.New(preStartErr), model.Provider, model.ID).Reason
		metrics.RetryCount++
		emit(models.AgentEvent{
			Kind:        models.AgentEventRetryScheduled,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			DelayMs:     delayMs,
			RetryError:  preStartErr,
			RetryReason: reason,
		})
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.RecordRetry(model.Provider, reason)
		}

		if delayMs > 0 {
			timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				msg := abortedMessage()
				*messages = append(*messages, msg)
				emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
				emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
				return msg, metrics
			case <-timer.C:
			}
		}
	}
}

// abortedMessage is the synthetic assistant message produced when
// cancellation is observed at a suspension point: empty content, zero
// usage, StopReasonAborted.
func abortedMessage() models.Message {
	return models.Message{
		Role:         models.RoleAssistant,
		Timestamp:    time.Now(),
		StopReason:   models.StopReasonAborted,
		ErrorMessage: "Request was aborted",
	}
}

// errorMessage reifies a provider failure as a terminal assistant message
// whose ErrorMessage is a compact JSON rendering of the error.
func errorMessage(model models.Model, reason string) models.Message {
	payload, _ := json.Marshal(struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	}{Kind: "provider_error", Message: reason})

	return models.Message{
		Role:         models.RoleAssistant,
		Timestamp:    time.Now(),
		Provider:     model.Provider,
		ModelID:      model.ID,
		API:          model.API,
		StopReason:   models.StopReasonError,
		ErrorMessage: string(payload),
	}
}
