package models

import "time"

// AgentEventKind identifies the kind of AgentEvent.
//
// Design principles carried over from the wider event model: a single Kind
// discriminator with optional payload fields, forward-compatible by adding
// fields rather than renaming or removing them.
type AgentEventKind string

const (
	AgentEventAgentStart         AgentEventKind = "agent_start"
	AgentEventTurnStart          AgentEventKind = "turn_start"
	AgentEventMessageStart       AgentEventKind = "message_start"
	AgentEventMessageUpdate      AgentEventKind = "message_update"
	AgentEventMessageEnd         AgentEventKind = "message_end"
	AgentEventToolExecutionStart AgentEventKind = "tool_execution_start"
	AgentEventToolExecutionEnd   AgentEventKind = "tool_execution_end"
	AgentEventTurnEnd            AgentEventKind = "turn_end"
	AgentEventRetryScheduled     AgentEventKind = "retry_scheduled"
	AgentEventModelFallback      AgentEventKind = "model_fallback"
	AgentEventMetrics            AgentEventKind = "metrics"
	AgentEventAgentEnd           AgentEventKind = "agent_end"
)

// AgentEvent is the event vocabulary pushed onto the agent loop's outbound
// EventStream. Exactly one group of fields below is populated for a given
// Kind; callers pattern-match on Kind rather than relying on dynamic
// dispatch.
type AgentEvent struct {
	Kind AgentEventKind `json:"kind"`
	Time time.Time      `json:"time"`

	// MessageStart / MessageUpdate / MessageEnd
	Message       *Message               `json:"message,omitempty"`
	AssistantEvent *AssistantMessageEvent `json:"assistant_event,omitempty"`

	// ToolExecutionStart
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   []byte `json:"args,omitempty"`

	// ToolExecutionEnd (in addition to CallID/Name above)
	Result     *Message `json:"result,omitempty"`
	IsError    bool     `json:"is_error,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`

	// TurnEnd
	ToolResults []Message `json:"tool_results,omitempty"`

	// RetryScheduled
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	DelayMs     int64  `json:"delay_ms,omitempty"`
	RetryError  string `json:"retry_error,omitempty"`
	RetryReason string `json:"retry_reason,omitempty"`

	// ModelFallback
	FromProvider string `json:"from_provider,omitempty"`
	FromModel    string `json:"from_model,omitempty"`
	ToProvider   string `json:"to_provider,omitempty"`
	ToModel      string `json:"to_model,omitempty"`

	// Metrics
	Metrics *AgentRunMetrics `json:"metrics,omitempty"`

	// AgentEnd
	Messages []Message `json:"messages,omitempty"`
}

// AgentRunMetrics holds monotone counters accumulated over one agent loop
// run. All arithmetic saturates at the representable maximum rather than
// overflowing.
type AgentRunMetrics struct {
	AssistantRequestCount   int64 `json:"assistant_request_count"`
	AssistantRequestTotalMs int64 `json:"assistant_request_total_ms"`
	ToolExecutionCount      int64 `json:"tool_execution_count"`
	ToolExecutionTotalMs    int64 `json:"tool_execution_total_ms"`
	RetryCount              int64 `json:"retry_count"`
}

// Add accumulates other into the receiver and returns the result,
// saturating at math.MaxInt64 rather than overflowing.
func (m AgentRunMetrics) Add(other AgentRunMetrics) AgentRunMetrics {
	return AgentRunMetrics{
		AssistantRequestCount:   saturatingAddInt64(m.AssistantRequestCount, other.AssistantRequestCount),
		AssistantRequestTotalMs: saturatingAddInt64(m.AssistantRequestTotalMs, other.AssistantRequestTotalMs),
		ToolExecutionCount:      saturatingAddInt64(m.ToolExecutionCount, other.ToolExecutionCount),
		ToolExecutionTotalMs:    saturatingAddInt64(m.ToolExecutionTotalMs, other.ToolExecutionTotalMs),
		RetryCount:              saturatingAddInt64(m.RetryCount, other.RetryCount),
	}
}

func saturatingAddInt64(a, b int64) int64 {
	sum := a + b
	if sum < a || sum < b {
		return int64(^uint64(0) >> 1)
	}
	return sum
}
