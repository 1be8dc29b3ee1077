package models

// AssistantEventKind discriminates the arms of AssistantMessageEvent.
type AssistantEventKind string

const (
	AssistantEventStart           AssistantEventKind = "start"
	AssistantEventTextStart       AssistantEventKind = "text_start"
	AssistantEventTextDelta       AssistantEventKind = "text_delta"
	AssistantEventTextEnd         AssistantEventKind = "text_end"
	AssistantEventThinkingStart   AssistantEventKind = "thinking_start"
	AssistantEventThinkingDelta   AssistantEventKind = "thinking_delta"
	AssistantEventThinkingEnd     AssistantEventKind = "thinking_end"
	AssistantEventToolcallStart   AssistantEventKind = "toolcall_start"
	AssistantEventToolcallDelta   AssistantEventKind = "toolcall_delta"
	AssistantEventToolcallEnd     AssistantEventKind = "toolcall_end"
	AssistantEventDone            AssistantEventKind = "done"
	AssistantEventError           AssistantEventKind = "error"
)

// AssistantMessageEvent is the uniform vocabulary a provider adapter emits
// while streaming one assistant response. Only the fields relevant to Kind
// are populated; consumers pattern-match on Kind.
//
// In every partial-bearing variant, Partial is the cumulative message up to
// and including this event — it is self-contained and safe to render
// directly.
type AssistantMessageEvent struct {
	Kind AssistantEventKind `json:"kind"`

	// Start
	// (Partial below carries the empty/initial message.)

	// *Start / *Delta / *End carry a content-block index.
	Index int `json:"index,omitempty"`

	// TextDelta / ThinkingDelta
	Delta string `json:"delta,omitempty"`

	// *End carries the finalized block content.
	Content string `json:"content,omitempty"`

	// ToolcallStart
	ToolCallID   string `json:"tool_call_id,omitempty"`
	ToolCallName string `json:"tool_call_name,omitempty"`

	// ToolcallDelta / ToolcallEnd: cumulative raw JSON argument buffer and
	// the most recent successful lenient parse (empty object on failure).
	ArgumentsRaw    string `json:"arguments_raw,omitempty"`
	ArgumentsParsed []byte `json:"arguments_parsed,omitempty"`

	// Done
	Reason  StopReason `json:"reason,omitempty"`
	Message *Message   `json:"message,omitempty"`

	// Error
	Error string `json:"error,omitempty"`

	// ErrorKind classifies Error for the runner's retry decision (mirrors
	// providers.ErrorKind as a plain string so this package doesn't import
	// the provider package).
	ErrorKind string `json:"error_kind,omitempty"`

	// Partial is the cumulative message snapshot, present on every
	// *Start/*Delta/*End variant (and on Start).
	Partial *Message `json:"partial,omitempty"`
}
