// Package models provides the core data types shared by the agent loop,
// provider adapters, and session journal.
package models

import (
	"encoding/json"
	"time"
)

// Role discriminates the three arms of Message.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// StopReason is the terminal classification of an assistant message.
type StopReason string

const (
	StopReasonStop     StopReason = "stop"
	StopReasonLength   StopReason = "length"
	StopReasonToolUse  StopReason = "tool_use"
	StopReasonError    StopReason = "error"
	StopReasonAborted  StopReason = "aborted"
)

// BlockKind discriminates the arms of ContentBlock.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockImage    BlockKind = "image"
	BlockThinking BlockKind = "thinking"
	BlockToolCall BlockKind = "tool_call"
)

// ContentBlock is a tagged variant over the content a message can carry.
// Only the fields relevant to Kind are populated; callers pattern-match
// on Kind rather than relying on dynamic dispatch.
type ContentBlock struct {
	Kind BlockKind `json:"kind"`

	// Text / Thinking
	Text      string `json:"text,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Image
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// ToolCall
	ID              string          `json:"id,omitempty"`
	Name            string          `json:"name,omitempty"`
	Arguments       json.RawMessage `json:"arguments,omitempty"`
	ThoughtSignature string         `json:"thought_signature,omitempty"`
}

// TextBlock constructs a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ImageBlock constructs an image content block.
func ImageBlock(data, mimeType string) ContentBlock {
	return ContentBlock{Kind: BlockImage, Data: data, MimeType: mimeType}
}

// ThinkingBlock constructs a thinking content block.
func ThinkingBlock(thinking, signature string) ContentBlock {
	return ContentBlock{Kind: BlockThinking, Text: thinking, Signature: signature}
}

// ToolCallBlock constructs a tool-call content block.
func ToolCallBlock(id, name string, arguments json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolCall, ID: id, Name: name, Arguments: arguments}
}

// Cost holds the dollar cost attributable to a single request, broken down
// by token category. All fields are non-negative.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
	Total      float64 `json:"total"`
}

// Usage records token accounting for a single assistant response.
// TotalTokens is authoritative when reported by the provider; otherwise it
// is the sum of the four categories below. Overflow classification must
// compare Input+CacheRead against the model's context window, never Input
// alone.
type Usage struct {
	Input       int  `json:"input"`
	Output      int  `json:"output"`
	CacheRead   int  `json:"cache_read"`
	CacheWrite  int  `json:"cache_write"`
	TotalTokens int  `json:"total_tokens"`
	Cost        Cost `json:"cost"`
}

// Add accumulates another Usage into the receiver and returns the result,
// saturating at the representable maximum rather than overflowing.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		Input:       saturatingAddInt(u.Input, o.Input),
		Output:      saturatingAddInt(u.Output, o.Output),
		CacheRead:   saturatingAddInt(u.CacheRead, o.CacheRead),
		CacheWrite:  saturatingAddInt(u.CacheWrite, o.CacheWrite),
		TotalTokens: saturatingAddInt(u.TotalTokens, o.TotalTokens),
		Cost: Cost{
			Input:      u.Cost.Input + o.Cost.Input,
			Output:     u.Cost.Output + o.Cost.Output,
			CacheRead:  u.Cost.CacheRead + o.Cost.CacheRead,
			CacheWrite: u.Cost.CacheWrite + o.Cost.CacheWrite,
			Total:      u.Cost.Total + o.Cost.Total,
		},
	}
}

func saturatingAddInt(a, b int) int {
	sum := a + b
	if sum < a || sum < b { // overflowed
		return int(^uint(0) >> 1)
	}
	return sum
}

// ModelRef identifies a model within the catalogue by its (provider, id) key.
type ModelRef struct {
	Provider string `json:"provider"`
	ID       string `json:"id"`
}

func (r ModelRef) String() string {
	return r.Provider + "/" + r.ID
}

// Message is a tagged variant over the three kinds of conversation entries:
// user input, assistant output, and tool results. Only the fields relevant
// to Role are populated.
type Message struct {
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// User: Content holds free text or an ordered block sequence (Text/Image).
	// Assistant: Content holds Text/Thinking/ToolCall blocks.
	// ToolResult: Content holds Text/Image blocks.
	Content []ContentBlock `json:"content"`

	// Assistant-only fields.
	API          string     `json:"api,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	ModelID      string     `json:"model_id,omitempty"`
	Usage        Usage      `json:"usage,omitempty"`
	StopReason   StopReason `json:"stop_reason,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`

	// ToolResult-only fields.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`
}

// NewUserMessage constructs a User message from plain text.
func NewUserMessage(text string, timestamp time.Time) Message {
	return Message{
		Role:      RoleUser,
		Timestamp: timestamp,
		Content:   []ContentBlock{TextBlock(text)},
	}
}

// NewUserMessageBlocks constructs a User message from an ordered block sequence.
func NewUserMessageBlocks(blocks []ContentBlock, timestamp time.Time) Message {
	return Message{Role: RoleUser, Timestamp: timestamp, Content: blocks}
}

// NewToolResultMessage constructs a ToolResult message.
func NewToolResultMessage(toolCallID, toolName string, content []ContentBlock, details json.RawMessage, isError bool, timestamp time.Time) Message {
	return Message{
		Role:       RoleToolResult,
		Timestamp:  timestamp,
		Content:    content,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Details:    details,
		IsError:    isError,
	}
}

// ToolCalls returns the ToolCall blocks of an Assistant message, in order.
func (m Message) ToolCalls() []ContentBlock {
	if m.Role != RoleAssistant {
		return nil
	}
	var calls []ContentBlock
	for _, b := range m.Content {
		if b.Kind == BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

// HasToolCalls reports whether an Assistant message requested any tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls()) > 0
}

// Text concatenates all Text blocks of a message, in order.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Kind == BlockText {
			out += b.Text
		}
	}
	return out
}
