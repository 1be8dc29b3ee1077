package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// AnthropicProvider implements the Adapter contract for Anthropic's
// messages API, consumed as Server-Sent Events.
type AnthropicProvider struct {
	BaseProvider
	BaseURL string
	Version string
}

// NewAnthropicProvider constructs an Anthropic adapter against the public
// API. BaseURL/Version may be overridden for testing or for
// Anthropic-compatible proxies.
func NewAnthropicProvider() *AnthropicProvider {
	return &AnthropicProvider{
		BaseProvider: NewBaseProvider("anthropic"),
		BaseURL:      "https://api.anthropic.com/v1",
		Version:      "2023-06-01",
	}
}

func (p *AnthropicProvider) Stream(ctx context.Context, model models.Model, reqCtx RequestContext, opts StreamOptions) *AssistantStream {
	stream := newAssistantStream()
	go p.run(ctx, model, reqCtx, opts, stream)
	return stream
}

type anthropicContentBlockWire struct {
	Type        string          `json:"type"`
	Text        string          `json:"text,omitempty"`
	Thinking    string          `json:"thinking,omitempty"`
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	ToolUseID   string          `json:"tool_use_id,omitempty"`
}

type anthropicUsageWire struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
}

type anthropicDeltaWire struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	Signature    string `json:"signature,omitempty"`
	PartialJSON  string `json:"partial_json,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
}

type anthropicSSEEvent struct {
	Type string `json:"type"`

	Index *int `json:"index,omitempty"`

	Message *struct {
		ID    string             `json:"id"`
		Model string             `json:"model"`
		Usage anthropicUsageWire `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *anthropicContentBlockWire `json:"content_block,omitempty"`
	Delta        *anthropicDeltaWire        `json:"delta,omitempty"`
	Usage        *anthropicUsageWire        `json:"usage,omitempty"`

	// Non-streaming fallback shape (type:"message"): the whole response in
	// one object instead of an event stream.
	Content    []anthropicContentBlockWire `json:"content,omitempty"`
	StopReason string                      `json:"stop_reason,omitempty"`
	Model      string                      `json:"model,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// anthropicBlockState accumulates the raw deltas for one content block
// while it is in progress.
type anthropicBlockState struct {
	kind         models.BlockKind
	text         strings.Builder
	jsonBuf      strings.Builder
	signature    strings.Builder
	toolCallID   string
	toolCallName string
}

func anthropicStopReason(reason string) models.StopReason {
	switch reason {
	case "end_turn", "stop_sequence", "pause_turn":
		return models.StopReasonStop
	case "max_tokens":
		return models.StopReasonLength
	case "tool_use":
		return models.StopReasonToolUse
	case "refusal", "sensitive":
		return models.StopReasonError
	default:
		return models.StopReasonStop
	}
}

func anthropicUsage(u anthropicUsageWire) models.Usage {
	total := u.InputTokens + u.OutputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
	return models.Usage{
		Input:       u.InputTokens,
		Output:      u.OutputTokens,
		CacheRead:   u.CacheReadInputTokens,
		CacheWrite:  u.CacheCreationInputTokens,
		TotalTokens: total,
	}
}

func (p *AnthropicProvider) run(ctx context.Context, model models.Model, reqCtx RequestContext, opts StreamOptions, stream *AssistantStream) {
	msg := &models.Message{
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		API:       "anthropic-messages",
		Provider:  p.Name(),
		ModelID:   model.ID,
	}

	apiKey, err := resolveAPIKey(p.Name(), opts.APIKey)
	if err != nil {
		p.emitError(ctx, stream, msg, AuthMissing(p.Name(), model.ID, err.Error()))
		return
	}

	body, err := anthropicRequestBody(model, reqCtx)
	if err != nil {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, "failed to build request body: "+err.Error()))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		p.emitError(ctx, stream, msg, Transport(p.Name(), model.ID, err))
		return
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", p.Version)

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		p.emitError(ctx, stream, msg, Transport(p.Name(), model.ID, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		p.emitError(ctx, stream, msg, HTTPError(p.Name(), model.ID, resp.StatusCode, string(respBody)))
		return
	}

	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventStart, Partial: snapshot(msg)})

	if !strings.Contains(resp.Header.Get("content-type"), "text/event-stream") {
		p.handleNonStreaming(ctx, resp.Body, model, stream, msg)
		return
	}

	blocks := map[int]*anthropicBlockState{}
	sawTerminal := false

	parseErr := scanSSE(resp.Body, func(frame sseFrame) error {
		var ev anthropicSSEEvent
		if err := json.Unmarshal([]byte(frame.data), &ev); err != nil {
			return fmt.Errorf("malformed anthropic SSE frame: %w", err)
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				msg.Usage = anthropicUsage(ev.Message.Usage)
			}
		case "content_block_start":
			if ev.Index == nil || ev.ContentBlock == nil {
				return fmt.Errorf("content_block_start missing index/content_block")
			}
			p.startBlock(ctx, stream, msg, blocks, *ev.Index, *ev.ContentBlock)
		case "content_block_delta":
			if ev.Index == nil || ev.Delta == nil {
				return fmt.Errorf("content_block_delta missing index/delta")
			}
			p.applyDelta(ctx, stream, msg, blocks, *ev.Index, *ev.Delta)
		case "content_block_stop":
			if ev.Index == nil {
				return fmt.Errorf("content_block_stop missing index")
			}
			p.stopBlock(ctx, stream, msg, blocks, *ev.Index)
		case "message_delta":
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				msg.StopReason = anthropicStopReason(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				msg.Usage = msg.Usage.Add(anthropicUsage(*ev.Usage))
			}
		case "message_stop":
			sawTerminal = true
		case "ping":
			// no-op keepalive
		default:
			return fmt.Errorf("unknown anthropic event type %q", ev.Type)
		}
		return nil
	})

	if parseErr != nil {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, parseErr.Error()))
		return
	}
	if !sawTerminal {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, "stream ended without message_stop"))
		return
	}
	if msg.StopReason == "" {
		msg.StopReason = models.StopReasonStop
	}

	final := *msg
	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventDone, Reason: final.StopReason, Message: &final})
	stream.End(final)
}

func (p *AnthropicProvider) handleNonStreaming(ctx context.Context, body io.Reader, model models.Model, stream *AssistantStream, msg *models.Message) {
	raw, err := io.ReadAll(body)
	if err != nil {
		p.emitError(ctx, stream, msg, Transport(p.Name(), model.ID, err))
		return
	}
	var ev anthropicSSEEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type != "message" {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, "expected non-streaming message object"))
		return
	}

	for i, block := range ev.Content {
		wire := block
		blocks := map[int]*anthropicBlockState{}
		p.startBlock(ctx, stream, msg, blocks, i, wire)
		switch wire.Type {
		case "text":
			p.applyDelta(ctx, stream, msg, blocks, i, anthropicDeltaWire{Type: "text_delta", Text: wire.Text})
		case "thinking":
			p.applyDelta(ctx, stream, msg, blocks, i, anthropicDeltaWire{Type: "thinking_delta", Thinking: wire.Thinking})
		}
		p.stopBlock(ctx, stream, msg, blocks, i)
	}

	msg.StopReason = anthropicStopReason(ev.StopReason)
	final := *msg
	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventDone, Reason: final.StopReason, Message: &final})
	stream.End(final)
}

func (p *AnthropicProvider) startBlock(ctx context.Context, stream *AssistantStream, msg *models.Message, blocks map[int]*anthropicBlockState, index int, wire anthropicContentBlockWire) {
	var state anthropicBlockState
	var kind models.BlockKind
	var eventKind models.AssistantEventKind

	switch wire.Type {
	case "text":
		kind, eventKind = models.BlockText, models.AssistantEventTextStart
	case "thinking":
		kind, eventKind = models.BlockThinking, models.AssistantEventThinkingStart
	case "tool_use":
		kind, eventKind = models.BlockToolCall, models.AssistantEventToolcallStart
		state.toolCallID = wire.ID
		state.toolCallName = wire.Name
	default:
		kind, eventKind = models.BlockText, models.AssistantEventTextStart
	}
	state.kind = kind
	blocks[index] = &state

	block := models.ContentBlock{Kind: kind}
	if kind == models.BlockToolCall {
		block.ID = wire.ID
		block.Name = wire.Name
		block.Arguments = json.RawMessage("{}")
	}
	msg.Content = appendAt(msg.Content, index, block)

	_ = stream.Push(ctx, models.AssistantMessageEvent{
		Kind:         eventKind,
		Index:        index,
		ToolCallID:   state.toolCallID,
		ToolCallName: state.toolCallName,
		Partial:      snapshot(msg),
	})
}

func (p *AnthropicProvider) applyDelta(ctx context.Context, stream *AssistantStream, msg *models.Message, blocks map[int]*anthropicBlockState, index int, delta anthropicDeltaWire) {
	state := blocks[index]
	if state == nil {
		return
	}

	var eventKind models.AssistantEventKind
	var deltaText string

	switch delta.Type {
	case "text_delta":
		state.text.WriteString(delta.Text)
		msg.Content[index].Text = state.text.String()
		eventKind, deltaText = models.AssistantEventTextDelta, delta.Text
	case "thinking_delta":
		state.text.WriteString(delta.Thinking)
		msg.Content[index].Text = state.text.String()
		eventKind, deltaText = models.AssistantEventThinkingDelta, delta.Thinking
	case "signature_delta":
		state.signature.WriteString(delta.Signature)
		msg.Content[index].Signature = state.signature.String()
		return // signature deltas carry no public AssistantMessageEvent of their own
	case "input_json_delta":
		state.jsonBuf.WriteString(delta.PartialJSON)
		msg.Content[index].Arguments = lenientParseJSON(state.jsonBuf.String())
		eventKind, deltaText = models.AssistantEventToolcallDelta, delta.PartialJSON
	default:
		return
	}

	_ = stream.Push(ctx, models.AssistantMessageEvent{
		Kind:         eventKind,
		Index:        index,
		Delta:        deltaText,
		ArgumentsRaw: state.jsonBuf.String(),
		Partial:      snapshot(msg),
	})
}

func (p *AnthropicProvider) stopBlock(ctx context.Context, stream *AssistantStream, msg *models.Message, blocks map[int]*anthropicBlockState, index int) {
	state := blocks[index]
	if state == nil {
		return
	}
	var eventKind models.AssistantEventKind
	switch state.kind {
	case models.BlockText:
		eventKind = models.AssistantEventTextEnd
	case models.BlockThinking:
		eventKind = models.AssistantEventThinkingEnd
	case models.BlockToolCall:
		eventKind = models.AssistantEventToolcallEnd
	}

	_ = stream.Push(ctx, models.AssistantMessageEvent{
		Kind:    eventKind,
		Index:   index,
		Content: msg.Content[index].Text,
		Partial: snapshot(msg),
	})
}

func (p *AnthropicProvider) emitError(ctx context.Context, stream *AssistantStream, msg *models.Message, perr *ProviderError) {
	msg.StopReason = models.StopReasonError
	msg.ErrorMessage = perr.Error()
	final := *msg
	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventError, Error: perr.Error(), ErrorKind: string(perr.Kind), Message: &final})
	stream.End(final)
}

// snapshot returns a self-contained copy of msg suitable for a partial
// event: independent of future mutation to msg.Content.
func snapshot(msg *models.Message) *models.Message {
	cp := *msg
	cp.Content = append([]models.ContentBlock(nil), msg.Content...)
	return &cp
}

// appendAt grows content to index+1, placing block at index. Anthropic and
// OpenAI both allocate content blocks in increasing index order, so this is
// equivalent to append in practice, but defensive against gaps.
func appendAt(content []models.ContentBlock, index int, block models.ContentBlock) []models.ContentBlock {
	for len(content) <= index {
		content = append(content, models.ContentBlock{})
	}
	content[index] = block
	return content
}

// lenientParseJSON re-parses the cumulative argument buffer, returning an
// empty object on failure so consumers can render incremental forms without
// choking on a truncated mid-stream buffer.
func lenientParseJSON(buf string) json.RawMessage {
	if strings.TrimSpace(buf) == "" {
		return json.RawMessage("{}")
	}
	var v json.RawMessage
	if err := json.Unmarshal([]byte(buf), &v); err != nil {
		return json.RawMessage("{}")
	}
	return v
}

func anthropicRequestBody(model models.Model, reqCtx RequestContext) ([]byte, error) {
	type wireMessage struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}
	type wireTool struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
	}
	type wireRequest struct {
		Model     string        `json:"model"`
		System    string        `json:"system,omitempty"`
		Messages  []wireMessage `json:"messages"`
		Tools     []wireTool    `json:"tools,omitempty"`
		MaxTokens int           `json:"max_tokens"`
		Stream    bool          `json:"stream"`
	}

	req := wireRequest{
		Model:     model.ID,
		System:    reqCtx.SystemPrompt,
		MaxTokens: model.MaxTokens,
		Stream:    true,
	}
	for _, m := range reqCtx.Messages {
		req.Messages = append(req.Messages, wireMessage{
			Role:    anthropicRole(m),
			Content: anthropicContent(m),
		})
	}
	for _, t := range reqCtx.Tools {
		req.Tools = append(req.Tools, wireTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return json.Marshal(req)
}

func anthropicRole(m models.Message) string {
	switch m.Role {
	case models.RoleUser, models.RoleToolResult:
		return "user"
	default:
		return "assistant"
	}
}

func anthropicContent(m models.Message) any {
	type block struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		Source    json.RawMessage `json:"source,omitempty"`
		ID        string          `json:"id,omitempty"`
		Name      string          `json:"name,omitempty"`
		Input     json.RawMessage `json:"input,omitempty"`
		ToolUseID string          `json:"tool_use_id,omitempty"`
		IsError   bool            `json:"is_error,omitempty"`
		Content   any             `json:"content,omitempty"`
	}

	if m.Role == models.RoleToolResult {
		return []block{{
			Type:      "tool_result",
			ToolUseID: m.ToolCallID,
			IsError:   m.IsError,
			Content:   m.Text(),
		}}
	}

	var out []block
	for _, c := range m.Content {
		switch c.Kind {
		case models.BlockText:
			out = append(out, block{Type: "text", Text: c.Text})
		case models.BlockToolCall:
			out = append(out, block{Type: "tool_use", ID: c.ID, Name: c.Name, Input: c.Arguments})
		case models.BlockImage:
			src, _ := json.Marshal(map[string]string{"type": "base64", "media_type": c.MimeType, "data": c.Data})
			out = append(out, block{Type: "image", Source: src})
		}
	}
	return out
}
