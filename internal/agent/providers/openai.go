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

// OpenAIProvider implements the Adapter contract for OpenAI's responses API,
// consumed as Server-Sent Events.
type OpenAIProvider struct {
	BaseProvider
	BaseURL string
}

// NewOpenAIProvider constructs an OpenAI adapter against the public API.
func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{
		BaseProvider: NewBaseProvider("openai"),
		BaseURL:      "https://api.openai.com/v1",
	}
}

func (p *OpenAIProvider) Stream(ctx context.Context, model models.Model, reqCtx RequestContext, opts StreamOptions) *AssistantStream {
	stream := newAssistantStream()
	go p.run(ctx, model, reqCtx, opts, stream)
	return stream
}

type openAIItemWire struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Status  string `json:"status,omitempty"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

type openAIUsageWire struct {
	InputTokens        int `json:"input_tokens"`
	OutputTokens       int `json:"output_tokens"`
	TotalTokens        int `json:"total_tokens"`
	InputTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"input_tokens_details"`
}

type openAISSEEvent struct {
	Type string `json:"type"`

	Item        *openAIItemWire `json:"item,omitempty"`
	ItemID      string          `json:"item_id,omitempty"`
	OutputIndex *int            `json:"output_index,omitempty"`
	Delta       string          `json:"delta,omitempty"`
	CallID      string          `json:"call_id,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`

	Response *struct {
		Status string           `json:"status"`
		Usage  *openAIUsageWire `json:"usage,omitempty"`
	} `json:"response,omitempty"`

	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIBlockState struct {
	kind         models.BlockKind
	text         strings.Builder
	argsBuf      strings.Builder
	toolCallID   string
	toolCallName string
}

func openAIUsage(u openAIUsageWire) models.Usage {
	total := u.TotalTokens
	if total == 0 {
		total = u.InputTokens + u.OutputTokens
	}
	return models.Usage{
		Input:       u.InputTokens - u.InputTokensDetails.CachedTokens,
		Output:      u.OutputTokens,
		CacheRead:   u.InputTokensDetails.CachedTokens,
		TotalTokens: total,
	}
}

func (p *OpenAIProvider) run(ctx context.Context, model models.Model, reqCtx RequestContext, opts StreamOptions, stream *AssistantStream) {
	msg := &models.Message{
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		API:       "openai-responses",
		Provider:  p.Name(),
		ModelID:   model.ID,
	}

	apiKey, err := resolveAPIKey(p.Name(), opts.APIKey)
	if err != nil {
		p.emitError(ctx, stream, msg, AuthMissing(p.Name(), model.ID, err.Error()))
		return
	}

	body, err := openAIRequestBody(model, reqCtx)
	if err != nil {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, "failed to build request body: "+err.Error()))
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		p.emitError(ctx, stream, msg, Transport(p.Name(), model.ID, err))
		return
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+apiKey)

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

	blocks := map[int]*openAIBlockState{}
	byItemID := map[string]int{}
	byCallID := map[string]int{}
	sawTerminal := false

	resolveIndex := func(ev openAISSEEvent) (int, bool) {
		if ev.ItemID != "" {
			if idx, ok := byItemID[ev.ItemID]; ok {
				return idx, true
			}
		}
		if ev.CallID != "" {
			if idx, ok := byCallID[ev.CallID]; ok {
				return idx, true
			}
		}
		return 0, false
	}

	parseErr := scanSSE(resp.Body, func(frame sseFrame) error {
		var ev openAISSEEvent
		if err := json.Unmarshal([]byte(frame.data), &ev); err != nil {
			return fmt.Errorf("malformed openai SSE frame: %w", err)
		}

		switch ev.Type {
		case "response.output_item.added":
			if ev.Item == nil {
				return fmt.Errorf("response.output_item.added missing item")
			}
			index := len(msg.Content)
			var state openAIBlockState
			var block models.ContentBlock
			var eventKind models.AssistantEventKind

			switch ev.Item.Type {
			case "function_call":
				state.kind = models.BlockToolCall
				state.toolCallID = ev.Item.CallID
				state.toolCallName = ev.Item.Name
				block = models.ContentBlock{Kind: models.BlockToolCall, ID: ev.Item.CallID, Name: ev.Item.Name, Arguments: json.RawMessage("{}")}
				eventKind = models.AssistantEventToolcallStart
				if ev.Item.CallID != "" {
					byCallID[ev.Item.CallID] = index
				}
			default: // "message"
				state.kind = models.BlockText
				block = models.ContentBlock{Kind: models.BlockText}
				eventKind = models.AssistantEventTextStart
			}
			if ev.Item.ID != "" {
				byItemID[ev.Item.ID] = index
			}
			blocks[index] = &state
			msg.Content = appendAt(msg.Content, index, block)

			_ = stream.Push(ctx, models.AssistantMessageEvent{
				Kind:         eventKind,
				Index:        index,
				ToolCallID:   state.toolCallID,
				ToolCallName: state.toolCallName,
				Partial:      snapshot(msg),
			})

		case "response.output_text.delta", "response.refusal.delta":
			index, ok := resolveIndex(ev)
			if !ok {
				return fmt.Errorf("%s: unresolved item_id %q", ev.Type, ev.ItemID)
			}
			state := blocks[index]
			state.text.WriteString(ev.Delta)
			msg.Content[index].Text = state.text.String()
			_ = stream.Push(ctx, models.AssistantMessageEvent{
				Kind:    models.AssistantEventTextDelta,
				Index:   index,
				Delta:   ev.Delta,
				Partial: snapshot(msg),
			})

		case "response.function_call_arguments.delta", "response.function_call_arguments.done":
			index, ok := resolveIndex(ev)
			if !ok {
				return fmt.Errorf("%s: unresolved call_id %q / item_id %q", ev.Type, ev.CallID, ev.ItemID)
			}
			state := blocks[index]
			increment := ev.Delta
			if increment == "" {
				increment = ev.Arguments
			}
			state.argsBuf.WriteString(increment)
			msg.Content[index].Arguments = lenientParseJSON(state.argsBuf.String())
			_ = stream.Push(ctx, models.AssistantMessageEvent{
				Kind:         models.AssistantEventToolcallDelta,
				Index:        index,
				Delta:        increment,
				ArgumentsRaw: state.argsBuf.String(),
				Partial:      snapshot(msg),
			})

		case "response.output_item.done":
			if ev.Item == nil {
				return fmt.Errorf("response.output_item.done missing item")
			}
			index, ok := byItemID[ev.Item.ID]
			if !ok {
				return fmt.Errorf("response.output_item.done: unresolved item_id %q", ev.Item.ID)
			}
			state := blocks[index]
			var eventKind models.AssistantEventKind
			var content string
			switch state.kind {
			case models.BlockToolCall:
				eventKind = models.AssistantEventToolcallEnd
				content = string(msg.Content[index].Arguments)
			default:
				eventKind = models.AssistantEventTextEnd
				content = msg.Content[index].Text
			}
			_ = stream.Push(ctx, models.AssistantMessageEvent{
				Kind:    eventKind,
				Index:   index,
				Content: content,
				Partial: snapshot(msg),
			})

		case "response.completed", "response.failed":
			sawTerminal = true
			if ev.Response == nil {
				return fmt.Errorf("%s missing response", ev.Type)
			}
			if ev.Response.Usage != nil {
				msg.Usage = openAIUsage(*ev.Response.Usage)
			}
			msg.StopReason = openAIStopReason(ev.Response.Status)
			if msg.HasToolCalls() && ev.Response.Status == "completed" {
				msg.StopReason = models.StopReasonToolUse
			}
			if ev.Type == "response.failed" {
				return fmt.Errorf("response.failed: status=%s", ev.Response.Status)
			}

		case "error":
			errMsg := "openai stream error"
			if ev.Error != nil {
				errMsg = ev.Error.Message
			}
			return fmt.Errorf("%s", errMsg)

		default:
			// Unrecognised lifecycle/no-op events (response.created,
			// response.in_progress, etc.) are ignored.
		}
		return nil
	})

	if parseErr != nil {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, parseErr.Error()))
		return
	}
	if !sawTerminal {
		p.emitError(ctx, stream, msg, Protocol(p.Name(), model.ID, "stream ended without response.completed"))
		return
	}

	final := *msg
	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventDone, Reason: final.StopReason, Message: &final})
	stream.End(final)
}

func openAIStopReason(status string) models.StopReason {
	switch status {
	case "completed":
		return models.StopReasonStop
	case "incomplete":
		return models.StopReasonLength
	case "failed", "cancelled":
		return models.StopReasonError
	default:
		return models.StopReasonStop
	}
}

func (p *OpenAIProvider) emitError(ctx context.Context, stream *AssistantStream, msg *models.Message, perr *ProviderError) {
	msg.StopReason = models.StopReasonError
	msg.ErrorMessage = perr.Error()
	final := *msg
	_ = stream.Push(ctx, models.AssistantMessageEvent{Kind: models.AssistantEventError, Error: perr.Error(), ErrorKind: string(perr.Kind), Message: &final})
	stream.End(final)
}

func openAIRequestBody(model models.Model, reqCtx RequestContext) ([]byte, error) {
	type wireContentItem struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}
	type wireInputItem struct {
		Type    string            `json:"type"`
		Role    string            `json:"role,omitempty"`
		Content []wireContentItem `json:"content,omitempty"`

		// function_call_output shape
		CallID string `json:"call_id,omitempty"`
		Output string `json:"output,omitempty"`
	}
	type wireTool struct {
		Type        string          `json:"type"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	}
	type wireRequest struct {
		Model        string          `json:"model"`
		Instructions string          `json:"instructions,omitempty"`
		Input        []wireInputItem `json:"input"`
		Tools        []wireTool      `json:"tools,omitempty"`
		Stream       bool            `json:"stream"`
	}

	req := wireRequest{Model: model.ID, Instructions: reqCtx.SystemPrompt, Stream: true}
	for _, m := range reqCtx.Messages {
		switch m.Role {
		case models.RoleToolResult:
			req.Input = append(req.Input, wireInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: m.Text()})
		case models.RoleUser:
			req.Input = append(req.Input, wireInputItem{Type: "message", Role: "user", Content: []wireContentItem{{Type: "input_text", Text: m.Text()}}})
		default:
			req.Input = append(req.Input, wireInputItem{Type: "message", Role: "assistant", Content: []wireContentItem{{Type: "output_text", Text: m.Text()}}})
		}
	}
	for _, t := range reqCtx.Tools {
		req.Tools = append(req.Tools, wireTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return json.Marshal(req)
}
