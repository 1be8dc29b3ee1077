// Package tools defines the tool executor contract through which the agent
// loop invokes arbitrary asynchronous tools, and the runner that drives one
// assistant message's tool calls to completion.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// Result is the outcome of one successful tool invocation.
type Result struct {
	Content []models.ContentBlock
	Details json.RawMessage
}

// Tool is the executor contract: async execute(call_id, args) → Result.
// An error return is wrapped into a ToolResult message with IsError=true by
// the runner; tools need not construct error ToolResults themselves.
type Tool interface {
	Name() string
	Execute(ctx context.Context, callID string, args json.RawMessage) (Result, error)
}

// Registry is a thread-safe name→Tool lookup, with an optional compiled
// JSON Schema per tool used to validate call arguments before Execute.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register adds or replaces a tool by name, with no argument validation.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	delete(r.schemas, t.Name())
}

// RegisterWithSchema adds or replaces a tool by name and compiles schema
// (a JSON Schema document) to validate every call's arguments against
// before Execute runs.
func (r *Registry) RegisterWithSchema(t Tool, schema []byte) error {
	compiled, err := jsonschema.CompileString(t.Name()+".schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("tools: compile schema for %s: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	r.schemas[t.Name()] = compiled
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// validateArgs checks args against the tool's compiled schema, if one was
// registered. A tool with no schema always validates.
func (r *Registry) validateArgs(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return schema.Validate(decoded)
}

// SteeringPoll is a non-blocking poll for queued user messages; an empty
// return means nothing pending.
type SteeringPoll func() []models.Message

// Outcome is the result of running every tool call in one assistant message.
type Outcome struct {
	ToolResults             []models.Message
	SteeringMessages        []models.Message
	Aborted                 bool
	ExecutedCount           int
	ExecutedTotalDurationMs int64
}

const (
	textSkippedAbort     = "Skipped due to abort signal."
	textSkippedSteering  = "Skipped due to queued user message."
	textToolNotFound     = "Tool %s not found"
	textExecutionAborted = "Tool execution aborted"
)

func toolResultMessage(callID, name, text string, details json.RawMessage, isError bool) models.Message {
	return models.NewToolResultMessage(callID, name, []models.ContentBlock{models.TextBlock(text)}, details, isError, time.Now())
}

// Run iterates the tool-call blocks of the most recent assistant message in
// order, invoking each registered tool, racing its execution against ctx
// cancellation, and polling steering after each successful call. emit
// receives ToolExecutionStart/ToolExecutionEnd/MessageStart/MessageEnd
// AgentEvents as they occur. metrics is optional.
func Run(ctx context.Context, registry *Registry, calls []models.ContentBlock, emit func(models.AgentEvent), steeringPoll SteeringPoll, metrics *observability.Metrics) Outcome {
	var out Outcome

	for i, call := range calls {
		if ctx.Err() != nil {
			for j := i; j < len(calls); j++ {
				out.ToolResults = append(out.ToolResults, skipRemaining(calls[j], textSkippedAbort, emit))
			}
			out.Aborted = true
			return out
		}

		emit(models.AgentEvent{
			Kind:   models.AgentEventToolExecutionStart,
			CallID: call.ID,
			Name:   call.Name,
			Args:   []byte(call.Arguments),
		})

		start := time.Now()
		var resultMsg models.Message
		var isError bool
		var aborted bool
		var executed bool

		tool, ok := registry.Get(call.Name)
		switch {
		case !ok:
			resultMsg = toolResultMessage(call.ID, call.Name, fmt.Sprintf(textToolNotFound, call.Name), nil, true)
			isError = true
		default:
			if err := registry.validateArgs(call.Name, call.Arguments); err != nil {
				resultMsg = toolResultMessage(call.ID, call.Name, fmt.Sprintf("invalid arguments: %s", err), nil, true)
				isError = true
			} else {
				resultMsg, isError, aborted = execute(ctx, tool, call)
				executed = true
			}
		}

		durationMs := time.Since(start).Milliseconds()
		emit(models.AgentEvent{
			Kind:       models.AgentEventToolExecutionEnd,
			CallID:     call.ID,
			Name:       call.Name,
			Result:     &resultMsg,
			IsError:    isError,
			DurationMs: durationMs,
		})
		if metrics != nil {
			status := "success"
			if isError {
				status = "error"
			}
			metrics.RecordToolExecution(call.Name, status, float64(durationMs)/1000)
		}
		emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &resultMsg})
		emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &resultMsg})

		out.ToolResults = append(out.ToolResults, resultMsg)
		if executed {
			out.ExecutedCount++
			out.ExecutedTotalDurationMs += durationMs
		}

		if aborted {
			out.Aborted = true
			return out
		}

		if steeringPoll != nil {
			if pending := steeringPoll(); len(pending) > 0 {
				out.SteeringMessages = pending
				for j := i + 1; j < len(calls); j++ {
					out.ToolResults = append(out.ToolResults, skipRemaining(calls[j], textSkippedSteering, emit))
				}
				return out
			}
		}
	}

	return out
}

func skipRemaining(call models.ContentBlock, text string, emit func(models.AgentEvent)) models.Message {
	msg := toolResultMessage(call.ID, call.Name, text, nil, true)
	emit(models.AgentEvent{Kind: models.AgentEventMessageStart, Message: &msg})
	emit(models.AgentEvent{Kind: models.AgentEventMessageEnd, Message: &msg})
	return msg
}

// execute races one tool invocation against ctx cancellation.
func execute(ctx context.Context, tool Tool, call models.ContentBlock) (msg models.Message, isError, aborted bool) {
	done := make(chan struct{})
	var result Result
	var err error

	go func() {
		result, err = tool.Execute(ctx, call.ID, call.Arguments)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return toolResultMessage(call.ID, call.Name, textExecutionAborted, nil, true), true, true
	case <-done:
		if err != nil {
			return toolResultMessage(call.ID, call.Name, err.Error(), nil, true), true, false
		}
		return models.NewToolResultMessage(call.ID, call.Name, result.Content, result.Details, false, time.Now()), false, false
	}
}
