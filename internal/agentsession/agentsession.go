// Package agentsession implements the stateful façade that wraps the agent
// loop and the session journal: it persists produced messages, advances a
// model catalogue, and runs auto-compaction (proactively and on context
// overflow).
package agentsession

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/internal/agent/providers"
	"github.com/haasonsaas/agentcore/internal/backoff"
	"github.com/haasonsaas/agentcore/internal/observability"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	summarizationSystemPrompt = "You are a context summarization assistant. Summarize conversation history for another coding assistant."
	summarizationInstruction  = "Summarize the conversation above so another LLM can continue the task. Include: user goal, completed work, current status, and concrete next steps. Preserve exact file paths, commands, and error messages where relevant. Keep it concise."

	// summarizationRetryAttempts bounds the jittered-backoff retry of the
	// internal compaction-summary request; it is independent of the
	// caller's own RetryConfig.
	summarizationRetryAttempts = 2
)

// overflowErrorPatterns are matched case-insensitively against an assistant
// error message to recognise a context-window overflow.
var overflowErrorPatterns = []string{
	"prompt is too long",
	"input is too long for requested model",
	"exceeds the context window",
	"input token count",
	"maximum prompt length",
	"reduce the length of the messages",
	"maximum context length",
	"exceeds the available context size",
	"greater than the context length",
	"context window exceeds limit",
	"exceeded model token limit",
	"context length exceeded",
	"too many tokens",
	"token limit exceeded",
}

// StreamUpdateKind discriminates the arms of StreamUpdate.
type StreamUpdateKind string

const (
	StreamAssistantTextDelta StreamUpdateKind = "assistant_text_delta"
	StreamAssistantLine      StreamUpdateKind = "assistant_line"
	StreamToolLine           StreamUpdateKind = "tool_line"
)

// StreamUpdate is one projected UI-rendering record from a *_streaming call.
type StreamUpdate struct {
	Kind StreamUpdateKind
	Text string
}

// AutoCompactionConfig parameterizes proactive and overflow-triggered
// summarization.
type AutoCompactionConfig struct {
	Enabled            bool
	ReserveTokens      int
	KeepRecentMessages int
	MaxSummaryChars    int
}

// DefaultAutoCompactionConfig mirrors the runtime's stock tuning: disabled
// until a caller opts in, 16K tokens reserved, 8 recent messages kept
// uncompacted, summaries capped at 2000 characters.
func DefaultAutoCompactionConfig() AutoCompactionConfig {
	return AutoCompactionConfig{
		Enabled:            false,
		ReserveTokens:      16384,
		KeepRecentMessages: 8,
		MaxSummaryChars:    2000,
	}
}

// Config wires a Session to its collaborators.
type Config struct {
	Model        models.Model
	SystemPrompt string
	Adapter      providers.Adapter
	ConvertToLLM func(ctx context.Context, messages []models.Message) []models.Message
	Tools        []providers.ToolDescriptor
	ToolRegistry *tools.Registry
	APIKey       string

	SteeringPoll tools.SteeringPoll
	FollowUpPoll func() []models.Message

	Metrics *observability.Metrics
}

// Session is a stateful wrapper around one Journal: it maintains the model
// catalogue, retry policy, and auto-compaction policy, and drives the agent
// loop to fulfil prompt/continue_run requests.
type Session struct {
	journal *sessions.Journal
	cfg     Config

	autoCompaction     AutoCompactionConfig
	modelCatalog       []models.Model
	currentModelIndex  int
	retry              agent.RetryConfig
}

// New constructs a Session over an already-open journal.
func New(journal *sessions.Journal, cfg Config) *Session {
	return &Session{
		journal:            journal,
		cfg:                cfg,
		autoCompaction:     DefaultAutoCompactionConfig(),
		modelCatalog:       []models.Model{cfg.Model},
		currentModelIndex:  0,
		retry:              agent.RetryConfig{MaxAttempts: 3, InitialBackoffMs: 1000, MaxBackoffMs: 30000},
	}
}

// CurrentModel returns the model currently configured for requests.
func (s *Session) CurrentModel() models.Model { return s.cfg.Model }

// ModelCatalog returns the ordered, deduplicated model list.
func (s *Session) ModelCatalog() []models.Model { return s.modelCatalog }

// AutoCompactionConfig returns the current auto-compaction policy.
func (s *Session) AutoCompactionConfig() AutoCompactionConfig { return s.autoCompaction }

// SetAutoCompactionConfig replaces the auto-compaction policy.
func (s *Session) SetAutoCompactionConfig(cfg AutoCompactionConfig) { s.autoCompaction = cfg }

// RetryConfig returns the current retry policy.
func (s *Session) RetryConfig() agent.RetryConfig { return s.retry }

// SetRetryConfig replaces the retry policy.
func (s *Session) SetRetryConfig(cfg agent.RetryConfig) { s.retry = cfg }

// SetModelCatalog replaces the model catalogue, deduplicating by
// (provider, id) and preserving the currently configured model's position
// if present, or inserting it at the front otherwise.
func (s *Session) SetModelCatalog(list []models.Model) {
	currentRef := s.cfg.Model.Ref()

	var catalog []models.Model
	seen := map[models.ModelRef]bool{}
	for _, m := range list {
		ref := m.Ref()
		if seen[ref] {
			continue
		}
		seen[ref] = true
		catalog = append(catalog, m)
	}

	if len(catalog) == 0 {
		s.modelCatalog = []models.Model{s.cfg.Model}
		s.currentModelIndex = 0
		return
	}

	for i, m := range catalog {
		if m.Ref() == currentRef {
			s.modelCatalog = catalog
			s.currentModelIndex = i
			return
		}
	}

	s.modelCatalog = append([]models.Model{s.cfg.Model}, catalog...)
	s.currentModelIndex = 0
}

// CycleModelForward advances the catalogue index, swapping the configured
// model and appending a ModelChange entry. Returns nil if the catalogue has
// one or zero entries.
func (s *Session) CycleModelForward() (*models.Model, error) { return s.cycleModel(true) }

// CycleModelBackward regresses the catalogue index symmetrically to
// CycleModelForward.
func (s *Session) CycleModelBackward() (*models.Model, error) { return s.cycleModel(false) }

// SelectModel currently maps to CycleModelForward; a future model picker UI
// would replace this with an explicit index choice.
func (s *Session) SelectModel() (*models.Model, error) { return s.CycleModelForward() }

func (s *Session) cycleModel(forward bool) (*models.Model, error) {
	if len(s.modelCatalog) <= 1 {
		return nil, nil
	}

	length := len(s.modelCatalog)
	next := s.currentModelIndex
	switch {
	case forward:
		next = (next + 1) % length
	case next == 0:
		next = length - 1
	default:
		next--
	}

	return s.switchModel(next)
}

// switchModel swaps the active model atomically: it rolls back both the
// index and the configured model if the ModelChange entry fails to persist.
func (s *Session) switchModel(index int) (*models.Model, error) {
	previousIndex := s.currentModelIndex
	previousModel := s.cfg.Model
	model := s.modelCatalog[index]

	s.currentModelIndex = index
	s.cfg.Model = model

	if _, err := s.journal.Append(models.SessionEntry{
		Kind:          models.SessionEntryModelChange,
		ModelProvider: model.Provider,
		ModelID:       model.ID,
	}); err != nil {
		s.currentModelIndex = previousIndex
		s.cfg.Model = previousModel
		return nil, err
	}

	return &model, nil
}

// Compact appends a Compaction entry directly.
func (s *Session) Compact(summary, firstKeptEntryID string, tokensBefore int) (models.SessionEntry, error) {
	return s.journal.Append(models.SessionEntry{
		Kind:             models.SessionEntryCompaction,
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
	})
}

// CompactKeepRecent computes first_kept_entry_id by keeping the last
// keepRecent context-bearing entries on the active path, then appends a
// Compaction entry. Returns (nil, nil) if there are too few context-bearing
// entries to make compaction worthwhile.
func (s *Session) CompactKeepRecent(summary string, keepRecent int, tokensBefore int) (*models.SessionEntry, error) {
	ids := s.journal.ContextBearingIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	var firstKeptID string
	switch {
	case keepRecent <= 0:
		firstKeptID = ids[0]
	case len(ids) <= keepRecent:
		return nil, nil
	default:
		firstKeptID = ids[len(ids)-keepRecent]
	}

	entry, err := s.Compact(summary, firstKeptID, tokensBefore)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Session) loopConfig() agent.Config {
	fallback := make([]models.Model, 0, len(s.modelCatalog)-1)
	for i, m := range s.modelCatalog {
		if i == s.currentModelIndex {
			continue
		}
		fallback = append(fallback, m)
	}

	return agent.Config{
		Model:          s.cfg.Model,
		FallbackModels: fallback,
		Retry:          s.retry,
		Adapter:        s.cfg.Adapter,
		ConvertToLLM:   s.cfg.ConvertToLLM,
		Tools:          s.cfg.Tools,
		ToolRegistry:   s.cfg.ToolRegistry,
		APIKey:         s.cfg.APIKey,
		SteeringPoll:   s.cfg.SteeringPoll,
		FollowUpPoll:   s.cfg.FollowUpPoll,
		Metrics:        s.cfg.Metrics,
	}
}

func (s *Session) agentContext() *agent.Context {
	return &agent.Context{
		SystemPrompt: s.cfg.SystemPrompt,
		Messages:     s.journal.BuildSessionContext(),
	}
}

// Prompt appends the user prompt, runs the agent loop, persists produced
// messages, possibly auto-compacts, and on context-window overflow performs
// the overflow-recovery sequence, appending its output to the returned
// message list.
func (s *Session) Prompt(ctx context.Context, input string) ([]models.Message, error) {
	produced, err := s.runPromptOnce(ctx, input, nil)
	if err != nil {
		return nil, err
	}
	retry, err := s.maybeHandleOverflowAndRetry(ctx, produced, nil)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		produced = append(produced, retry...)
	}
	return produced, nil
}

// PromptStreaming is identical to Prompt but forwards a projection of the
// loop's event stream to onUpdate as it flows.
func (s *Session) PromptStreaming(ctx context.Context, input string, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	produced, err := s.runPromptOnce(ctx, input, onUpdate)
	if err != nil {
		return nil, err
	}
	retry, err := s.maybeHandleOverflowAndRetry(ctx, produced, onUpdate)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		for _, update := range renderMessagesForStreaming(retry) {
			onUpdate(update)
		}
		produced = append(produced, retry...)
	}
	return produced, nil
}

func (s *Session) runPromptOnce(ctx context.Context, input string, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	prompt := models.NewUserMessage(input, time.Now())
	agentCtx := s.agentContext()

	loop := agent.New(s.loopConfig())
	stream := loop.Run(ctx, []models.Message{prompt}, agentCtx)
	produced, err := collectLoopResult(ctx, stream, onUpdate)
	if err != nil {
		return nil, err
	}

	if err := s.persistAndMaybeCompact(ctx, produced); err != nil {
		return nil, err
	}
	return produced, nil
}

// ContinueRun resumes a run with no new user prompt: it fails if the
// current context is empty, and otherwise re-enters the loop (directly, if
// the tail is an assistant message, or via Continue's validated path
// otherwise).
func (s *Session) ContinueRun(ctx context.Context) ([]models.Message, error) {
	produced, err := s.runContinueOnce(ctx, nil)
	if err != nil {
		return nil, err
	}
	retry, err := s.maybeHandleOverflowAndRetry(ctx, produced, nil)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		produced = append(produced, retry...)
	}
	return produced, nil
}

// ContinueRunStreaming is the streaming counterpart of ContinueRun.
func (s *Session) ContinueRunStreaming(ctx context.Context, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	produced, err := s.runContinueOnce(ctx, onUpdate)
	if err != nil {
		return nil, err
	}
	retry, err := s.maybeHandleOverflowAndRetry(ctx, produced, onUpdate)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		for _, update := range renderMessagesForStreaming(retry) {
			onUpdate(update)
		}
		produced = append(produced, retry...)
	}
	return produced, nil
}

func (s *Session) runContinueOnce(ctx context.Context, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	agentCtx := s.agentContext()
	if len(agentCtx.Messages) == 0 {
		return nil, fmt.Errorf("agentsession: no messages to continue from")
	}

	loop := agent.New(s.loopConfig())

	var stream *agent.Stream
	if agentCtx.Messages[len(agentCtx.Messages)-1].Role == models.RoleAssistant {
		stream = loop.Run(ctx, nil, agentCtx)
	} else {
		var err error
		stream, err = loop.Continue(ctx, agentCtx)
		if err != nil {
			return nil, err
		}
	}

	produced, err := collectLoopResult(ctx, stream, onUpdate)
	if err != nil {
		return nil, err
	}

	if err := s.persistAndMaybeCompact(ctx, produced); err != nil {
		return nil, err
	}
	return produced, nil
}

func (s *Session) persistAndMaybeCompact(ctx context.Context, produced []models.Message) error {
	for _, msg := range produced {
		if _, err := s.journal.AppendMessage(msg); err != nil {
			return err
		}
	}
	_, err := s.maybeAutoCompact(ctx, produced)
	return err
}

// maybeAutoCompact runs the proactive summarization path: triggered once
// the latest assistant's token usage crosses context_window − reserve, and
// there are more than keep_recent_messages context-bearing entries.
func (s *Session) maybeAutoCompact(ctx context.Context, produced []models.Message) (*string, error) {
	if !s.autoCompaction.Enabled {
		return nil, nil
	}

	contextTokens, ok := latestContextTokensFromMessages(produced)
	if !ok {
		return nil, nil
	}

	contextWindow := s.cfg.Model.ContextWindow
	if contextWindow == 0 {
		return nil, nil
	}

	threshold := contextWindow - s.autoCompaction.ReserveTokens
	if threshold < 0 {
		threshold = 0
	}
	if contextTokens <= threshold {
		return nil, nil
	}

	keepRecent := s.autoCompaction.KeepRecentMessages
	if keepRecent < 1 {
		keepRecent = 1
	}

	sessionMessages := s.journal.BuildSessionContext()
	if len(sessionMessages) <= keepRecent {
		return nil, nil
	}
	summarizeUpTo := len(sessionMessages) - keepRecent

	summary := s.buildAutoCompactionSummaryWithFallback(ctx, sessionMessages[:summarizeUpTo], contextTokens, contextWindow, "proactive")
	entry, err := s.CompactKeepRecent(summary, keepRecent, contextTokens)
	if err != nil || entry == nil {
		return nil, err
	}
	return &summary, nil
}

// maybeHandleOverflowAndRetry implements overflow recovery: rewind the
// failed assistant turn, force a compaction over the whole remaining
// prefix, and re-run continue_run. Its output is appended to the caller's
// produced-message list by the Prompt/ContinueRun wrappers.
func (s *Session) maybeHandleOverflowAndRetry(ctx context.Context, produced []models.Message, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	if !s.autoCompaction.Enabled {
		return nil, nil
	}

	assistantMsg := latestAssistantMessage(produced)
	if assistantMsg == nil {
		return nil, nil
	}

	contextWindow := s.cfg.Model.ContextWindow
	if !isContextOverflowMessage(*assistantMsg, contextWindow) {
		return nil, nil
	}

	if !s.journal.RewindLeafIfLastAssistantError() {
		return nil, nil
	}

	compacted, err := s.autoCompactForOverflow(ctx, *assistantMsg)
	if err != nil {
		return nil, err
	}
	if !compacted {
		return nil, nil
	}

	if onUpdate != nil {
		return s.runContinueOnce(ctx, onUpdate)
	}
	return s.runContinueOnce(ctx, nil)
}

func (s *Session) autoCompactForOverflow(ctx context.Context, assistantMsg models.Message) (bool, error) {
	contextWindow := s.cfg.Model.ContextWindow
	if contextWindow == 0 {
		return false, nil
	}

	keepRecent := s.autoCompaction.KeepRecentMessages
	if keepRecent < 1 {
		keepRecent = 1
	}

	sessionMessages := s.journal.BuildSessionContext()
	if len(sessionMessages) <= keepRecent {
		return false, nil
	}
	summarizeUpTo := len(sessionMessages) - keepRecent

	contextTokens := overflowContextTokens(assistantMsg, contextWindow)
	summary := s.buildAutoCompactionSummaryWithFallback(ctx, sessionMessages[:summarizeUpTo], contextTokens, contextWindow, "overflow")

	entry, err := s.CompactKeepRecent(summary, keepRecent, contextTokens)
	if err != nil {
		return false, err
	}
	return entry != nil, nil
}

// buildAutoCompactionSummaryWithFallback tries an LLM-generated summary
// first; on failure, empty text, or an error/aborted stop reason, it falls
// back to a deterministic rule-based summary. trigger ("proactive" or
// "overflow") is only used to label the Prometheus compaction counter.
func (s *Session) buildAutoCompactionSummaryWithFallback(ctx context.Context, toSummarize []models.Message, contextTokens, contextWindow int, trigger string) string {
	summary, err := s.tryGenerateLLMCompactionSummary(ctx, toSummarize, contextTokens, contextWindow)
	outcome := "llm_summary"
	if err != nil || strings.TrimSpace(summary) == "" {
		outcome = "rule_based"
		summary = buildRuleBasedSummary(toSummarize, contextTokens, contextWindow, s.autoCompaction.MaxSummaryChars)
	} else {
		summary = truncateChars(strings.TrimSpace(summary), s.autoCompaction.MaxSummaryChars)
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordCompaction(trigger, outcome)
	}
	return summary
}

func (s *Session) tryGenerateLLMCompactionSummary(ctx context.Context, toSummarize []models.Message, contextTokens, contextWindow int) (string, error) {
	if len(toSummarize) == 0 {
		return "", fmt.Errorf("agentsession: no messages available for summarization")
	}

	conversation := serializeMessagesForSummary(toSummarize)
	if strings.TrimSpace(conversation) == "" {
		return "", fmt.Errorf("agentsession: no textual content to summarize")
	}

	prompt := fmt.Sprintf(
		"Context tokens before compaction: %d/%d.\n\n<conversation>\n%s\n</conversation>\n\n%s",
		contextTokens, contextWindow, conversation, summarizationInstruction,
	)

	runner := agent.NewAssistantRequestRunner(agent.RunnerConfig{
		Model:        s.cfg.Model,
		Retry:        agent.RetryConfig{MaxAttempts: 1},
		Adapter:      s.cfg.Adapter,
		ConvertToLLM: s.cfg.ConvertToLLM,
		SystemPrompt: summarizationSystemPrompt,
		APIKey:       s.cfg.APIKey,
	})

	// The main turn loop's retry/backoff is attempt-deterministic and
	// tested as such; this internal summarization call has no such
	// contract, so a transient failure here is retried with jittered
	// backoff instead.
	result, err := backoff.RetryFunc(ctx, summarizationRetryAttempts, func(int) (models.Message, error) {
		messages := []models.Message{models.NewUserMessage(prompt, time.Now())}
		msg, _ := runner.Run(ctx, &messages, func(models.AgentEvent) {})
		if msg.StopReason == models.StopReasonError || msg.StopReason == models.StopReasonAborted {
			if msg.ErrorMessage != "" {
				return models.Message{}, fmt.Errorf("%s", msg.ErrorMessage)
			}
			return models.Message{}, fmt.Errorf("agentsession: compaction summary model returned an error")
		}
		return msg, nil
	})
	if err != nil {
		return "", err
	}

	text := result.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("agentsession: compaction summary model returned empty text")
	}
	return text, nil
}

func collectLoopResult(ctx context.Context, stream *agent.Stream, onUpdate func(StreamUpdate)) ([]models.Message, error) {
	sawAssistantTextDelta := false

	for {
		ev, ok := stream.Next(ctx)
		if !ok {
			break
		}

		switch ev.Kind {
		case models.AgentEventMessageStart:
			if ev.Message != nil && ev.Message.Role == models.RoleAssistant {
				sawAssistantTextDelta = false
			}
		case models.AgentEventToolExecutionStart:
			if onUpdate != nil {
				onUpdate(StreamUpdate{Kind: StreamToolLine, Text: formatToolStartLine(ev.Name, ev.Args)})
			}
		case models.AgentEventMessageUpdate:
			if onUpdate != nil && ev.AssistantEvent != nil {
				switch ev.AssistantEvent.Kind {
				case models.AssistantEventTextDelta:
					onUpdate(StreamUpdate{Kind: StreamAssistantTextDelta, Text: ev.AssistantEvent.Delta})
					sawAssistantTextDelta = true
				case models.AssistantEventThinkingDelta:
					onUpdate(StreamUpdate{Kind: StreamAssistantLine, Text: "[thinking] " + ev.AssistantEvent.Delta})
				}
			}
		case models.AgentEventMessageEnd:
			if onUpdate != nil && ev.Message != nil {
				for _, update := range renderMessageEndForStreaming(*ev.Message, sawAssistantTextDelta) {
					onUpdate(update)
				}
			}
		}
	}

	result, ok := stream.Result(ctx)
	if !ok {
		return nil, fmt.Errorf("agentsession: agent loop ended without a final result")
	}
	return result, nil
}

func renderMessageEndForStreaming(msg models.Message, hadTextDelta bool) []StreamUpdate {
	switch msg.Role {
	case models.RoleAssistant:
		return renderAssistantMessageForStreaming(msg, hadTextDelta)
	case models.RoleToolResult:
		var updates []StreamUpdate
		for _, b := range msg.Content {
			if b.Kind == models.BlockText {
				updates = append(updates, StreamUpdate{Kind: StreamToolLine, Text: b.Text})
			} else if b.Kind == models.BlockImage {
				updates = append(updates, StreamUpdate{Kind: StreamToolLine, Text: "(image tool result omitted)"})
			}
		}
		return updates
	default:
		return nil
	}
}

func renderAssistantMessageForStreaming(msg models.Message, hadTextDelta bool) []StreamUpdate {
	switch msg.StopReason {
	case models.StopReasonError:
		return []StreamUpdate{{Kind: StreamAssistantLine, Text: "[assistant_error] " + msg.ErrorMessage}}
	case models.StopReasonAborted:
		return []StreamUpdate{{Kind: StreamAssistantLine, Text: "[assistant_aborted] " + msg.ErrorMessage}}
	}
	if hadTextDelta {
		return nil
	}
	var updates []StreamUpdate
	for _, b := range msg.Content {
		if b.Kind == models.BlockText {
			updates = append(updates, StreamUpdate{Kind: StreamAssistantLine, Text: b.Text})
		}
	}
	return updates
}

// renderMessagesForStreaming projects a full message slice (the
// overflow-retry output, produced with no live stream of its own) onto
// StreamUpdates, the same way collectLoopResult would have as it happened.
func renderMessagesForStreaming(messages []models.Message) []StreamUpdate {
	var updates []StreamUpdate
	for _, msg := range messages {
		switch msg.Role {
		case models.RoleAssistant:
			updates = append(updates, renderAssistantMessageForStreaming(msg, false)...)
		case models.RoleToolResult:
			title := fmt.Sprintf("• Ran %s", msg.ToolName)
			if msg.IsError {
				title = fmt.Sprintf("• Ran %s (error)", msg.ToolName)
			}
			updates = append(updates, StreamUpdate{Kind: StreamToolLine, Text: title})
			for _, b := range msg.Content {
				if b.Kind == models.BlockText {
					updates = append(updates, StreamUpdate{Kind: StreamToolLine, Text: b.Text})
				} else if b.Kind == models.BlockImage {
					updates = append(updates, StreamUpdate{Kind: StreamToolLine, Text: "(image tool result omitted)"})
				}
			}
		}
	}
	return updates
}

func formatToolStartLine(name string, args json.RawMessage) string {
	switch name {
	case "bash":
		return formatBashToolStartLine(args)
	case "read", "write", "edit":
		return formatPathToolStartLine(name, args)
	default:
		return fmt.Sprintf("• Ran %s", name)
	}
}

func formatBashToolStartLine(args json.RawMessage) string {
	var parsed struct {
		Command string `json:"command"`
	}
	if json.Unmarshal(args, &parsed) != nil {
		return "• Ran bash"
	}
	command := strings.TrimSpace(parsed.Command)
	if command == "" {
		return "• Ran bash"
	}
	return fmt.Sprintf("• Ran bash -lc '%s'", strings.ReplaceAll(command, "'", `'\''`))
}

func formatPathToolStartLine(name string, args json.RawMessage) string {
	var parsed struct {
		Path string `json:"path"`
	}
	if json.Unmarshal(args, &parsed) != nil {
		return fmt.Sprintf("• Ran %s", name)
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		return fmt.Sprintf("• Ran %s", name)
	}
	return fmt.Sprintf("• Ran %s %s", name, path)
}

func contextTokensFromUsage(u models.Usage) int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

func latestContextTokensFromMessages(messages []models.Message) (int, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != models.RoleAssistant {
			continue
		}
		if m.StopReason == models.StopReasonError || m.StopReason == models.StopReasonAborted {
			continue
		}
		return contextTokensFromUsage(m.Usage), true
	}
	return 0, false
}

func latestAssistantMessage(messages []models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return &messages[i]
		}
	}
	return nil
}

func overflowContextTokens(msg models.Message, contextWindow int) int {
	if msg.Role != models.RoleAssistant {
		return maxInt(contextWindow, 1)
	}
	tokens := contextTokensFromUsage(msg.Usage)
	if tokens > 0 {
		return tokens
	}
	return maxInt(contextWindow, 1)
}

func isContextOverflowMessage(msg models.Message, contextWindow int) bool {
	if msg.Role != models.RoleAssistant {
		return false
	}

	if msg.StopReason == models.StopReasonError {
		if isContextOverflowErrorText(msg.ErrorMessage) {
			return true
		}
	}

	if msg.StopReason == models.StopReasonStop && contextWindow > 0 {
		inputTokens := msg.Usage.Input + msg.Usage.CacheRead
		return inputTokens > contextWindow
	}

	return false
}

func isContextOverflowErrorText(errorText string) bool {
	normalized := strings.ToLower(errorText)
	for _, pattern := range overflowErrorPatterns {
		if strings.Contains(normalized, pattern) {
			return true
		}
	}
	return false
}

func serializeMessagesForSummary(messages []models.Message) string {
	var parts []string
	for _, m := range messages {
		content := messageToSummaryText(m)
		if content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", messageRoleLabel(m), content))
	}
	return strings.Join(parts, "\n\n")
}

func buildRuleBasedSummary(messages []models.Message, contextTokens, contextWindow, maxSummaryChars int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Auto-compaction snapshot (context tokens: %d/%d).\n\nCompacted history:\n", contextTokens, contextWindow)

	added := false
	for _, m := range messages {
		content := messageToSummaryText(m)
		if content == "" {
			continue
		}
		added = true
		b.WriteString("- ")
		b.WriteString(messageRoleLabel(m))
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteByte('\n')
	}
	if !added {
		b.WriteString("- (no textual content)\n")
	}

	return truncateChars(b.String(), maxSummaryChars)
}

func messageRoleLabel(m models.Message) string {
	switch m.Role {
	case models.RoleUser:
		return "user"
	case models.RoleAssistant:
		return "assistant"
	case models.RoleToolResult:
		return "tool_result"
	default:
		return "unknown"
	}
}

func messageToSummaryText(m models.Message) string {
	var parts []string
	for _, b := range m.Content {
		switch b.Kind {
		case models.BlockText, models.BlockThinking:
			parts = append(parts, b.Text)
		case models.BlockToolCall:
			parts = append(parts, fmt.Sprintf("tool call `%s` with args %s", b.Name, truncateChars(string(b.Arguments), 200)))
		}
	}
	return normalizeText(strings.Join(parts, " "))
}

func normalizeText(text string) string {
	flattened := strings.ReplaceAll(text, "\n", " ")
	return truncateChars(strings.TrimSpace(flattened), 240)
}

// truncateChars truncates text to at most maxChars runes, appending "..."
// when truncation occurs (and maxChars leaves room for it).
func truncateChars(text string, maxChars int) string {
	if maxChars <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return strings.Repeat(".", maxChars)
	}
	return string(runes[:maxChars-3]) + "..."
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
