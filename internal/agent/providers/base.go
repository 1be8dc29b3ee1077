package providers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/eventstream"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// ToolDescriptor describes a callable tool as presented to a provider.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema []byte // JSON schema
}

// RequestContext is the provider-agnostic shape of one "ask the model" call.
type RequestContext struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []ToolDescriptor
}

// StreamOptions carries per-call overrides.
type StreamOptions struct {
	APIKey string
}

// AssistantStream is the concrete EventStream instantiation every provider
// adapter produces: a stream of AssistantMessageEvents terminating in the
// finished Message.
type AssistantStream = eventstream.EventStream[models.AssistantMessageEvent, models.Message]

// Adapter translates one provider's wire protocol into AssistantMessageEvents.
// Stream is invoked on a worker that may block; it returns immediately with
// a stream handle the caller drains.
type Adapter interface {
	// Name is the provider identifier used for catalogue lookups and events
	// (e.g. "anthropic", "openai").
	Name() string

	Stream(ctx context.Context, model models.Model, reqCtx RequestContext, opts StreamOptions) *AssistantStream
}

// terminalExtractor recognises Done/Error events as the stream's terminal
// result, latching the finalized message.
func terminalExtractor(event models.AssistantMessageEvent) (models.Message, bool) {
	switch event.Kind {
	case models.AssistantEventDone, models.AssistantEventError:
		if event.Message != nil {
			return *event.Message, true
		}
	}
	return models.Message{}, false
}

// newAssistantStream constructs an AssistantStream using the shared
// terminal-event recognition rule.
func newAssistantStream() *AssistantStream {
	return eventstream.New[models.AssistantMessageEvent, models.Message](terminalExtractor)
}

// BaseProvider holds the transport plumbing shared by every concrete
// adapter: HTTP client and auth resolution. Concrete adapters embed it and
// implement Stream.
type BaseProvider struct {
	ProviderName string
	HTTPClient   *http.Client
}

// NewBaseProvider constructs a BaseProvider with sane request timeouts.
func NewBaseProvider(name string) BaseProvider {
	return BaseProvider{
		ProviderName: name,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func (b BaseProvider) Name() string { return b.ProviderName }

// resolveAPIKey resolves credentials in priority order: the explicit option,
// then {PROVIDER_UPPER}_API_KEY, then a provider-family fallback env var.
func resolveAPIKey(provider, optsKey string) (string, error) {
	if optsKey != "" {
		return optsKey, nil
	}

	envName := strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	if v := os.Getenv(envName); v != "" {
		return v, nil
	}

	families := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	for family, envVar := range families {
		if strings.HasPrefix(provider, family) {
			if v := os.Getenv(envVar); v != "" {
				return v, nil
			}
		}
	}

	return "", fmt.Errorf("no API key resolved for provider %q (checked %s)", provider, envName)
}

// sseFrame is the concatenation of all `data:` lines within one SSE frame,
// split on a blank-line separator. Empty frames are never yielded.
type sseFrame struct {
	data string
}

var errSSEDone = fmt.Errorf("sse: [DONE]")

// scanSSE reads r line by line, yielding one sseFrame per blank-line
// separated block, until EOF, a read error, or a `data: [DONE]` frame (at
// which point it returns nil without yielding further frames).
func scanSSE(r io.Reader, yield func(sseFrame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		joined := strings.Join(dataLines, "\n")
		dataLines = nil
		if strings.TrimSpace(joined) == "[DONE]" {
			return errSSEDone
		}
		return yield(sseFrame{data: joined})
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				if err == errSSEDone {
					return nil
				}
				return err
			}
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(after, " "))
		}
		// Other SSE fields (event:, id:, retry:) are ignored; both providers
		// handled here encode the event type inside the JSON payload itself.
	}
	if err := flush(); err != nil {
		if err == errSSEDone {
			return nil
		}
		return err
	}
	return scanner.Err()
}
