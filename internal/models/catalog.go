// Package models provides the runtime model catalogue: registration,
// lookup by alias, and capability/tier filtering over pkg/models.Model.
package models

import (
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Capability identifies a model capability beyond the base fields carried
// on models.Model itself.
type Capability string

const (
	CapVision      Capability = "vision"
	CapTools       Capability = "tools"
	CapStreaming   Capability = "streaming"
	CapJSON        Capability = "json"
	CapCode        Capability = "code"
	CapReasoning   Capability = "reasoning"
	CapAudio       Capability = "audio"
	CapVideo       Capability = "video"
	CapEmbeddings  Capability = "embeddings"
	CapFineTunable Capability = "fine_tunable"
	CapPDFInput    Capability = "pdf_input"
	CapLongContext Capability = "long_context"
	CapBatch       Capability = "batch"
	CapCaching     Capability = "caching"
)

// Tier identifies a model's quality/cost tier.
type Tier string

const (
	TierFlagship Tier = "flagship"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
	TierMini     Tier = "mini"
)

// Entry wraps a models.Model with catalogue-only metadata: tier,
// capability tags, aliases, and deprecation status. The (Provider, ID) of
// the embedded Model is the catalogue key, per the data model.
type Entry struct {
	models.Model

	Tier         Tier
	Capabilities []Capability
	Aliases      []string
	Deprecated   bool
	ReplacedBy   string
	ReleaseDate  string
	Description  string
}

// HasCapability reports whether the entry carries the given capability tag.
func (e *Entry) HasCapability(cap Capability) bool {
	for _, c := range e.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

func (e *Entry) SupportsVision() bool    { return e.HasCapability(CapVision) }
func (e *Entry) SupportsTools() bool     { return e.HasCapability(CapTools) }
func (e *Entry) SupportsStreaming() bool { return e.HasCapability(CapStreaming) }

// Catalog manages an ordered, deduplicated collection of models keyed by
// (provider, id), with alias lookup.
type Catalog struct {
	mu      sync.RWMutex
	entries map[models.ModelRef]*Entry
	aliases map[string]models.ModelRef
	order   []models.ModelRef // insertion order, for cycle_model_forward/backward
}

// NewCatalog creates an empty catalog. Use NewDefaultCatalog for one
// pre-seeded with the built-in models.
func NewCatalog() *Catalog {
	return &Catalog{
		entries: make(map[models.ModelRef]*Entry),
		aliases: make(map[string]models.ModelRef),
	}
}

// NewDefaultCatalog creates a catalog pre-seeded with the built-in models.
func NewDefaultCatalog() *Catalog {
	c := NewCatalog()
	c.registerBuiltinModels()
	return c
}

// Register adds or replaces an entry in the catalog.
func (c *Catalog) Register(entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ref := entry.Ref()
	if _, exists := c.entries[ref]; !exists {
		c.order = append(c.order, ref)
	}
	c.entries[ref] = entry

	for _, alias := range entry.Aliases {
		c.aliases[strings.ToLower(alias)] = ref
	}
}

// Get retrieves an entry by (provider, id) or by bare alias.
func (c *Catalog) Get(ref models.ModelRef) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if e, ok := c.entries[ref]; ok {
		return e, true
	}
	if resolved, ok := c.aliases[strings.ToLower(ref.ID)]; ok {
		e, ok := c.entries[resolved]
		return e, ok
	}
	return nil, false
}

// Order returns the catalog's insertion-ordered list of keys, used by
// cycle_model_forward/backward to advance a stable index.
func (c *Catalog) Order() []models.ModelRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.ModelRef(nil), c.order...)
}

// List returns all entries matching filter (nil matches everything),
// sorted by provider, then tier, then name.
func (c *Catalog) List(filter *Filter) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Entry
	for _, e := range c.entries {
		if filter == nil || filter.Matches(e) {
			result = append(result, e)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		if result[i].Tier != result[j].Tier {
			return tierRank(result[i].Tier) < tierRank(result[j].Tier)
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// ListByProvider returns all entries for a provider.
func (c *Catalog) ListByProvider(provider string) []*Entry {
	return c.List(&Filter{Providers: []string{provider}})
}

// ListByCapability returns entries with a specific capability.
func (c *Catalog) ListByCapability(cap Capability) []*Entry {
	return c.List(&Filter{RequiredCapabilities: []Capability{cap}})
}

// Filter narrows a List call.
type Filter struct {
	Providers            []string
	Tiers                []Tier
	RequiredCapabilities []Capability
	MinContextWindow     int
	IncludeDeprecated    bool
}

// Matches reports whether m satisfies the filter.
func (f *Filter) Matches(e *Entry) bool {
	if f == nil {
		return true
	}
	if len(f.Providers) > 0 && !containsString(f.Providers, e.Provider) {
		return false
	}
	if len(f.Tiers) > 0 && !containsTier(f.Tiers, e.Tier) {
		return false
	}
	for _, cap := range f.RequiredCapabilities {
		if !e.HasCapability(cap) {
			return false
		}
	}
	if f.MinContextWindow > 0 && e.ContextWindow < f.MinContextWindow {
		return false
	}
	if !f.IncludeDeprecated && e.Deprecated {
		return false
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsTier(haystack []Tier, needle Tier) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func tierRank(t Tier) int {
	switch t {
	case TierFlagship:
		return 0
	case TierStandard:
		return 1
	case TierFast:
		return 2
	case TierMini:
		return 3
	default:
		return 4
	}
}

func (c *Catalog) registerBuiltinModels() {
	c.Register(&Entry{
		Model: models.Model{
			ID: "claude-opus-4", Name: "Claude Opus 4", API: "anthropic-messages", Provider: "anthropic",
			BaseURL: "https://api.anthropic.com/v1", ContextWindow: 200000, MaxTokens: 32000,
			InputModalities: []string{"text", "image", "pdf"},
			Cost:            models.ModelCost{InputPerMTok: 15.0, OutputPerMTok: 75.0},
		},
		Tier:         TierFlagship,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapJSON, CapCode, CapLongContext, CapCaching, CapPDFInput},
		Aliases:      []string{"opus"},
		ReleaseDate:  "2025-11-01",
	})

	c.Register(&Entry{
		Model: models.Model{
			ID: "claude-3-5-sonnet-latest", Name: "Claude 3.5 Sonnet", API: "anthropic-messages", Provider: "anthropic",
			BaseURL: "https://api.anthropic.com/v1", ContextWindow: 200000, MaxTokens: 8192,
			InputModalities: []string{"text", "image", "pdf"},
			Cost:            models.ModelCost{InputPerMTok: 3.0, OutputPerMTok: 15.0},
		},
		Tier:         TierStandard,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapJSON, CapCode, CapLongContext, CapCaching, CapPDFInput},
		Aliases:      []string{"sonnet"},
		ReleaseDate:  "2024-10-22",
	})

	c.Register(&Entry{
		Model: models.Model{
			ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", API: "anthropic-messages", Provider: "anthropic",
			BaseURL: "https://api.anthropic.com/v1", ContextWindow: 200000, MaxTokens: 8192,
			InputModalities: []string{"text", "image"},
			Cost:            models.ModelCost{InputPerMTok: 0.8, OutputPerMTok: 4.0},
		},
		Tier:         TierFast,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapJSON, CapCode, CapLongContext, CapCaching},
		Aliases:      []string{"haiku"},
		ReleaseDate:  "2024-11-04",
	})

	c.Register(&Entry{
		Model: models.Model{
			ID: "gpt-4o", Name: "GPT-4o", API: "openai-responses", Provider: "openai",
			BaseURL: "https://api.openai.com/v1", ContextWindow: 128000, MaxTokens: 16384,
			InputModalities: []string{"text", "image", "audio"},
			Cost:            models.ModelCost{InputPerMTok: 2.5, OutputPerMTok: 10.0},
		},
		Tier:         TierStandard,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapJSON, CapCode, CapLongContext, CapAudio},
		ReleaseDate:  "2024-05-13",
	})

	c.Register(&Entry{
		Model: models.Model{
			ID: "gpt-4o-mini", Name: "GPT-4o Mini", API: "openai-responses", Provider: "openai",
			BaseURL: "https://api.openai.com/v1", ContextWindow: 128000, MaxTokens: 16384,
			InputModalities: []string{"text", "image"},
			Cost:            models.ModelCost{InputPerMTok: 0.15, OutputPerMTok: 0.6},
		},
		Tier:         TierFast,
		Capabilities: []Capability{CapVision, CapTools, CapStreaming, CapJSON, CapCode, CapLongContext},
		ReleaseDate:  "2024-07-18",
	})

	c.Register(&Entry{
		Model: models.Model{
			ID: "o3-mini", Name: "o3-mini", API: "openai-responses", Provider: "openai",
			BaseURL: "https://api.openai.com/v1", ContextWindow: 200000, MaxTokens: 100000,
			Reasoning: true, ReasoningEffort: "medium", InputModalities: []string{"text"},
			Cost: models.ModelCost{InputPerMTok: 1.1, OutputPerMTok: 4.4},
		},
		Tier:         TierStandard,
		Capabilities: []Capability{CapTools, CapReasoning, CapJSON, CapCode, CapLongContext},
		ReleaseDate:  "2025-01-31",
	})
}

// DefaultCatalog is the package-level catalog pre-seeded with the built-in
// models. Most callers should build their own via NewCatalog/NewDefaultCatalog
// instead; this exists for quick lookups (CLIs, tests).
var DefaultCatalog = NewDefaultCatalog()

func Get(ref models.ModelRef) (*Entry, bool)  { return DefaultCatalog.Get(ref) }
func List(filter *Filter) []*Entry            { return DefaultCatalog.List(filter) }
func ListByProvider(provider string) []*Entry { return DefaultCatalog.ListByProvider(provider) }
func ListByCapability(cap Capability) []*Entry { return DefaultCatalog.ListByCapability(cap) }
