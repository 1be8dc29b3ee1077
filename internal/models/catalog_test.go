package models

import (
	"testing"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func TestNewDefaultCatalogRegistersBuiltins(t *testing.T) {
	c := NewDefaultCatalog()
	entries := c.List(nil)
	if len(entries) == 0 {
		t.Fatal("expected built-in models to be registered")
	}
}

func TestGetByProviderAndID(t *testing.T) {
	c := NewDefaultCatalog()
	e, ok := c.Get(models.ModelRef{Provider: "anthropic", ID: "claude-opus-4"})
	if !ok {
		t.Fatal("expected to find claude-opus-4")
	}
	if e.Tier != TierFlagship {
		t.Errorf("expected TierFlagship, got %s", e.Tier)
	}
}

func TestGetByAlias(t *testing.T) {
	c := NewDefaultCatalog()
	e, ok := c.Get(models.ModelRef{ID: "opus"})
	if !ok {
		t.Fatal("expected alias lookup to resolve")
	}
	if e.ID != "claude-opus-4" {
		t.Errorf("expected claude-opus-4, got %s", e.ID)
	}
}

func TestGetUnknownReturnsFalse(t *testing.T) {
	c := NewCatalog()
	_, ok := c.Get(models.ModelRef{Provider: "nope", ID: "nope"})
	if ok {
		t.Fatal("expected lookup on empty catalog to fail")
	}
}

func TestRegisterIsIdempotentForOrder(t *testing.T) {
	c := NewCatalog()
	entry := &Entry{Model: models.Model{ID: "m1", Provider: "p1"}}
	c.Register(entry)
	c.Register(entry)
	if len(c.Order()) != 1 {
		t.Errorf("expected single order entry after re-registering same key, got %d", len(c.Order()))
	}
}

func TestFilterByProvider(t *testing.T) {
	c := NewDefaultCatalog()
	entries := c.List(&Filter{Providers: []string{"openai"}})
	for _, e := range entries {
		if e.Provider != "openai" {
			t.Errorf("expected only openai entries, got %s", e.Provider)
		}
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one openai entry")
	}
}

func TestFilterByCapability(t *testing.T) {
	c := NewDefaultCatalog()
	entries := c.List(&Filter{RequiredCapabilities: []Capability{CapReasoning}})
	for _, e := range entries {
		if !e.HasCapability(CapReasoning) {
			t.Errorf("expected only reasoning-capable entries, got %s", e.ID)
		}
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one reasoning-capable entry")
	}
}

func TestFilterByMinContextWindow(t *testing.T) {
	c := NewDefaultCatalog()
	entries := c.List(&Filter{MinContextWindow: 199000})
	for _, e := range entries {
		if e.ContextWindow < 199000 {
			t.Errorf("entry %s has context window below filter threshold", e.ID)
		}
	}
}

func TestFilterExcludesDeprecatedByDefault(t *testing.T) {
	c := NewCatalog()
	c.Register(&Entry{Model: models.Model{ID: "old", Provider: "p"}, Deprecated: true})
	c.Register(&Entry{Model: models.Model{ID: "new", Provider: "p"}})

	entries := c.List(nil)
	if len(entries) != 1 || entries[0].ID != "new" {
		t.Errorf("expected deprecated entry excluded by default, got %d entries", len(entries))
	}

	entries = c.List(&Filter{IncludeDeprecated: true})
	if len(entries) != 2 {
		t.Errorf("expected both entries when IncludeDeprecated is set, got %d", len(entries))
	}
}

func TestListSortedByProviderTierName(t *testing.T) {
	c := NewDefaultCatalog()
	entries := c.List(nil)
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Provider > entries[i].Provider {
			t.Fatalf("entries not sorted by provider: %s before %s", entries[i-1].Provider, entries[i].Provider)
		}
	}
}

func TestOrderPreservesInsertionSequence(t *testing.T) {
	c := NewCatalog()
	c.Register(&Entry{Model: models.Model{ID: "first", Provider: "p"}})
	c.Register(&Entry{Model: models.Model{ID: "second", Provider: "p"}})

	order := c.Order()
	if len(order) != 2 || order[0].ID != "first" || order[1].ID != "second" {
		t.Errorf("expected insertion order [first second], got %v", order)
	}
}
