package models

// Model describes one callable model in the catalogue. The pair
// (Provider, ID) is the catalogue key.
type Model struct {
	ID              string    `json:"id" yaml:"id"`
	Name            string    `json:"name" yaml:"name"`
	API             string    `json:"api" yaml:"api"`
	Provider        string    `json:"provider" yaml:"provider"`
	BaseURL         string    `json:"base_url" yaml:"base_url"`
	Reasoning       bool      `json:"reasoning" yaml:"reasoning"`
	ReasoningEffort string    `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
	ContextWindow   int       `json:"context_window" yaml:"context_window"`
	MaxTokens       int       `json:"max_tokens" yaml:"max_tokens"`
	InputModalities []string  `json:"input_modalities" yaml:"input_modalities"`
	Cost            ModelCost `json:"cost" yaml:"cost"`
}

// ModelCost holds per-million-token list pricing for a model.
type ModelCost struct {
	InputPerMTok      float64 `json:"input_per_mtok" yaml:"input_per_mtok"`
	OutputPerMTok     float64 `json:"output_per_mtok" yaml:"output_per_mtok"`
	CacheReadPerMTok  float64 `json:"cache_read_per_mtok,omitempty" yaml:"cache_read_per_mtok,omitempty"`
	CacheWritePerMTok float64 `json:"cache_write_per_mtok,omitempty" yaml:"cache_write_per_mtok,omitempty"`
}

// Ref returns the catalogue key for this model.
func (m Model) Ref() ModelRef {
	return ModelRef{Provider: m.Provider, ID: m.ID}
}

// SupportsModality reports whether the model accepts the given input
// modality (e.g. "text", "image").
func (m Model) SupportsModality(modality string) bool {
	for _, mod := range m.InputModalities {
		if mod == modality {
			return true
		}
	}
	return false
}

// EstimateCost computes the dollar cost of a Usage against this model's
// list pricing.
func (m Model) EstimateCost(u Usage) Cost {
	c := Cost{
		Input:      float64(u.Input) / 1_000_000 * m.Cost.InputPerMTok,
		Output:     float64(u.Output) / 1_000_000 * m.Cost.OutputPerMTok,
		CacheRead:  float64(u.CacheRead) / 1_000_000 * m.Cost.CacheReadPerMTok,
		CacheWrite: float64(u.CacheWrite) / 1_000_000 * m.Cost.CacheWritePerMTok,
	}
	c.Total = c.Input + c.Output + c.CacheRead + c.CacheWrite
	return c
}
