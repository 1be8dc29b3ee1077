package models

import "time"

// SessionEntryKind discriminates the arms of SessionEntry.
type SessionEntryKind string

const (
	SessionEntryMessage             SessionEntryKind = "message"
	SessionEntryBranchSummary       SessionEntryKind = "branch_summary"
	SessionEntryCompaction          SessionEntryKind = "compaction"
	SessionEntryModelChange         SessionEntryKind = "model_change"
	SessionEntryThinkingLevelChange SessionEntryKind = "thinking_level_change"
	SessionEntryCustom              SessionEntryKind = "custom"
	SessionEntryCustomMessage       SessionEntryKind = "custom_message"
	SessionEntryLabel               SessionEntryKind = "label"
	SessionEntryInfo                SessionEntryKind = "session_info"
)

// EntryHeader is the common header every SessionEntry carries, regardless
// of kind. Id is a hex-formatted monotone counter, unique within the
// journal file. ParentID may reference any earlier entry's Id, forming a
// DAG whose leaves represent distinct conversation branches.
type EntryHeader struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionEntry is a tagged sum over the kinds of entries the journal can
// hold, one JSON object per line. Model as a tagged sum with a common
// header extractor; do not rely on dynamic dispatch — pattern-match on
// Kind.
type SessionEntry struct {
	EntryHeader
	Kind SessionEntryKind `json:"kind"`

	// Message (also used by CustomMessage, which layers CustomType/CustomData
	// on top of an ordinary context-bearing message)
	Message *Message `json:"message,omitempty"`

	// BranchSummary
	FromID  string `json:"from_id,omitempty"`
	Summary string `json:"summary,omitempty"`

	// Compaction (FirstKeptEntryID optional; Summary reused above)
	FirstKeptEntryID string `json:"first_kept_entry_id,omitempty"`
	TokensBefore     int    `json:"tokens_before,omitempty"`

	// ModelChange
	ModelProvider string `json:"model_provider,omitempty"`
	ModelID       string `json:"model_id,omitempty"`

	// ThinkingLevelChange
	ThinkingLevel string `json:"thinking_level,omitempty"`

	// Custom / CustomMessage
	CustomType string          `json:"custom_type,omitempty"`
	CustomData []byte          `json:"custom_data,omitempty"`

	// Label
	Label string `json:"label,omitempty"`

	// SessionInfo
	InfoKey   string `json:"info_key,omitempty"`
	InfoValue string `json:"info_value,omitempty"`
}

// IsContextBearing reports whether this entry contributes to
// build_session_context's reconstructed message list. ModelChange,
// ThinkingLevelChange, Custom, Label, and SessionInfo carry no context
// semantics and are skipped during reconstruction.
func (e SessionEntry) IsContextBearing() bool {
	switch e.Kind {
	case SessionEntryMessage, SessionEntryBranchSummary, SessionEntryCompaction, SessionEntryCustomMessage:
		return true
	default:
		return false
	}
}

// SessionHeader is the first line of the journal file.
type SessionHeader struct {
	Type          string    `json:"type"`
	Version       int       `json:"version"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Cwd           string    `json:"cwd"`
	ParentSession string    `json:"parent_session,omitempty"`
}

// NewSessionHeader constructs the header line for a freshly created journal.
func NewSessionHeader(id, cwd string, timestamp time.Time) SessionHeader {
	return SessionHeader{
		Type:      "session",
		Version:   1,
		ID:        id,
		Timestamp: timestamp,
		Cwd:       cwd,
	}
}
