// Package sessions implements the append-only session journal: a
// JSON-Lines file whose entries form a parent-pointer DAG, and whose
// build_session_context algorithm reconstructs the active conversation
// respecting compactions and branches.
package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	compactionPrefix = "[Earlier conversation was summarized]\n\n"
	compactionSuffix = "\n\n[End of summary — continue from here]"

	branchSummaryPrefix = "[Branch summary]\n\n"
	branchSummarySuffix = "\n\n[End of branch summary]"
)

// Journal is a single-writer handle to one session's on-disk JSONL file. It
// keeps an in-memory index of every entry seen (by id) so that active-path
// reconstruction and rewind do not require re-reading the file.
type Journal struct {
	mu sync.Mutex

	path   string
	file   *os.File
	header models.SessionHeader

	byID    map[string]*models.SessionEntry
	order   []string // ids in append order, for diagnostics
	counter uint64
	leafID  string
}

// Create creates a brand-new journal file at path, writing the header as
// its first line. Fails if the file already exists.
func Create(path string, header models.SessionHeader) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessions: create journal %q: %w", path, err)
	}
	line, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sessions: encode header: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, fmt.Errorf("sessions: write header: %w", err)
	}
	return &Journal{
		path:   path,
		file:   f,
		header: header,
		byID:   make(map[string]*models.SessionEntry),
	}, nil
}

// Open loads an existing journal, replaying every entry to rebuild the
// parent-pointer index, the id counter, and the leaf cursor (the last
// entry appended, in file order). Readers tolerate empty lines but reject
// a malformed or partial final line — the signature of a write interrupted
// by a crash.
func Open(path string) (*Journal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sessions: open journal %q: %w", path, err)
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("sessions: journal %q has no header", path)
	}

	var header models.SessionHeader
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		return nil, fmt.Errorf("sessions: malformed header in %q: %w", path, err)
	}

	j := &Journal{path: path, header: header, byID: make(map[string]*models.SessionEntry)}

	var maxObserved uint64
	var entryCount int
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry models.SessionEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("sessions: malformed entry in %q (possible partial write): %w", path, err)
		}
		entryCount++
		j.byID[entry.ID] = &entry
		j.order = append(j.order, entry.ID)
		j.leafID = entry.ID

		if v, err := strconv.ParseUint(entry.ID, 16, 64); err == nil && v > maxObserved {
			maxObserved = v
		}
	}

	j.counter = maxObserved
	if uint64(entryCount) > j.counter {
		j.counter = uint64(entryCount)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessions: reopen journal %q for append: %w", path, err)
	}
	j.file = f

	return j, nil
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	return j.file.Close()
}

// Header returns the journal's header line.
func (j *Journal) Header() models.SessionHeader {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.header
}

// LeafID returns the current active-branch cursor.
func (j *Journal) LeafID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.leafID
}

// Append writes entry as a new line, assigning it the next monotone hex id
// and, unless the journal is empty, the current leaf as its parent. The
// cursor advances to the new entry.
func (j *Journal) Append(entry models.SessionEntry) (models.SessionEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.counter++
	entry.ID = fmt.Sprintf("%08x", j.counter)
	if j.leafID != "" {
		entry.ParentID = j.leafID
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return models.SessionEntry{}, fmt.Errorf("sessions: encode entry: %w", err)
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return models.SessionEntry{}, fmt.Errorf("sessions: append entry: %w", err)
	}

	stored := entry
	j.byID[entry.ID] = &stored
	j.order = append(j.order, entry.ID)
	j.leafID = entry.ID

	return entry, nil
}

// AppendMessage is a convenience wrapper appending a Message-kind entry.
func (j *Journal) AppendMessage(msg models.Message) (models.SessionEntry, error) {
	return j.Append(models.SessionEntry{Kind: models.SessionEntryMessage, Message: &msg})
}

// Branch moves the leaf cursor to an existing entry id without writing a
// new entry.
func (j *Journal) Branch(id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.byID[id]; !ok {
		return fmt.Errorf("sessions: unknown entry id %q", id)
	}
	j.leafID = id
	return nil
}

// BranchWithSummary optionally branches to fromID, then appends a
// BranchSummary entry as the new leaf.
func (j *Journal) BranchWithSummary(fromID, summary string) (models.SessionEntry, error) {
	if fromID != "" {
		if err := j.Branch(fromID); err != nil {
			return models.SessionEntry{}, err
		}
	}
	return j.Append(models.SessionEntry{
		Kind:    models.SessionEntryBranchSummary,
		FromID:  fromID,
		Summary: summary,
	})
}

// RewindLeafIfLastAssistantError moves the leaf cursor to the parent of the
// current leaf iff the current leaf is an assistant Message entry with
// StopReason Error, returning whether it moved. The failed entry is not
// deleted — it remains in the journal on what becomes a sibling branch.
func (j *Journal) RewindLeafIfLastAssistantError() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	leaf, ok := j.byID[j.leafID]
	if !ok || leaf.Kind != models.SessionEntryMessage || leaf.Message == nil {
		return false
	}
	if leaf.Message.Role != models.RoleAssistant || leaf.Message.StopReason != models.StopReasonError {
		return false
	}
	j.leafID = leaf.ParentID
	return true
}

// activePathLocked walks parent pointers from leafID back to the root and
// returns them in root-to-leaf order. Caller must hold j.mu.
func (j *Journal) activePathLocked() []models.SessionEntry {
	var reverse []models.SessionEntry
	id := j.leafID
	for id != "" {
		e, ok := j.byID[id]
		if !ok {
			break
		}
		reverse = append(reverse, *e)
		id = e.ParentID
	}
	for i, k := 0, len(reverse)-1; i < k; i, k = i+1, k-1 {
		reverse[i], reverse[k] = reverse[k], reverse[i]
	}
	return reverse
}

// ActivePath returns the active-branch entries from root to leaf.
func (j *Journal) ActivePath() []models.SessionEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.activePathLocked()
}

// ContextBearingIDs returns the ids of context-bearing entries along the
// active path, in order — used by compact_keep_recent to compute
// first_kept_entry_id.
func (j *Journal) ContextBearingIDs() []string {
	path := j.ActivePath()
	ids := make([]string, 0, len(path))
	for _, e := range path {
		if e.IsContextBearing() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// BuildSessionContext reconstructs the active conversation: the path from
// root to leaf, projected to context-bearing entries, with any prefix
// before the latest Compaction replaced by a synthetic user message
// carrying that compaction's summary.
func (j *Journal) BuildSessionContext() []models.Message {
	path := j.ActivePath()

	compactionIdx := -1
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].Kind == models.SessionEntryCompaction {
			compactionIdx = i
			break
		}
	}

	if compactionIdx < 0 {
		var messages []models.Message
		for _, e := range path {
			messages = append(messages, entryMessages(e)...)
		}
		return messages
	}

	comp := path[compactionIdx]
	messages := []models.Message{
		models.NewUserMessage(compactionPrefix+comp.Summary+compactionSuffix, comp.Timestamp),
	}

	kept := comp.FirstKeptEntryID == ""
	for i, e := range path {
		if i == compactionIdx {
			continue
		}
		if i < compactionIdx {
			if !kept {
				if e.ID == comp.FirstKeptEntryID {
					kept = true
				} else {
					continue
				}
			}
		}
		messages = append(messages, entryMessages(e)...)
	}
	return messages
}

// entryMessages projects one context-bearing entry onto zero or more
// Messages. Non-context-bearing kinds (ModelChange, ThinkingLevelChange,
// Custom, Label, SessionInfo) yield nothing.
func entryMessages(e models.SessionEntry) []models.Message {
	switch e.Kind {
	case models.SessionEntryMessage, models.SessionEntryCustomMessage:
		if e.Message != nil {
			return []models.Message{*e.Message}
		}
		return nil
	case models.SessionEntryBranchSummary:
		return []models.Message{models.NewUserMessage(branchSummaryPrefix+e.Summary+branchSummarySuffix, e.Timestamp)}
	default:
		return nil
	}
}
