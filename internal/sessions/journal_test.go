package sessions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	j, err := Create(path, models.NewSessionHeader("s1", "/work", time.Now()))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestCreateAndAppendAssignsSequentialIDs(t *testing.T) {
	j, _ := newTestJournal(t)

	e1, err := j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	if err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if e1.ID != "00000001" {
		t.Errorf("expected id 00000001, got %q", e1.ID)
	}
	if e1.ParentID != "" {
		t.Errorf("expected no parent for first entry, got %q", e1.ParentID)
	}

	e2, err := j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop})
	if err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if e2.ID != "00000002" {
		t.Errorf("expected id 00000002, got %q", e2.ID)
	}
	if e2.ParentID != e1.ID {
		t.Errorf("expected parent %q, got %q", e1.ID, e2.ParentID)
	}
	if j.LeafID() != e2.ID {
		t.Errorf("expected leaf %q, got %q", e2.ID, j.LeafID())
	}
}

func TestOpenReplaysEntriesAndRebuildsLeaf(t *testing.T) {
	j, path := newTestJournal(t)
	j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop})
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()

	if reopened.LeafID() != "00000002" {
		t.Errorf("expected leaf 00000002 after reload, got %q", reopened.LeafID())
	}

	e3, err := reopened.AppendMessage(models.NewUserMessage("again", time.Now()))
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if e3.ID != "00000003" {
		t.Errorf("expected counter to resume at 00000003, got %q", e3.ID)
	}
}

func TestOpenRejectsPartialLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonl")
	j, err := Create(path, models.NewSessionHeader("s1", "/work", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	j.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open for corruption: %v", err)
	}
	if _, err := f.WriteString(`{"id":"00000002","kind":"message"`); err != nil {
		t.Fatalf("write partial line: %v", err)
	}
	f.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected Open to reject a partial final line")
	}
}

func TestOpenTolerateEmptyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blank.jsonl")
	j, err := Create(path, models.NewSessionHeader("s1", "/work", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	j.Close()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("\n\n")
	f.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("expected blank lines to be tolerated, got %v", err)
	}
	reopened.Close()
}

func TestBranchMovesCursorWithoutAppending(t *testing.T) {
	j, _ := newTestJournal(t)
	root, _ := j.AppendMessage(models.NewUserMessage("root", time.Now()))
	j.AppendMessage(models.NewUserMessage("child-a", time.Now()))

	if err := j.Branch(root.ID); err != nil {
		t.Fatalf("branch: %v", err)
	}
	if j.LeafID() != root.ID {
		t.Fatalf("expected leaf back at root, got %q", j.LeafID())
	}

	childB, err := j.AppendMessage(models.NewUserMessage("child-b", time.Now()))
	if err != nil {
		t.Fatalf("append after branch: %v", err)
	}
	if childB.ParentID != root.ID {
		t.Errorf("expected child-b's parent to be root, got %q", childB.ParentID)
	}

	if err := j.Branch("does-not-exist"); err == nil {
		t.Error("expected branching to an unknown id to fail")
	}
}

func textOf(messages []models.Message, i int) string {
	if i >= len(messages) {
		return ""
	}
	return messages[i].Text()
}

func TestBuildSessionContextNoCompaction(t *testing.T) {
	j, _ := newTestJournal(t)
	j.AppendMessage(models.NewUserMessage("hello", time.Now()))
	j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop, Content: []models.ContentBlock{models.TextBlock("hi there")}})
	j.Append(models.SessionEntry{Kind: models.SessionEntryModelChange, ModelProvider: "anthropic", ModelID: "claude"})

	messages := j.BuildSessionContext()
	if len(messages) != 2 {
		t.Fatalf("expected model_change to be skipped, got %d messages", len(messages))
	}
	if textOf(messages, 0) != "hello" || textOf(messages, 1) != "hi there" {
		t.Errorf("unexpected messages: %+v", messages)
	}
}

func TestBuildSessionContextWithCompactionReplacesPrefix(t *testing.T) {
	j, _ := newTestJournal(t)
	j.AppendMessage(models.NewUserMessage("first", time.Now()))
	j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop, Content: []models.ContentBlock{models.TextBlock("first reply")}})
	kept, _ := j.AppendMessage(models.NewUserMessage("kept", time.Now()))
	j.Append(models.SessionEntry{Kind: models.SessionEntryCompaction, Summary: "user greeted twice", FirstKeptEntryID: kept.ID})
	j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop, Content: []models.ContentBlock{models.TextBlock("after compaction")}})

	messages := j.BuildSessionContext()
	if len(messages) != 3 {
		t.Fatalf("expected synthetic summary + kept + after, got %d: %+v", len(messages), messages)
	}
	if !strings.Contains(textOf(messages, 0), "user greeted twice") {
		t.Errorf("expected synthetic summary message, got %q", textOf(messages, 0))
	}
	if textOf(messages, 1) != "kept" {
		t.Errorf("expected kept entry preserved, got %q", textOf(messages, 1))
	}
	if textOf(messages, 2) != "after compaction" {
		t.Errorf("expected post-compaction entry preserved, got %q", textOf(messages, 2))
	}
}

func TestBuildSessionContextCompactionWithoutFirstKeptDropsPrefix(t *testing.T) {
	j, _ := newTestJournal(t)
	j.AppendMessage(models.NewUserMessage("dropped", time.Now()))
	j.Append(models.SessionEntry{Kind: models.SessionEntryCompaction, Summary: "everything summarized"})
	j.AppendMessage(models.NewUserMessage("kept after", time.Now()))

	messages := j.BuildSessionContext()
	if len(messages) != 2 {
		t.Fatalf("expected only synthetic summary + post-compaction entry, got %d: %+v", len(messages), messages)
	}
	if !strings.Contains(textOf(messages, 0), "everything summarized") {
		t.Errorf("unexpected first message: %q", textOf(messages, 0))
	}
}

func TestBranchWithSummaryAppearsAsSyntheticUserMessage(t *testing.T) {
	j, _ := newTestJournal(t)
	root, _ := j.AppendMessage(models.NewUserMessage("root", time.Now()))
	j.AppendMessage(models.NewUserMessage("other branch tip", time.Now()))

	entry, err := j.BranchWithSummary(root.ID, "condensed other branch")
	if err != nil {
		t.Fatalf("BranchWithSummary: %v", err)
	}
	if entry.ParentID != root.ID {
		t.Errorf("expected branch summary parented at root, got %q", entry.ParentID)
	}

	messages := j.BuildSessionContext()
	if len(messages) != 2 {
		t.Fatalf("expected root + synthetic branch summary, got %d: %+v", len(messages), messages)
	}
	if !strings.Contains(textOf(messages, 1), "condensed other branch") {
		t.Errorf("expected synthetic branch summary message, got %q", textOf(messages, 1))
	}
}

func TestRewindLeafIfLastAssistantError(t *testing.T) {
	j, _ := newTestJournal(t)
	user, _ := j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonError, ErrorMessage: "boom"})

	if !j.RewindLeafIfLastAssistantError() {
		t.Fatal("expected rewind to report true")
	}
	if j.LeafID() != user.ID {
		t.Errorf("expected leaf back at user message, got %q", j.LeafID())
	}

	if j.RewindLeafIfLastAssistantError() {
		t.Error("expected second call to be a no-op (leaf is now a user message)")
	}
}

func TestContextBearingIDsSkipsAmbientEntries(t *testing.T) {
	j, _ := newTestJournal(t)
	u, _ := j.AppendMessage(models.NewUserMessage("hi", time.Now()))
	j.Append(models.SessionEntry{Kind: models.SessionEntryModelChange, ModelID: "claude"})
	a, _ := j.AppendMessage(models.Message{Role: models.RoleAssistant, StopReason: models.StopReasonStop})

	ids := j.ContextBearingIDs()
	if len(ids) != 2 || ids[0] != u.ID || ids[1] != a.ID {
		t.Errorf("expected [%s %s], got %v", u.ID, a.ID, ids)
	}
}
