package auditlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/opencode-teams/core/internal/types"
)

func TestRecordAndRecentDispatch(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	entry := types.DispatchLogEntry{
		ID:        "entry-1",
		RuleID:    "rule-1",
		EventType: types.EventTaskCreated,
		Success:   true,
		Details:   "assigned task-1 to agent-1",
		Timestamp: time.Now(),
	}
	if err := store.RecordDispatch("alpha", entry); err != nil {
		t.Fatalf("RecordDispatch failed: %v", err)
	}

	got, err := store.RecentDispatch("alpha", 10)
	if err != nil {
		t.Fatalf("RecentDispatch failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "entry-1" || !got[0].Success {
		t.Fatalf("unexpected dispatch rows: %+v", got)
	}
}

func TestRecordAndRecentEvents(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	evt := types.Event{
		ID:        "evt-1",
		Type:      types.EventTaskCompleted,
		TeamName:  "alpha",
		Timestamp: time.Now(),
		Payload:   map[string]interface{}{"taskId": "task-1"},
	}
	if err := store.RecordEvent(evt); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	got, err := store.RecentEvents("alpha", 10)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt-1" || got[0].Payload["taskId"] != "task-1" {
		t.Fatalf("unexpected event rows: %+v", got)
	}
}

func TestRecentDispatchRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	for i := 0; i < 5; i++ {
		entry := types.DispatchLogEntry{
			ID:        string(rune('a' + i)),
			RuleID:    "rule-1",
			EventType: types.EventTaskCreated,
			Success:   true,
			Details:   "ok",
			Timestamp: time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.RecordDispatch("alpha", entry); err != nil {
			t.Fatalf("RecordDispatch %d failed: %v", i, err)
		}
	}

	got, err := store.RecentDispatch("alpha", 3)
	if err != nil {
		t.Fatalf("RecentDispatch failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected limit=3 rows, got %d", len(got))
	}
}
