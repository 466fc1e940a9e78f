package storage

import (
	"path/filepath"
	"testing"

	"pricebasket/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ops.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCommandQueue(t *testing.T) {
	store := newTestStore(t)

	if err := store.QueueCommand(models.CmdScrapeSource, &models.CommandParams{SourceID: 7}); err != nil {
		t.Fatalf("queue: %v", err)
	}
	if err := store.QueueCommand(models.CmdPause, nil); err != nil {
		t.Fatalf("queue: %v", err)
	}

	cmds, err := store.GetPendingCommands()
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("expected 2 pending commands, got %d", len(cmds))
	}
	if cmds[0].Command != models.CmdScrapeSource {
		t.Errorf("expected scrape_source first, got %s", cmds[0].Command)
	}

	params, err := store.ParseCommandParams(&cmds[0])
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}
	if params.SourceID != 7 {
		t.Errorf("expected source id 7, got %d", params.SourceID)
	}

	if err := store.MarkCommandProcessed(cmds[0].ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	cmds, err = store.GetPendingCommands()
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(cmds) != 1 || cmds[0].Command != models.CmdPause {
		t.Errorf("expected only the pause command pending, got %v", cmds)
	}
}

func TestResumeCheckpoints(t *testing.T) {
	store := newTestStore(t)

	// Nothing checkpointed yet.
	page, err := store.GetResumePage(1, "dairy")
	if err != nil {
		t.Fatalf("get resume: %v", err)
	}
	if page != 0 {
		t.Errorf("expected 0 without a checkpoint, got %d", page)
	}

	if err := store.SetResumePage(1, "dairy", 3); err != nil {
		t.Fatalf("set resume: %v", err)
	}
	if err := store.SetResumePage(1, "dairy", 4); err != nil {
		t.Fatalf("set resume: %v", err)
	}
	if err := store.SetResumePage(1, "bakery", 9); err != nil {
		t.Fatalf("set resume: %v", err)
	}

	page, _ = store.GetResumePage(1, "dairy")
	if page != 4 {
		t.Errorf("expected latest checkpoint 4, got %d", page)
	}

	// Clearing one category leaves the other intact.
	if err := store.ClearResumePage(1, "dairy"); err != nil {
		t.Fatalf("clear resume: %v", err)
	}
	if page, _ = store.GetResumePage(1, "dairy"); page != 0 {
		t.Errorf("expected cleared checkpoint, got %d", page)
	}
	if page, _ = store.GetResumePage(1, "bakery"); page != 9 {
		t.Errorf("expected bakery checkpoint untouched, got %d", page)
	}

	if err := store.ClearResumePages(1); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if page, _ = store.GetResumePage(1, "bakery"); page != 0 {
		t.Errorf("expected all checkpoints cleared, got %d", page)
	}
}

func TestScrapeLogs(t *testing.T) {
	store := newTestStore(t)

	runID := int64(12)
	if err := store.Log(&runID, models.LogLevelInfo, "starting", 1); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := store.Log(&runID, models.LogLevelError, "category failed", 1); err != nil {
		t.Fatalf("log: %v", err)
	}
	if err := store.Log(nil, models.LogLevelInfo, "unrelated", 2); err != nil {
		t.Fatalf("log: %v", err)
	}

	logs, err := store.GetLogsForRun(runID, 10)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 log lines for run, got %d", len(logs))
	}
	// Newest first.
	if logs[0].Level != models.LogLevelError || logs[0].Message != "category failed" {
		t.Errorf("unexpected first line: %+v", logs[0])
	}
}
