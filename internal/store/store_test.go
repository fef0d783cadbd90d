package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/byteforge/forgelive/internal/workspace"
	"github.com/byteforge/forgelive/internal/ws"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func idp(n ws.ID) *ws.ID { return &n }

func strp(s string) *string { return &s }

// --- Snapshots ---

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	nodes := []workspace.FileNode{
		{ID: 1, Name: "src", Path: "/src", Type: workspace.Folder},
		{ID: 2, Name: "main.go", Path: "/src/main.go", Type: workspace.File, ParentID: idp(1), Content: strp("package main"), HasUnsavedChanges: true},
		{ID: 3, Name: "empty.txt", Path: "/empty.txt", Type: workspace.File, Content: strp("")},
		{ID: -1, Name: "draft.txt", Path: "/draft.txt", Type: workspace.File},
	}
	if err := s.SaveSnapshot("p1", nodes); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, savedAt, err := s.LoadSnapshot("p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if savedAt.IsZero() {
		t.Error("saved_at is zero")
	}
	if len(got) != 3 {
		t.Fatalf("got %d nodes, want 3 (pending node skipped)", len(got))
	}
	if got[0].ParentID != nil || got[0].Content != nil || got[0].Type != workspace.Folder {
		t.Errorf("folder = %+v", got[0])
	}
	if got[1].ParentID == nil || *got[1].ParentID != 1 || *got[1].Content != "package main" {
		t.Errorf("file = %+v", got[1])
	}
	if got[1].HasUnsavedChanges {
		t.Error("unsaved flag persisted")
	}
	if got[2].Content == nil || *got[2].Content != "" {
		t.Errorf("empty content lost: %+v", got[2])
	}
}

func TestSnapshotReplaces(t *testing.T) {
	s := openTestStore(t)
	s.SaveSnapshot("p1", []workspace.FileNode{{ID: 1, Name: "a", Path: "/a", Type: workspace.File}})
	s.SaveSnapshot("p2", []workspace.FileNode{{ID: 9, Name: "z", Path: "/z", Type: workspace.File}})
	if err := s.SaveSnapshot("p1", []workspace.FileNode{{ID: 2, Name: "b", Path: "/b", Type: workspace.File}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _, err := s.LoadSnapshot("p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 {
		t.Errorf("p1 = %+v", got)
	}
	other, _, _ := s.LoadSnapshot("p2")
	if len(other) != 1 || other[0].ID != 9 {
		t.Errorf("p2 = %+v", other)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	s := openTestStore(t)
	got, savedAt, err := s.LoadSnapshot("nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != nil || !savedAt.IsZero() {
		t.Errorf("got %v at %v, want nothing", got, savedAt)
	}
}

func TestSnapshotFeedsWorkspace(t *testing.T) {
	s := openTestStore(t)
	s.SaveSnapshot("p", []workspace.FileNode{
		{ID: 1, Name: "lib", Path: "/lib", Type: workspace.Folder},
		{ID: 2, Name: "x.h", Path: "/lib/x.h", Type: workspace.File, ParentID: idp(1)},
	})
	nodes, _, err := s.LoadSnapshot("p")
	if err != nil {
		t.Fatal(err)
	}
	w := workspace.New(nil)
	w.Load(nodes)
	tree := w.BuildTree()
	if len(tree) != 1 || len(tree[0].Children) != 1 || tree[0].Children[0].Name != "x.h" {
		t.Errorf("tree = %+v", tree)
	}
}

// --- Runs ---

func TestRecordAndListRuns(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)
	code := 3

	for i, r := range []*Run{
		{ProjectID: "p", EntryPoint: "/a.py", State: "COMPLETED", Output: "first\n", StartedAt: start},
		{ProjectID: "q", EntryPoint: "/x.py", State: "COMPLETED", StartedAt: start},
		{ProjectID: "p", EntryPoint: "/b.py", State: "ERRORED", ExitCode: &code, Output: "second\n", StartedAt: start.Add(time.Second)},
	} {
		if err := s.RecordRun(r); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if r.ID == 0 {
			t.Errorf("run %d: id not set", i)
		}
	}

	runs, err := s.Runs("p", 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].EntryPoint != "/b.py" || runs[0].ExitCode == nil || *runs[0].ExitCode != 3 {
		t.Errorf("newest = %+v", runs[0])
	}
	if runs[1].ExitCode != nil || runs[1].Output != "first\n" {
		t.Errorf("oldest = %+v", runs[1])
	}
	if !runs[1].StartedAt.Equal(start) {
		t.Errorf("started_at = %v, want %v", runs[1].StartedAt, start)
	}

	limited, _ := s.Runs("p", 1)
	if len(limited) != 1 || limited[0].EntryPoint != "/b.py" {
		t.Errorf("limit 1 = %+v", limited)
	}
}

func TestRunFinishedAt(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC().Truncate(time.Second)
	end := start.Add(2 * time.Second)
	if err := s.RecordRun(&Run{ProjectID: "p", EntryPoint: "/m.c", State: "COMPLETED", StartedAt: start, FinishedAt: &end}); err != nil {
		t.Fatal(err)
	}
	runs, _ := s.Runs("p", 0)
	if runs[0].FinishedAt == nil || !runs[0].FinishedAt.Equal(end) {
		t.Errorf("finished_at = %v, want %v", runs[0].FinishedAt, end)
	}
}

func TestPruneRuns(t *testing.T) {
	s := openTestStore(t)
	start := time.Now().UTC()
	for i := range 5 {
		s.RecordRun(&Run{ProjectID: "p", EntryPoint: "/a.py", State: "COMPLETED", StartedAt: start.Add(time.Duration(i) * time.Second)})
	}
	s.RecordRun(&Run{ProjectID: "q", EntryPoint: "/b.py", State: "COMPLETED", StartedAt: start})

	n, err := s.PruneRuns("p", 2)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Errorf("removed %d, want 3", n)
	}
	runs, _ := s.Runs("p", 0)
	if len(runs) != 2 || runs[0].ID != 5 || runs[1].ID != 4 {
		t.Errorf("kept = %+v", runs)
	}
	if other, _ := s.Runs("q", 0); len(other) != 1 {
		t.Errorf("other project touched: %d runs", len(other))
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.SaveSnapshot("p", []workspace.FileNode{{ID: 1, Name: "a", Path: "/a", Type: workspace.File}})
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, _, err := s.LoadSnapshot("p")
	if err != nil || len(got) != 1 {
		t.Errorf("after reopen: %v, %v", got, err)
	}
}
