package mirror

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/byteforge/forgelive/internal/workspace"
	"github.com/byteforge/forgelive/internal/ws"
)

type fakeSaver struct {
	mu    sync.Mutex
	saves []string
	ids   []ws.ID
}

func (f *fakeSaver) SaveFile(_ context.Context, id ws.ID, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	f.saves = append(f.saves, content)
	return nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

func idp(n ws.ID) *ws.ID { return &n }

func strp(s string) *string { return &s }

func setup(t *testing.T) (*Mirror, *workspace.Workspace, *fakeSaver, string) {
	t.Helper()
	dir := t.TempDir()
	w := workspace.New(nil)
	w.Load([]workspace.FileNode{
		{ID: 1, Name: "src", Path: "/src", Type: workspace.Folder},
		{ID: 2, Name: "main.py", Path: "/src/main.py", Type: workspace.File, ParentID: idp(1), Content: strp("print(1)\n")},
		{ID: 3, Name: "README", Path: "/README", Type: workspace.File},
	})
	s := &fakeSaver{}
	m := New(dir, w, s, nil)
	m.Debounce = 10 * time.Millisecond
	if err := m.Materialize(); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	return m, w, s, dir
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

// apply runs an event through the workspace, then the mirror, as the router
// would with both subscribed in that order.
func apply(t *testing.T, w *workspace.Workspace, m *Mirror, frame string) {
	t.Helper()
	ev, err := ws.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w.HandleEvent(ev)
	if err := m.HandleEvent(ev); err != nil {
		t.Fatalf("mirror %s: %v", ev.EventType(), err)
	}
}

func TestMaterialize(t *testing.T) {
	_, _, _, dir := setup(t)
	if got := readFile(t, filepath.Join(dir, "src", "main.py")); got != "print(1)\n" {
		t.Errorf("main.py = %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "README")); got != "" {
		t.Errorf("README = %q", got)
	}
	if fi, err := os.Stat(filepath.Join(dir, "src")); err != nil || !fi.IsDir() {
		t.Errorf("src folder: %v", err)
	}
}

func TestMaterializeRejectsEscapingPath(t *testing.T) {
	w := workspace.New(nil)
	w.Load([]workspace.FileNode{{ID: 1, Name: "x", Path: "/../outside", Type: workspace.File}})
	m := New(t.TempDir(), w, &fakeSaver{}, nil)
	if err := m.Materialize(); err == nil {
		t.Error("expected error for path escaping the mirror root")
	}
}

func TestRemoteEventsReachDisk(t *testing.T) {
	m, w, _, dir := setup(t)

	apply(t, w, m, `{"type":"FILE_SAVED","fileId":2,"content":"print(2)\n"}`)
	if got := readFile(t, filepath.Join(dir, "src", "main.py")); got != "print(2)\n" {
		t.Errorf("after save = %q", got)
	}

	apply(t, w, m, `{"type":"FILE_CREATED","file":{"id":4,"name":"lib","path":"/src/lib","type":"FOLDER","parentId":1}}`)
	apply(t, w, m, `{"type":"FILE_CREATED","file":{"id":5,"name":"u.py","path":"/src/lib/u.py","type":"FILE","parentId":4,"content":"x = 1"}}`)
	if got := readFile(t, filepath.Join(dir, "src", "lib", "u.py")); got != "x = 1" {
		t.Errorf("created file = %q", got)
	}

	apply(t, w, m, `{"type":"FILE_RENAMED","fileId":1,"name":"app","newPath":"/app"}`)
	if got := readFile(t, filepath.Join(dir, "app", "lib", "u.py")); got != "x = 1" {
		t.Errorf("after folder rename = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "src")); !os.IsNotExist(err) {
		t.Errorf("old folder still present: %v", err)
	}

	apply(t, w, m, `{"type":"FILE_SAVED","fileId":5,"content":"x = 2"}`)
	if got := readFile(t, filepath.Join(dir, "app", "lib", "u.py")); got != "x = 2" {
		t.Errorf("save after rename = %q", got)
	}

	apply(t, w, m, `{"type":"FILE_DELETED","fileId":4}`)
	if _, err := os.Stat(filepath.Join(dir, "app", "lib")); !os.IsNotExist(err) {
		t.Errorf("deleted folder still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app", "main.py")); err != nil {
		t.Errorf("sibling removed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startRun(t *testing.T, m *Mirror) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.watcher != nil
	})
}

func TestLocalEditIsPushed(t *testing.T) {
	m, w, s, dir := setup(t)
	startRun(t, m)

	if err := os.WriteFile(filepath.Join(dir, "src", "main.py"), []byte("print(42)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return s.count() >= 1 })

	s.mu.Lock()
	id, content := s.ids[0], s.saves[0]
	s.mu.Unlock()
	if id != 2 || content != "print(42)\n" {
		t.Errorf("pushed %d %q", id, content)
	}
	n, _ := w.Get(2)
	if !n.HasUnsavedChanges || *n.Content != "print(42)\n" {
		t.Errorf("workspace node = %+v", n)
	}

	// the server's broadcast of our own save must not bounce back
	apply(t, w, m, `{"type":"FILE_SAVED","fileId":2,"content":"print(42)\n"}`)
	time.Sleep(100 * time.Millisecond)
	if got := s.count(); got != 1 {
		t.Errorf("saves = %d, want 1", got)
	}
}

func TestRemoteSaveDoesNotEcho(t *testing.T) {
	m, w, s, dir := setup(t)
	startRun(t, m)

	apply(t, w, m, `{"type":"FILE_SAVED","fileId":2,"content":"from server"}`)
	if got := readFile(t, filepath.Join(dir, "src", "main.py")); got != "from server" {
		t.Fatalf("disk = %q", got)
	}
	time.Sleep(150 * time.Millisecond)
	if got := s.count(); got != 0 {
		t.Errorf("remote save echoed %d times", got)
	}
}

func TestUntrackedFileIgnored(t *testing.T) {
	m, _, s, dir := setup(t)
	startRun(t, m)

	if err := os.WriteFile(filepath.Join(dir, "scratch.txt"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := s.count(); got != 0 {
		t.Errorf("untracked file pushed %d times", got)
	}
}
