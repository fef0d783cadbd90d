// Package mirror keeps a local directory in step with a project's files.
// Remote changes are written to disk; edits made on disk are pushed back as
// file saves.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/byteforge/forgelive/internal/workspace"
	"github.com/byteforge/forgelive/internal/ws"
)

// Saver pushes a file's content to the server. *ws.Client satisfies it.
type Saver interface {
	SaveFile(ctx context.Context, fileID ws.ID, content string) error
}

const DefaultDebounce = 100 * time.Millisecond

type Mirror struct {
	dir   string
	files *workspace.Workspace
	saver Saver
	log   *slog.Logger

	// Debounce coalesces bursts of writes to one path before pushing.
	Debounce time.Duration

	mu      sync.Mutex
	paths   map[ws.ID]string  // id -> slash path relative to dir
	byPath  map[string]ws.ID  // inverse of paths
	written map[string]string // last content known to match disk, by rel path
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
}

func New(dir string, files *workspace.Workspace, saver Saver, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		dir:      dir,
		files:    files,
		saver:    saver,
		log:      logger,
		Debounce: DefaultDebounce,
		paths:    make(map[ws.ID]string),
		byPath:   make(map[string]ws.ID),
		written:  make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// relPath maps a project path to a path below the mirror root. Paths that
// would escape the root are rejected.
func relPath(p string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("unsafe project path %q", p)
	}
	return rel, nil
}

func (m *Mirror) abs(rel string) string {
	return filepath.Join(m.dir, filepath.FromSlash(rel))
}

// Materialize writes every node of the workspace to disk. Folders are created
// first so files always have a parent directory.
func (m *Mirror) Materialize() error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}
	nodes := m.files.Files()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, folders := range []bool{true, false} {
		for _, n := range nodes {
			if n.IsFolder() != folders || n.Pending() {
				continue
			}
			if err := m.writeNodeLocked(n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Mirror) writeNodeLocked(n workspace.FileNode) error {
	rel, err := relPath(n.Path)
	if err != nil {
		return err
	}
	m.track(n.ID, rel)
	p := m.abs(rel)
	if n.IsFolder() {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", rel, err)
		}
		m.watchLocked(p)
		return nil
	}
	content := ""
	if n.Content != nil {
		content = *n.Content
	}
	return m.writeFileLocked(rel, content)
}

func (m *Mirror) writeFileLocked(rel, content string) error {
	if cur, ok := m.written[rel]; ok && cur == content {
		return nil
	}
	p := m.abs(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}
	m.written[rel] = content
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		delete(m.written, rel)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func (m *Mirror) track(id ws.ID, rel string) {
	if old, ok := m.paths[id]; ok {
		delete(m.byPath, old)
	}
	m.paths[id] = rel
	m.byPath[rel] = id
}

// untrackTree forgets rel and everything below it.
func (m *Mirror) untrackTree(rel string) {
	for id, p := range m.paths {
		if p == rel || strings.HasPrefix(p, rel+"/") {
			delete(m.paths, id)
			delete(m.byPath, p)
			delete(m.written, p)
		}
	}
}

// HandleEvent reflects file events on disk. It must be subscribed after the
// workspace so the workspace has already applied the event.
func (m *Mirror) HandleEvent(ev ws.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case *ws.FileSaved:
		rel, ok := m.paths[e.FileID]
		if !ok {
			return nil
		}
		return m.writeFileLocked(rel, e.Content)

	case *ws.FileCreated:
		n, ok := m.files.Get(e.File.ID)
		if !ok {
			return nil
		}
		return m.writeNodeLocked(n)

	case *ws.FileDeleted:
		rel, ok := m.paths[e.FileID]
		if !ok {
			return nil
		}
		m.untrackTree(rel)
		if err := os.RemoveAll(m.abs(rel)); err != nil {
			return fmt.Errorf("remove %s: %w", rel, err)
		}

	case *ws.FileRenamed:
		oldRel, ok := m.paths[e.FileID]
		n, found := m.files.Get(e.FileID)
		if !ok || !found {
			return nil
		}
		newRel, err := relPath(n.Path)
		if err != nil {
			return err
		}
		if newRel == oldRel {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(m.abs(newRel)), 0o755); err != nil {
			return err
		}
		if err := os.Rename(m.abs(oldRel), m.abs(newRel)); err != nil {
			return fmt.Errorf("rename %s: %w", oldRel, err)
		}
		m.moveTree(oldRel, newRel)
		if n.IsFolder() {
			m.watchLocked(m.abs(newRel))
		}
	}
	return nil
}

func (m *Mirror) moveTree(oldRel, newRel string) {
	for id, p := range m.paths {
		var np string
		switch {
		case p == oldRel:
			np = newRel
		case strings.HasPrefix(p, oldRel+"/"):
			np = newRel + p[len(oldRel):]
		default:
			continue
		}
		delete(m.byPath, p)
		m.paths[id] = np
		m.byPath[np] = id
		if c, ok := m.written[p]; ok {
			delete(m.written, p)
			m.written[np] = c
		}
	}
}

func (m *Mirror) watchLocked(dir string) {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		m.log.Warn("watch failed", "dir", dir, "err", err)
	}
}

// Run watches the mirror directory until ctx is done, pushing local edits of
// known files to the server.
func (m *Mirror) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	m.mu.Lock()
	m.watcher = watcher
	err = filepath.WalkDir(m.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("watch %s: %w", m.dir, err)
	}
	defer func() {
		m.mu.Lock()
		m.watcher = nil
		for _, t := range m.timers {
			t.Stop()
		}
		m.mu.Unlock()
	}()

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			m.onFSEvent(ctx, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("watcher error", "err", err)
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *Mirror) onFSEvent(ctx context.Context, ev fsnotify.Event) {
	rel, err := filepath.Rel(m.dir, ev.Name)
	if err != nil || !filepath.IsLocal(rel) {
		return
	}
	rel = filepath.ToSlash(rel)

	if ev.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			m.mu.Lock()
			m.watchLocked(ev.Name)
			m.mu.Unlock()
			return
		}
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byPath[rel]; !ok {
		m.log.Debug("ignoring change to untracked file", "path", rel)
		return
	}
	if t, ok := m.timers[rel]; ok {
		t.Stop()
	}
	m.timers[rel] = time.AfterFunc(m.Debounce, func() { m.push(ctx, rel) })
}

// push sends the current disk content of rel unless it is what the mirror
// itself last wrote or pushed.
func (m *Mirror) push(ctx context.Context, rel string) {
	data, err := os.ReadFile(m.abs(rel))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.log.Warn("read changed file", "path", rel, "err", err)
		}
		return
	}
	content := string(data)

	m.mu.Lock()
	delete(m.timers, rel)
	id, ok := m.byPath[rel]
	if !ok || m.written[rel] == content {
		m.mu.Unlock()
		return
	}
	m.written[rel] = content
	m.mu.Unlock()

	if err := m.files.Edit(id, content); err != nil {
		m.log.Warn("local edit rejected", "path", rel, "err", err)
		return
	}
	if err := m.saver.SaveFile(ctx, id, content); err != nil {
		m.log.Warn("push failed", "path", rel, "file_id", id, "err", err)
		m.mu.Lock()
		if m.written[rel] == content {
			delete(m.written, rel)
		}
		m.mu.Unlock()
		return
	}
	m.log.Info("pushed local edit", "path", rel, "file_id", id, "bytes", len(data))
}
