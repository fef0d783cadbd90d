// Package workspace holds the local model of a project's files: the flat
// node collection kept live by protocol events, the derived tree view, and
// the editor view state (open folders, open files, active file).
package workspace

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/byteforge/forgelive/internal/ws"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrNotFile  = errors.New("not a file")
)

type NodeType string

const (
	File   NodeType = ws.FileTypeFile
	Folder NodeType = ws.FileTypeFolder
)

// FileNode is one file or folder. HasUnsavedChanges is local-only state and is
// never sent to the server.
type FileNode struct {
	ID                ws.ID    `json:"id"`
	Name              string   `json:"name"`
	Path              string   `json:"path"`
	Type              NodeType `json:"type"`
	ParentID          *ws.ID   `json:"parentId,omitempty"`
	Content           *string  `json:"content,omitempty"`
	HasUnsavedChanges bool     `json:"-"`
}

func (n FileNode) IsFolder() bool { return n.Type == Folder }

// Pending reports whether the node was created locally and not yet
// acknowledged by the server.
func (n FileNode) Pending() bool { return n.ID < 0 }

func (n FileNode) clone() FileNode {
	c := n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.Content != nil {
		s := *n.Content
		c.Content = &s
	}
	return c
}

// FromWire converts a server file description into a node.
func FromWire(f ws.File) FileNode {
	n := FileNode{
		ID:   f.ID,
		Name: f.Name,
		Path: f.Path,
		Type: NodeType(strings.ToUpper(f.Type)),
	}
	if f.ParentID != nil && *f.ParentID != 0 {
		p := *f.ParentID
		n.ParentID = &p
	}
	if f.Content != nil {
		s := *f.Content
		n.Content = &s
	}
	return n
}

// Workspace owns the flat file collection. All mutation goes through its
// methods; callers only ever receive copies.
type Workspace struct {
	log *slog.Logger

	mu          sync.RWMutex
	nodes       map[ws.ID]*FileNode
	openFolders map[ws.ID]bool
	openFiles   []ws.ID // open order, most recent last
	active      ws.ID
	hasActive   bool
	nextLocal   ws.ID
}

func New(logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		log:         logger,
		nodes:       make(map[ws.ID]*FileNode),
		openFolders: make(map[ws.ID]bool),
	}
}

// Load replaces the collection with a bulk listing. View state that refers to
// nodes no longer present is dropped.
func (w *Workspace) Load(files []FileNode) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nodes = make(map[ws.ID]*FileNode, len(files))
	for _, f := range files {
		n := f.clone()
		n.HasUnsavedChanges = false
		w.nodes[n.ID] = &n
	}
	for id := range w.openFolders {
		if _, ok := w.nodes[id]; !ok {
			delete(w.openFolders, id)
		}
	}
	w.openFiles = slices.DeleteFunc(w.openFiles, func(id ws.ID) bool {
		_, ok := w.nodes[id]
		return !ok
	})
	if w.hasActive {
		if _, ok := w.nodes[w.active]; !ok {
			w.fallbackActiveLocked()
		}
	}
}

func (w *Workspace) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.nodes)
}

func (w *Workspace) Get(id ws.ID) (FileNode, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n, ok := w.nodes[id]
	if !ok {
		return FileNode{}, false
	}
	return n.clone(), true
}

// FindByPath returns the node at path, if any.
func (w *Workspace) FindByPath(path string) (FileNode, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, n := range w.nodes {
		if n.Path == path {
			return n.clone(), true
		}
	}
	return FileNode{}, false
}

// Files returns a copy of the flat collection ordered by id.
func (w *Workspace) Files() []FileNode {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]FileNode, 0, len(w.nodes))
	for _, n := range w.nodes {
		out = append(out, n.clone())
	}
	slices.SortFunc(out, func(a, b FileNode) int { return compareIDs(a.ID, b.ID) })
	return out
}

// DirtyFiles lists files with local edits the server has not confirmed.
func (w *Workspace) DirtyFiles() []FileNode {
	var out []FileNode
	for _, n := range w.Files() {
		if n.HasUnsavedChanges {
			out = append(out, n)
		}
	}
	return out
}

// Edit records a local change to a file's content.
func (w *Workspace) Edit(id ws.ID, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		return ErrNotFound
	}
	if n.IsFolder() {
		return ErrNotFile
	}
	n.Content = &content
	n.HasUnsavedChanges = true
	return nil
}

// CreateLocal adds a node ahead of the server's acknowledgement. The returned
// id is negative and is replaced when the matching FILE_CREATED arrives.
func (w *Workspace) CreateLocal(name, path string, typ NodeType, parentID *ws.ID) ws.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextLocal--
	n := &FileNode{
		ID:                w.nextLocal,
		Name:              name,
		Path:              path,
		Type:              typ,
		HasUnsavedChanges: true,
	}
	if parentID != nil {
		p := *parentID
		n.ParentID = &p
		w.openFolders[p] = true
	}
	if typ == File {
		empty := ""
		n.Content = &empty
	}
	w.nodes[n.ID] = n
	return n.ID
}

// ApplyRemoteSave overwrites a file's content with the server's copy and
// clears its unsaved flag. Unknown ids are ignored.
func (w *Workspace) ApplyRemoteSave(id ws.ID, content string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		w.log.Warn("save for unknown file", "file_id", id)
		return false
	}
	if n.HasUnsavedChanges && n.Content != nil && *n.Content != content {
		w.log.Info("remote save overrides local edit", "file_id", id, "path", n.Path)
	}
	n.Content = &content
	n.HasUnsavedChanges = false
	return true
}

// ApplyRemoteCreate inserts node unless its id is already present. It reports
// whether the node was inserted. A pending local node with the same path and
// type is replaced by the acknowledged one.
func (w *Workspace) ApplyRemoteCreate(node FileNode) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if node.ParentID != nil {
		w.openFolders[*node.ParentID] = true
	}
	if _, ok := w.nodes[node.ID]; ok {
		w.log.Debug("duplicate create ignored", "file_id", node.ID)
		return false
	}

	n := node.clone()
	n.HasUnsavedChanges = false
	w.nodes[n.ID] = &n

	for id, p := range w.nodes {
		if id < 0 && p.Path == n.Path && p.Type == n.Type {
			w.replaceLocked(id, n.ID)
			break
		}
	}
	return true
}

// replaceLocked moves every reference from the pending id old to id.
func (w *Workspace) replaceLocked(old, id ws.ID) {
	delete(w.nodes, old)
	for _, c := range w.nodes {
		if c.ParentID != nil && *c.ParentID == old {
			p := id
			c.ParentID = &p
		}
	}
	if w.openFolders[old] {
		delete(w.openFolders, old)
		w.openFolders[id] = true
	}
	for i, f := range w.openFiles {
		if f == old {
			w.openFiles[i] = id
		}
	}
	if w.hasActive && w.active == old {
		w.active = id
	}
}

// ApplyRemoteDelete removes a node and, for folders, everything below it. If
// the active file goes away the most recently opened remaining file becomes
// active.
func (w *Workspace) ApplyRemoteDelete(id ws.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.nodes[id]; !ok {
		w.log.Warn("delete for unknown file", "file_id", id)
		return false
	}

	gone := w.subtreeLocked(id)
	for _, g := range gone {
		delete(w.nodes, g)
		delete(w.openFolders, g)
	}
	removed := make(map[ws.ID]bool, len(gone))
	for _, g := range gone {
		removed[g] = true
	}
	w.openFiles = slices.DeleteFunc(w.openFiles, func(f ws.ID) bool { return removed[f] })
	if w.hasActive && removed[w.active] {
		w.fallbackActiveLocked()
	}
	return true
}

// ApplyRemoteRename updates a node's name and path. An empty newPath keeps
// the node in its directory under the new name. Descendants of a renamed
// folder have their path prefix rewritten.
func (w *Workspace) ApplyRemoteRename(id ws.ID, name, newPath string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		w.log.Warn("rename for unknown file", "file_id", id)
		return false
	}
	oldPath := n.Path
	if newPath == "" {
		newPath = renamedPath(oldPath, name)
	}
	n.Name = name
	n.Path = newPath
	if n.IsFolder() && oldPath != "" && oldPath != newPath {
		for _, d := range w.subtreeLocked(id)[1:] {
			c := w.nodes[d]
			if rest, ok := strings.CutPrefix(c.Path, oldPath+"/"); ok {
				c.Path = newPath + "/" + rest
			}
		}
	}
	return true
}

// renamedPath replaces the last segment of p with name.
func renamedPath(p, name string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return name
	}
	return p[:i+1] + name
}

// subtreeLocked returns id followed by all of its descendants.
func (w *Workspace) subtreeLocked(id ws.ID) []ws.ID {
	children := make(map[ws.ID][]ws.ID)
	for cid, n := range w.nodes {
		if n.ParentID != nil && *n.ParentID != cid {
			children[*n.ParentID] = append(children[*n.ParentID], cid)
		}
	}
	out := []ws.ID{id}
	seen := map[ws.ID]bool{id: true}
	for i := 0; i < len(out); i++ {
		for _, c := range children[out[i]] {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// HandleEvent applies file events from the router. Other events are ignored.
func (w *Workspace) HandleEvent(ev ws.Event) error {
	switch e := ev.(type) {
	case *ws.FileSaved:
		w.ApplyRemoteSave(e.FileID, e.Content)
	case *ws.FileCreated:
		w.ApplyRemoteCreate(FromWire(*e.File))
	case *ws.FileDeleted:
		w.ApplyRemoteDelete(e.FileID)
	case *ws.FileRenamed:
		w.ApplyRemoteRename(e.FileID, e.Name, e.NewPath)
	}
	return nil
}

func compareIDs(a, b ws.ID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
