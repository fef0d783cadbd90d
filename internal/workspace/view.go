package workspace

import (
	"slices"

	"github.com/byteforge/forgelive/internal/ws"
)

// OpenFile adds a file to the open set, moves it to the most recent position
// and makes it active.
func (w *Workspace) OpenFile(id ws.ID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.nodes[id]
	if !ok {
		return ErrNotFound
	}
	if n.IsFolder() {
		return ErrNotFile
	}
	w.openFiles = slices.DeleteFunc(w.openFiles, func(f ws.ID) bool { return f == id })
	w.openFiles = append(w.openFiles, id)
	w.active = id
	w.hasActive = true
	return nil
}

// CloseFile removes a file from the open set. Closing the active file
// activates the most recently opened remaining one.
func (w *Workspace) CloseFile(id ws.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.openFiles = slices.DeleteFunc(w.openFiles, func(f ws.ID) bool { return f == id })
	if w.hasActive && w.active == id {
		w.fallbackActiveLocked()
	}
}

func (w *Workspace) fallbackActiveLocked() {
	if len(w.openFiles) == 0 {
		w.active = 0
		w.hasActive = false
		return
	}
	w.active = w.openFiles[len(w.openFiles)-1]
	w.hasActive = true
}

// OpenFiles returns the open file ids, most recent last.
func (w *Workspace) OpenFiles() []ws.ID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return slices.Clone(w.openFiles)
}

// Active returns the active file, if any.
func (w *Workspace) Active() (FileNode, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.hasActive {
		return FileNode{}, false
	}
	n, ok := w.nodes[w.active]
	if !ok {
		return FileNode{}, false
	}
	return n.clone(), true
}

func (w *Workspace) OpenFolder(id ws.ID) {
	w.mu.Lock()
	w.openFolders[id] = true
	w.mu.Unlock()
}

// ToggleFolder flips a folder's expanded state and returns the new state.
func (w *Workspace) ToggleFolder(id ws.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openFolders[id] {
		delete(w.openFolders, id)
		return false
	}
	w.openFolders[id] = true
	return true
}

func (w *Workspace) IsFolderOpen(id ws.ID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.openFolders[id]
}
