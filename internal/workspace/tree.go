package workspace

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/byteforge/forgelive/internal/ws"
)

// TreeNode is a node of the derived hierarchical view.
type TreeNode struct {
	FileNode
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree derives the hierarchical view from the flat collection. Folders
// sort before files at every level, then by locale-aware name. Nodes whose
// parent is missing surface as roots; a parent cycle is broken at its lowest
// id. The result shares no memory with the collection.
func (w *Workspace) BuildTree() []*TreeNode {
	w.mu.RLock()
	defer w.mu.RUnlock()

	children := make(map[ws.ID][]ws.ID)
	var roots []ws.ID
	for id, n := range w.nodes {
		if n.ParentID != nil && *n.ParentID != id {
			if _, ok := w.nodes[*n.ParentID]; ok {
				children[*n.ParentID] = append(children[*n.ParentID], id)
				continue
			}
		}
		roots = append(roots, id)
	}

	col := collate.New(language.Und)
	visited := make(map[ws.ID]bool, len(w.nodes))

	var build func(id ws.ID) *TreeNode
	build = func(id ws.ID) *TreeNode {
		visited[id] = true
		t := &TreeNode{FileNode: w.nodes[id].clone()}
		for _, c := range children[id] {
			if !visited[c] {
				t.Children = append(t.Children, build(c))
			}
		}
		sortLevel(col, t.Children)
		return t
	}

	out := make([]*TreeNode, 0, len(roots))
	for _, id := range roots {
		out = append(out, build(id))
	}

	var stranded []ws.ID
	for id := range w.nodes {
		if !visited[id] {
			stranded = append(stranded, id)
		}
	}
	slices.SortFunc(stranded, compareIDs)
	for _, id := range stranded {
		if !visited[id] {
			out = append(out, build(id))
		}
	}

	sortLevel(col, out)
	return out
}

func sortLevel(col *collate.Collator, nodes []*TreeNode) {
	slices.SortFunc(nodes, func(a, b *TreeNode) int {
		if a.IsFolder() != b.IsFolder() {
			if a.IsFolder() {
				return -1
			}
			return 1
		}
		if c := col.CompareString(a.Name, b.Name); c != 0 {
			return c
		}
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
}

// Walk visits every node depth-first in tree order.
func Walk(nodes []*TreeNode, fn func(n *TreeNode, depth int)) {
	var walk func(nodes []*TreeNode, depth int)
	walk = func(nodes []*TreeNode, depth int) {
		for _, n := range nodes {
			fn(n, depth)
			walk(n.Children, depth+1)
		}
	}
	walk(nodes, 0)
}
