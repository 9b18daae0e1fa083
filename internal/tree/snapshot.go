package tree

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// snapshotEntry is the on-disk JSON shape for a single tree node. Children
// are nested, mirroring the Entry view, so Serialize/Deserialize round-trip
// through the same shape callers already work with (P4).
type snapshotEntry struct {
	Name       string           `json:"name"`
	Kind       string           `json:"kind"`
	RemoteType string           `json:"remote_type,omitempty"`
	ETag       string           `json:"etag,omitempty"`
	Size       int64            `json:"size,omitempty"`
	HasSize    bool             `json:"has_size,omitempty"`
	Children   []*snapshotEntry `json:"children,omitempty"`
}

// Serialize renders the whole tree as JSON, suitable for the reconciler's
// snapshot persistence (C7). The root is always the top-level object.
func (t *Tree) Serialize() ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	se := toSnapshotEntry(t.materialize(rootID))

	data, err := json.MarshalIndent(se, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("tree: marshal snapshot: %w", err)
	}

	return data, nil
}

// Deserialize builds a new Tree from the state encoded in data, as
// produced by Serialize.
func Deserialize(data []byte) (*Tree, error) {
	var se snapshotEntry

	if err := json.Unmarshal(data, &se); err != nil {
		return nil, fmt.Errorf("tree: unmarshal snapshot: %w", err)
	}

	t := New()
	t.nodes[rootID].etag = se.ETag
	t.nodes[rootID].hasEtag = se.ETag != ""

	t.mu.Lock()
	t.insertSubtreeLocked(rootID, "/", fromSnapshotChildren(se.Children))
	t.mu.Unlock()

	return t, nil
}

func toSnapshotEntry(e *Entry) *snapshotEntry {
	se := &snapshotEntry{
		Name:       e.Name,
		Kind:       e.Kind.String(),
		RemoteType: e.RemoteType,
	}

	if e.HasETag {
		se.ETag = e.ETag
	}

	if e.HasSize {
		se.Size = e.Size
		se.HasSize = true
	}

	for _, c := range e.Children {
		se.Children = append(se.Children, toSnapshotEntry(c))
	}

	return se
}

func fromSnapshotChildren(children []*snapshotEntry) []*Entry {
	entries := make([]*Entry, 0, len(children))

	for _, se := range children {
		kind := KindFile
		if se.Kind == "dir" {
			kind = KindDirectory
		}

		e := &Entry{
			Name:       se.Name,
			Kind:       kind,
			RemoteType: se.RemoteType,
			ETag:       se.ETag,
			HasETag:    se.ETag != "",
			Size:       se.Size,
			HasSize:    se.HasSize,
			Children:   fromSnapshotChildren(se.Children),
		}

		entries = append(entries, e)
	}

	return entries
}

// RenderTree produces a human-readable indented listing of the tree, for
// debugging; the status command reports only the node count.
func (t *Tree) RenderTree() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder

	b.WriteString("/\n")
	renderChildren(&b, t.nodes[rootID], t, 1)

	return b.String()
}

func renderChildren(b *strings.Builder, n *node, t *Tree, depth int) {
	names := make([]string, 0, len(n.children))
	byName := make(map[string]NodeID, len(n.children))

	for _, cid := range n.children {
		cn := t.nodes[cid]
		names = append(names, cn.name)
		byName[cn.name] = cid
	}

	sort.Strings(names)

	for _, name := range names {
		cid := byName[name]
		cn := t.nodes[cid]

		marker := ""
		if cn.kind == KindDirectory {
			marker = "/"
		}

		fmt.Fprintf(b, "%s%s%s\n", strings.Repeat("  ", depth), name, marker)

		if cn.kind == KindDirectory {
			renderChildren(b, cn, t, depth+1)
		}
	}
}
