// Package ontology holds the atlas structure hierarchy as an immutable,
// id-indexed table of nodes.
package ontology

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Record is one structure as read from an ontology file. ParentID 0 marks the root.
type Record struct {
	ID       uint32
	Name     string
	Acronym  string
	ParentID uint32
	Color    string
}

// Node is a validated structure. Color is the display colour as "#rrggbb".
type Node struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Acronym  string `json:"acronym"`
	ParentID uint32 `json:"parent_id,omitempty"`
	Color    string `json:"color"`
	Depth    int    `json:"depth"`
}

// RGB returns the display colour as 8-bit components
func (n Node) RGB() (uint8, uint8, uint8) {
	c, err := colorful.Hex(n.Color)
	if err != nil {
		return 0, 0, 0
	}
	return c.RGB255()
}

// Tree is the validated hierarchy. It is never modified after Build.
type Tree struct {
	nodes     []Node
	slot      map[uint32]int
	byAcronym map[string]int
	root      int
}

// Build validates records and returns the tree. Ids must be unique and
// non-zero, exactly one record may have no parent, every parent must exist
// and the parent links must not form a cycle.
func Build(records []Record) (*Tree, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("ontology has no structures")
	}

	t := &Tree{
		nodes:     make([]Node, len(records)),
		slot:      make(map[uint32]int, len(records)),
		byAcronym: make(map[string]int, len(records)),
		root:      -1,
	}
	for i, r := range records {
		if r.ID == 0 {
			return nil, fmt.Errorf("structure %q uses reserved id 0", r.Name)
		}
		if _, dup := t.slot[r.ID]; dup {
			return nil, fmt.Errorf("duplicate structure id %d", r.ID)
		}
		color, err := normalizeColor(r.Color)
		if err != nil {
			return nil, fmt.Errorf("structure %d: %w", r.ID, err)
		}
		t.slot[r.ID] = i
		t.nodes[i] = Node{ID: r.ID, Name: r.Name, Acronym: r.Acronym, ParentID: r.ParentID, Color: color}
		if r.Acronym != "" {
			if _, seen := t.byAcronym[strings.ToLower(r.Acronym)]; !seen {
				t.byAcronym[strings.ToLower(r.Acronym)] = i
			}
		}
		if r.ParentID == 0 {
			if t.root >= 0 {
				return nil, fmt.Errorf("multiple root structures: %d and %d", t.nodes[t.root].ID, r.ID)
			}
			t.root = i
		}
	}
	if t.root < 0 {
		return nil, fmt.Errorf("ontology has no root structure")
	}

	for i := range t.nodes {
		if p := t.nodes[i].ParentID; p != 0 {
			if _, ok := t.slot[p]; !ok {
				return nil, fmt.Errorf("structure %d has unknown parent %d", t.nodes[i].ID, p)
			}
		}
	}

	// Depth doubles as the cycle check: a chain longer than the table loops
	for i := range t.nodes {
		depth := 0
		for j := i; t.nodes[j].ParentID != 0; j = t.slot[t.nodes[j].ParentID] {
			depth++
			if depth > len(t.nodes) {
				return nil, fmt.Errorf("structure %d has a cyclic parent chain", t.nodes[i].ID)
			}
		}
		t.nodes[i].Depth = depth
	}
	return t, nil
}

func normalizeColor(hex string) (string, error) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if hex == "" {
		hex = "ffffff"
	}
	c, err := colorful.Hex("#" + strings.ToLower(hex))
	if err != nil {
		return "", fmt.Errorf("invalid color %q: %w", hex, err)
	}
	return c.Hex(), nil
}

// Len returns the number of structures
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the root structure
func (t *Tree) Root() Node {
	return t.nodes[t.root]
}

// Node looks up a structure by id
func (t *Tree) Node(id uint32) (Node, bool) {
	i, ok := t.slot[id]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// ByAcronym looks up a structure by acronym, ignoring case
func (t *Tree) ByAcronym(acronym string) (Node, bool) {
	i, ok := t.byAcronym[strings.ToLower(acronym)]
	if !ok {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Path returns the ancestor chain of id, root first and id last
func (t *Tree) Path(id uint32) ([]Node, bool) {
	i, ok := t.slot[id]
	if !ok {
		return nil, false
	}
	path := make([]Node, t.nodes[i].Depth+1)
	for k := len(path) - 1; k >= 0; k-- {
		path[k] = t.nodes[i]
		if t.nodes[i].ParentID != 0 {
			i = t.slot[t.nodes[i].ParentID]
		}
	}
	return path, true
}

// Children returns the direct children of id ordered by id
func (t *Tree) Children(id uint32) []Node {
	var out []Node
	for _, n := range t.nodes {
		if n.ParentID == id && n.ParentID != 0 {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// IsDescendant reports whether id lies in the subtree of ancestor (inclusive)
func (t *Tree) IsDescendant(id, ancestor uint32) bool {
	i, ok := t.slot[id]
	if !ok {
		return false
	}
	for {
		if t.nodes[i].ID == ancestor {
			return true
		}
		if t.nodes[i].ParentID == 0 {
			return false
		}
		i = t.slot[t.nodes[i].ParentID]
	}
}
