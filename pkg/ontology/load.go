package ontology

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// structure is the Allen structure-graph node layout
type structure struct {
	ID       *uint32     `json:"id"`
	Name     string      `json:"name"`
	Acronym  string      `json:"acronym"`
	ParentID *uint32     `json:"parent_structure_id"`
	Color    string      `json:"color_hex_triplet"`
	Children []structure `json:"children"`
}

// LoadFile reads an ontology file, see Decode
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open ontology %v", path)
	}
	defer f.Close()

	t, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load ontology %v", path)
	}
	return t, nil
}

// Decode reads an Allen structure graph: either {"msg": [...]}, a single root
// object, or a list. Nodes may nest their children or list a flat
// parent_structure_id; nesting supplies the parent when the id is absent.
func Decode(r io.Reader) (*Tree, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var roots []structure
	var wrapped struct {
		Msg []structure `json:"msg"`
	}
	if err := json.Unmarshal(raw, &roots); err != nil {
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, errors.Wrap(err, "unrecognised ontology layout")
		}
		roots = wrapped.Msg
		if roots == nil {
			var single structure
			if err := json.Unmarshal(raw, &single); err != nil {
				return nil, errors.Wrap(err, "unrecognised ontology layout")
			}
			roots = []structure{single}
		}
	}

	var records []Record
	var walk func(s structure, parent uint32) error
	walk = func(s structure, parent uint32) error {
		if s.ID == nil {
			return errors.Errorf("structure %q has no id", s.Name)
		}
		p := parent
		if s.ParentID != nil {
			p = *s.ParentID
		}
		records = append(records, Record{ID: *s.ID, Name: s.Name, Acronym: s.Acronym, ParentID: p, Color: s.Color})
		for _, c := range s.Children {
			if err := walk(c, *s.ID); err != nil {
				return err
			}
		}
		return nil
	}
	for _, s := range roots {
		if err := walk(s, 0); err != nil {
			return nil, err
		}
	}
	return Build(records)
}
