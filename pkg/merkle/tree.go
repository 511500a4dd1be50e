// Package merkle commits to an ordered list of labeled values with a
// single root hash. Export bundles carry the root so a holder of one
// event can prove its inclusion without the full bundle.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	leafPrefix = "chronovault:bundle:leaf:v1"
	nodePrefix = "chronovault:bundle:node:v1"
)

// Entry is one labeled value to commit to. Order matters: the tree is
// built over entries exactly as given.
type Entry struct {
	Label string
	Value []byte
}

// Leaf is a hashed entry.
type Leaf struct {
	Label string `json:"label"`
	Hash  string `json:"hash"`
}

// Tree is a Merkle tree over a list of entries. An odd node at any
// level is paired with itself.
type Tree struct {
	Leaves []Leaf
	Root   string

	levels [][]string
}

// Build hashes every entry and folds the tree bottom-up. An empty
// entry list yields an empty root.
func Build(entries []Entry) *Tree {
	if len(entries) == 0 {
		return &Tree{Root: ""}
	}

	leaves := make([]Leaf, len(entries))
	for i, e := range entries {
		leaves[i] = Leaf{Label: e.Label, Hash: leafHash(e.Label, e.Value)}
	}

	t := &Tree{Leaves: leaves}
	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.Hash
	}
	for len(level) > 1 {
		t.levels = append(t.levels, level)
		level = nextLevel(level)
	}
	t.levels = append(t.levels, level)
	t.Root = level[0]
	return t
}

func leafHash(label string, value []byte) string {
	var buf bytes.Buffer
	buf.WriteString(leafPrefix)
	buf.WriteByte(0)
	buf.WriteString(label)
	buf.WriteByte(0)
	buf.Write(value)
	return sha256Hex(buf.Bytes())
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1])
	}
	out := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		out[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return out
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.Write(hexToBytes(left))
	buf.Write(hexToBytes(right))
	return sha256Hex(buf.Bytes())
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func hexToBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// Prove returns the inclusion proof for the first leaf with the given
// label.
func (t *Tree) Prove(label string) (*InclusionProof, error) {
	idx := -1
	for i, l := range t.Leaves {
		if l.Label == label {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("merkle: no leaf %q", label)
	}

	proof := &InclusionProof{
		Label: label,
		Leaf:  t.Leaves[idx].Hash,
		Root:  t.Root,
	}
	// Walk up, recording the sibling at each level. The root level
	// has no sibling.
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling >= len(level) {
			sibling = idx // odd node paired with itself
		}
		side := SideRight
		if sibling < idx {
			side = SideLeft
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, Hash: level[sibling]})
		idx /= 2
	}
	return proof, nil
}
