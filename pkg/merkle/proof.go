package merkle

// Proof step sides, relative to the hash being proven.
const (
	SideLeft  = "L"
	SideRight = "R"
)

// ProofStep names one sibling on the path from leaf to root.
type ProofStep struct {
	Side string `json:"side"`
	Hash string `json:"hash"`
}

// InclusionProof shows that a labeled leaf is committed under Root.
type InclusionProof struct {
	Label string      `json:"label"`
	Leaf  string      `json:"leaf"`
	Root  string      `json:"root"`
	Path  []ProofStep `json:"path"`
}

// Verify replays the proof path and checks the result against
// expectedRoot. Pass the root from a trusted source, not from the
// proof itself.
func Verify(proof *InclusionProof, expectedRoot string) bool {
	if proof == nil || expectedRoot == "" {
		return false
	}
	current := proof.Leaf
	for _, step := range proof.Path {
		if step.Side == SideLeft {
			current = nodeHash(step.Hash, current)
		} else {
			current = nodeHash(current, step.Hash)
		}
	}
	return current == expectedRoot
}

// VerifyEntry checks the leaf hash against the original value before
// replaying the path, for callers that hold the value itself.
func VerifyEntry(proof *InclusionProof, value []byte, expectedRoot string) bool {
	if proof == nil || leafHash(proof.Label, value) != proof.Leaf {
		return false
	}
	return Verify(proof, expectedRoot)
}
