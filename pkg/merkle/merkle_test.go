package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entries(n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{
			Label: fmt.Sprintf("global/%d", i+1),
			Value: []byte(fmt.Sprintf("hash-%d", i+1)),
		}
	}
	return out
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(entries(5))
	b := Build(entries(5))
	require.NotEmpty(t, a.Root)
	assert.Equal(t, a.Root, b.Root)
	assert.Len(t, a.Leaves, 5)
}

func TestBuildEmpty(t *testing.T) {
	assert.Equal(t, "", Build(nil).Root)
}

func TestRootChangesWithValue(t *testing.T) {
	base := Build(entries(4))

	tampered := entries(4)
	tampered[2].Value = []byte("forged")
	assert.NotEqual(t, base.Root, Build(tampered).Root)
}

func TestRootChangesWithOrder(t *testing.T) {
	e := entries(4)
	base := Build(e)

	swapped := entries(4)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	assert.NotEqual(t, base.Root, Build(swapped).Root)
}

func TestSingleLeaf(t *testing.T) {
	tree := Build(entries(1))
	assert.Equal(t, tree.Leaves[0].Hash, tree.Root)
}

func TestInclusionProof(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		tree := Build(entries(n))
		for i := 1; i <= n; i++ {
			label := fmt.Sprintf("global/%d", i)
			proof, err := tree.Prove(label)
			require.NoError(t, err, "n=%d leaf=%s", n, label)
			assert.True(t, Verify(proof, tree.Root), "n=%d leaf=%s", n, label)
		}
	}
}

func TestProofRejectsWrongRoot(t *testing.T) {
	tree := Build(entries(4))
	proof, err := tree.Prove("global/2")
	require.NoError(t, err)

	other := Build(entries(5))
	assert.False(t, Verify(proof, other.Root))
	assert.False(t, Verify(proof, ""))
	assert.False(t, Verify(nil, tree.Root))
}

func TestProofUnknownLabel(t *testing.T) {
	tree := Build(entries(3))
	_, err := tree.Prove("global/99")
	assert.Error(t, err)
}

func TestVerifyEntry(t *testing.T) {
	tree := Build(entries(4))
	proof, err := tree.Prove("global/3")
	require.NoError(t, err)

	assert.True(t, VerifyEntry(proof, []byte("hash-3"), tree.Root))
	assert.False(t, VerifyEntry(proof, []byte("hash-4"), tree.Root))
}
