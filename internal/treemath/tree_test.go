package treemath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParentChildrenConsistent(t *testing.T) {
	for _, nranks := range []int{1, 2, 3, 5, 7, 8, 13, 16} {
		for radix := 2; radix <= 4; radix++ {
			for root := 0; root < nranks; root++ {
				seen := map[int]int{} // child -> parent
				for me := 0; me < nranks; me++ {
					for _, c := range Children(nranks, root, radix, me) {
						seen[c] = me
					}
				}
				for me := 0; me < nranks; me++ {
					if me == root {
						assert.Equal(t, -1, Parent(nranks, root, radix, me))
						continue
					}
					p, ok := seen[me]
					assert.True(t, ok, "nranks=%d radix=%d root=%d me=%d has no parent via Children", nranks, radix, root, me)
					assert.Equal(t, p, Parent(nranks, root, radix, me))
				}
			}
		}
	}
}

func TestChildrenOrderedByRank(t *testing.T) {
	kids := Children(16, 0, 2, 0)
	for i := 1; i < len(kids); i++ {
		assert.Less(t, kids[i-1], kids[i])
	}
}

func TestBinomialParentChildrenConsistent(t *testing.T) {
	for _, nranks := range []int{1, 2, 3, 5, 7, 8, 13, 16} {
		for root := 0; root < nranks; root++ {
			seen := map[int]int{}
			for me := 0; me < nranks; me++ {
				for _, c := range BinomialChildren(nranks, root, me) {
					seen[c] = me
				}
			}
			for me := 0; me < nranks; me++ {
				if me == root {
					assert.Equal(t, -1, BinomialParent(nranks, root, me))
					continue
				}
				p, ok := seen[me]
				assert.True(t, ok, "nranks=%d root=%d me=%d has no parent via BinomialChildren", nranks, root, me)
				assert.Equal(t, p, BinomialParent(nranks, root, me))
			}
		}
	}
}

func TestKNomialParentChildrenConsistent(t *testing.T) {
	for _, nranks := range []int{1, 2, 3, 5, 7, 8, 13, 16} {
		for radix := 2; radix <= 4; radix++ {
			for root := 0; root < nranks; root++ {
				seen := map[int]int{}
				for me := 0; me < nranks; me++ {
					for _, c := range KNomialChildren(nranks, root, radix, me) {
						seen[c] = me
					}
				}
				for me := 0; me < nranks; me++ {
					if me == root {
						assert.Equal(t, -1, KNomialParent(nranks, root, radix, me))
						continue
					}
					p, ok := seen[me]
					assert.True(t, ok, "nranks=%d radix=%d root=%d me=%d has no parent via KNomialChildren", nranks, radix, root, me)
					assert.Equal(t, p, KNomialParent(nranks, root, radix, me))
				}
			}
		}
	}
}

// TestBinomialDiffersFromCompleteTree pins down the bug this test guards
// against: binomial and k-nomial trees must not collapse to the same
// geometry as the fixed-radix complete tree for a size where their shapes
// genuinely differ.
func TestBinomialDiffersFromCompleteTree(t *testing.T) {
	const nranks = 5
	assert.Equal(t, []int{1, 2, 4}, BinomialChildren(nranks, 0, 0))
	assert.Equal(t, []int{3}, BinomialChildren(nranks, 0, 2))
	assert.NotEqual(t, Children(nranks, 0, 2, 0), BinomialChildren(nranks, 0, 0))
}

func TestDisseminationCoversAllPeers(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 9} {
		rounds := DisseminationRounds(n)
		assert.GreaterOrEqual(t, 1<<uint(rounds), n)
		for me := 0; me < n; me++ {
			partners := map[int]bool{}
			for r := 0; r < rounds; r++ {
				partners[DisseminationPartner(n, me, r)] = true
			}
			assert.NotEmpty(t, partners)
		}
	}
}

func TestBitReverse(t *testing.T) {
	assert.Equal(t, uint(0b100), BitReverse(0b001, 3))
	assert.Equal(t, uint(0b001), BitReverse(0b100, 3))
	assert.Equal(t, uint(0), BitReverse(0, 4))
}

func TestIsPowerOfTwo(t *testing.T) {
	for _, n := range []int{1, 2, 4, 8, 1024} {
		assert.True(t, IsPowerOfTwo(n))
	}
	for _, n := range []int{0, 3, 5, 6, 1023} {
		assert.False(t, IsPowerOfTwo(n))
	}
}

func TestLog2Ceil(t *testing.T) {
	cases := map[int]int{1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4}
	for n, want := range cases {
		assert.Equal(t, want, Log2Ceil(n), "n=%d", n)
	}
}
