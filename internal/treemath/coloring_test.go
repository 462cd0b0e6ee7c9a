package treemath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorPartnerSymmetric(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 6, 8, 9} {
		rounds := ColorRounds(n)
		for round := 0; round < rounds; round++ {
			for me := 0; me < n; me++ {
				partner := ColorPartner(n, me, round)
				if partner == -1 {
					continue // odd n: me rests this round
				}
				assert.NotEqual(t, me, partner, "n=%d round=%d me=%d partnered with self", n, round, me)
				back := ColorPartner(n, partner, round)
				assert.Equal(t, me, back, "n=%d round=%d me=%d partner=%d not symmetric", n, round, me, partner)
			}
		}
	}
}

func TestColorPartnerEveryoneMatchedEachRound(t *testing.T) {
	for _, n := range []int{4, 6, 8, 10} {
		for round := 0; round < ColorRounds(n); round++ {
			matched := make([]bool, n)
			for me := 0; me < n; me++ {
				p := ColorPartner(n, me, round)
				assert.NotEqual(t, -1, p, "even n must never rest")
				matched[me] = true
				_ = p
			}
			for me, ok := range matched {
				assert.True(t, ok, "pe %d unmatched in round", me)
			}
		}
	}
}
