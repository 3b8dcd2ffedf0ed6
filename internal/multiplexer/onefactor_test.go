package multiplexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOneFactorPerfectMatching checks that for a range of host counts every
// round is a perfect matching (pairing is symmetric, nobody paired twice)
// and every distinct host pair meets in exactly one round.
func TestOneFactorPerfectMatching(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 8, 9, 16} {
		rounds := OneFactorRounds(n)
		met := make(map[[2]int]int)
		for r := 0; r < rounds; r++ {
			for me := 0; me < n; me++ {
				peer := OneFactorPeer(r, me, n)
				if peer == me {
					require.Equal(t, 1, n%2, "n=%d r=%d: idle only legal for odd host counts", n, r)
					continue
				}
				require.Less(t, peer, n, "n=%d r=%d me=%d", n, r, me)
				back := OneFactorPeer(r, peer, n)
				require.Equal(t, me, back, "n=%d r=%d: pairing must be symmetric", n, r)
				if me < peer {
					met[[2]int{me, peer}]++
				}
			}
		}
		for a := 0; a < n; a++ {
			for b := a + 1; b < n; b++ {
				require.Equal(t, 1, met[[2]int{a, b}], "n=%d: pair (%d,%d) must meet exactly once", n, a, b)
			}
		}
	}
}
