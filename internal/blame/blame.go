// Package blame implements the per-coefficient Pedersen-commitment
// equality check that catches a client whose base-round ciphertext is
// inconsistent with its committed PRF share.
package blame

import (
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/organ-relay/internal/curve"
)

// Claim is a single client's blame-protocol submission: its scaled
// share/blinding vectors (share.scaled, blinding.scaled) and the rounding-
// remainder commitments it sent alongside the base-round ciphertext.
type Claim struct {
	Blame         []*big.Int
	BlameBlinding []*big.Int
	E             []curve.Point
}

// Verify checks claim against the relay's precomputed QW row for this
// client, returning true only if every coefficient passes
//
//	g^(blame[k]*ord_V) * h^(blame_blinding[k]*ord_V) * E[k] == QW[i][k]
//
// Verification is embarrassingly parallel across k.
func Verify(c curve.Curve, order *big.Int, claim *Claim, qwRow []curve.Point) (bool, error) {
	n := len(qwRow)
	if len(claim.Blame) != n || len(claim.BlameBlinding) != n || len(claim.E) != n {
		return false, fmt.Errorf("blame: claim length mismatch: want %d", n)
	}

	results := make([]bool, n)
	g := new(errgroup.Group)
	for k := 0; k < n; k++ {
		k := k
		g.Go(func() error {
			scaledShare := new(big.Int).Mul(claim.Blame[k], order)
			scaledBlind := new(big.Int).Mul(claim.BlameBlinding[k], order)
			lhs := c.Add(curve.Commit(c, scaledShare, scaledBlind), claim.E[k])
			results[k] = c.Equal(lhs, qwRow[k])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	for _, ok := range results {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
