// Package field implements modular big-integer arithmetic over an
// NTT-friendly ring, and the bit-reversed radix-2 number-theoretic
// transform used to evaluate the AKH-PRF.
package field

import (
	"errors"
	"math/big"
)

// Ring describes an NTT-friendly field: a prime order ord_V, a generator
// root such that root^scale ≡ 1 (mod ord_V), and the scale itself.
type Ring struct {
	Order *big.Int
	Root  *big.Int
	Scale uint64
}

// RootOfUnity returns a primitive n-th root of unity in the ring, i.e.
// root^(scale/n) mod ord_V. n must divide Scale and be a power of two.
func (r *Ring) RootOfUnity(n int) (*big.Int, error) {
	if n <= 0 || n&(n-1) != 0 {
		return nil, errors.New("field: vector length must be a power of two")
	}
	if r.Scale%uint64(n) != 0 {
		return nil, errors.New("field: vector length must divide scale")
	}
	exp := new(big.Int).SetUint64(r.Scale / uint64(n))
	return new(big.Int).Exp(r.Root, exp, r.Order), nil
}

// Mod reduces x into the Euclidean residue class [0, m), regardless of
// the sign of x.
func Mod(x, m *big.Int) *big.Int {
	z := new(big.Int).Mod(x, m)
	return z
}

// DivRemEuclid returns (q, r) such that x = q*m + r and 0 <= r < m.
func DivRemEuclid(x, m *big.Int) (q, rem *big.Int) {
	q, rem = new(big.Int), new(big.Int)
	q.DivMod(x, m, rem)
	return q, rem
}

// Headroom derives the lifting factor used to separate the PRF rounding
// error from the payload: the aggregate rounding error across n clients is
// bounded by n, so the lift must exceed 2n to survive the round-to-nearest
// step in solve. We pick the smallest power of ten strictly greater than
// 2n, which keeps the constant human-legible (1000, 10000, ...) while
// scaling with n.
func Headroom(n int) int64 {
	h := int64(10)
	for h <= 2*int64(n) {
		h *= 10
	}
	return h
}

// NTT performs an in-place, bit-reversed-output, radix-2 decimation-in-
// frequency number-theoretic transform (Gentleman-Sande butterflies) of a,
// modulo the ring's order. len(a) must be a power of two. Natural-order
// input, bit-reversed output, no explicit permutation step.
func NTT(a []*big.Int, ring *Ring) error {
	n := len(a)
	root, err := ring.RootOfUnity(n)
	if err != nil {
		return err
	}
	order := ring.Order
	for length := n; length >= 2; length /= 2 {
		half := length / 2
		step := new(big.Int).Exp(root, big.NewInt(int64(n/length)), order)
		for start := 0; start < n; start += length {
			w := big.NewInt(1)
			for j := 0; j < half; j++ {
				u := a[start+j]
				v := a[start+j+half]
				sum := Mod(new(big.Int).Add(u, v), order)
				diff := Mod(new(big.Int).Sub(u, v), order)
				diff.Mul(diff, w)
				diff.Mod(diff, order)
				a[start+j] = sum
				a[start+j+half] = diff
				w.Mul(w, step)
				w.Mod(w, order)
			}
		}
	}
	return nil
}

// INTT performs the matching in-place inverse transform: bit-reversed
// input, natural-order output (Cooley-Tukey butterflies), followed by the
// 1/n scaling.
func INTT(a []*big.Int, ring *Ring) error {
	n := len(a)
	root, err := ring.RootOfUnity(n)
	if err != nil {
		return err
	}
	order := ring.Order
	invRoot := new(big.Int).ModInverse(root, order)
	if invRoot == nil {
		return errors.New("field: root of unity has no inverse mod ord_V")
	}
	for length := 2; length <= n; length *= 2 {
		half := length / 2
		step := new(big.Int).Exp(invRoot, big.NewInt(int64(n/length)), order)
		for start := 0; start < n; start += length {
			w := big.NewInt(1)
			for j := 0; j < half; j++ {
				u := a[start+j]
				v := Mod(new(big.Int).Mul(a[start+j+half], w), order)
				a[start+j] = Mod(new(big.Int).Add(u, v), order)
				a[start+j+half] = Mod(new(big.Int).Sub(u, v), order)
				w.Mul(w, step)
				w.Mod(w, order)
			}
		}
	}
	ninv := new(big.Int).ModInverse(big.NewInt(int64(n)), order)
	if ninv == nil {
		return errors.New("field: vector length has no inverse mod ord_V")
	}
	for i := range a {
		a[i] = Mod(new(big.Int).Mul(a[i], ninv), order)
	}
	return nil
}
