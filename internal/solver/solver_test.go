package solver

import (
	"math/big"
	"sort"
	"testing"
)

func powerSums(roots []*big.Int, p *big.Int) []*big.Int {
	n := len(roots)
	sums := make([]*big.Int, n)
	for i := 1; i <= n; i++ {
		acc := big.NewInt(0)
		for _, r := range roots {
			term := new(big.Int).Exp(r, big.NewInt(int64(i)), p)
			acc.Add(acc, term)
		}
		sums[i-1] = new(big.Int).Mod(acc, p)
	}
	return sums
}

func sortedStrings(xs []*big.Int) []string {
	ss := make([]string, len(xs))
	for i, x := range xs {
		ss[i] = x.String()
	}
	sort.Strings(ss)
	return ss
}

func assertSameMultiset(t *testing.T, got, want []*big.Int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d roots, want %d: got=%v want=%v", len(got), len(want), got, want)
	}
	gs, ws := sortedStrings(got), sortedStrings(want)
	for i := range gs {
		if gs[i] != ws[i] {
			t.Fatalf("multiset mismatch: got=%v want=%v", gs, ws)
		}
	}
}

// TestS1MinimalHonestBaseRound checks factoring recovers a minimal
// honest base round's identifiers exactly.
func TestS1MinimalHonestBaseRound(t *testing.T) {
	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(59))
	roots := []*big.Int{big.NewInt(7), big.NewInt(11), big.NewInt(13), big.NewInt(17)}
	sums := powerSums(roots, p)

	poly, err := NewtonToCoefficients(sums, p)
	if err != nil {
		t.Fatalf("NewtonToCoefficients: %v", err)
	}
	got, err := Factor(poly, p)
	if err != nil {
		t.Fatalf("Factor: %v", err)
	}
	assertSameMultiset(t, got, roots)
}

// TestS2DuplicateCollision checks that the solver still recovers the
// full multiset when two clients pick the same identifier.
func TestS2DuplicateCollision(t *testing.T) {
	p := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(59))
	roots := []*big.Int{big.NewInt(5), big.NewInt(5), big.NewInt(9), big.NewInt(12)}
	sums := powerSums(roots, p)

	poly, err := NewtonToCoefficients(sums, p)
	if err != nil {
		t.Fatalf("NewtonToCoefficients: %v", err)
	}
	got, err := Factor(poly, p)
	if err != nil {
		t.Fatalf("Factor: %v", err)
	}
	assertSameMultiset(t, got, roots)
}

// TestNewtonInversionProperty checks that converting power sums to
// coefficients and back recovers the original multiset, exercised over a
// handful of multisets of varying size.
func TestNewtonInversionProperty(t *testing.T) {
	p := big.NewInt(1_000_003) // small prime for faster factoring in the test
	cases := [][]int64{
		{1},
		{1, 2},
		{3, 3},
		{1, 2, 3, 4, 5},
		{0, 0, 0},
	}
	for _, c := range cases {
		roots := make([]*big.Int, len(c))
		for i, v := range c {
			roots[i] = big.NewInt(v)
		}
		sums := powerSums(roots, p)
		poly, err := NewtonToCoefficients(sums, p)
		if err != nil {
			t.Fatalf("NewtonToCoefficients(%v): %v", c, err)
		}
		got, err := Factor(poly, p)
		if err != nil {
			t.Fatalf("Factor(%v): %v", c, err)
		}
		assertSameMultiset(t, got, roots)
	}
}

func TestFactorConstantPolynomialReturnsNoRoots(t *testing.T) {
	p := big.NewInt(1_000_003)
	roots, err := Factor(Poly{big.NewInt(1)}, p)
	if err != nil {
		t.Fatalf("Factor: %v", err)
	}
	if len(roots) != 0 {
		t.Fatalf("expected no roots for a degree-0 polynomial, got %v", roots)
	}
}
