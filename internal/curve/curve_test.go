package curve

import (
	"math/big"
	"testing"
)

func testCurves() []Curve {
	return []Curve{Secp256k1(), Ristretto255()}
}

func TestScalarMulBaseAdditive(t *testing.T) {
	for _, c := range testCurves() {
		a, b := big.NewInt(7), big.NewInt(11)
		sum := new(big.Int).Add(a, b)
		lhs := c.Add(ScalarMulBase(c, a), ScalarMulBase(c, b))
		rhs := ScalarMulBase(c, sum)
		if !c.Equal(lhs, rhs) {
			t.Fatalf("%s: (a+b)*G != a*G + b*G", c.Name())
		}
	}
}

func TestScalarMulNegative(t *testing.T) {
	for _, c := range testCurves() {
		k := big.NewInt(5)
		pos := ScalarMulBase(c, k)
		neg := ScalarMulBase(c, new(big.Int).Neg(k))
		if !c.Equal(c.Add(pos, neg), c.Add(pos, c.Neg(pos))) {
			t.Fatalf("%s: -k*G should equal Neg(k*G)", c.Name())
		}
		if !c.Equal(neg, c.Neg(pos)) {
			t.Fatalf("%s: ScalarMul(-k) != Neg(ScalarMul(k))", c.Name())
		}
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	for _, c := range testCurves() {
		p := ScalarMulBase(c, big.NewInt(42))
		b := c.Marshal(p)
		q, err := c.Unmarshal(b)
		if err != nil {
			t.Fatalf("%s: Unmarshal: %v", c.Name(), err)
		}
		if !c.Equal(p, q) {
			t.Fatalf("%s: round trip mismatch", c.Name())
		}
	}
}

func TestCommitIsAdditivelyHomomorphic(t *testing.T) {
	for _, c := range testCurves() {
		a1, b1 := big.NewInt(3), big.NewInt(4)
		a2, b2 := big.NewInt(5), big.NewInt(6)
		lhs := c.Add(Commit(c, a1, b1), Commit(c, a2, b2))
		rhs := Commit(c, new(big.Int).Add(a1, a2), new(big.Int).Add(b1, b2))
		if !c.Equal(lhs, rhs) {
			t.Fatalf("%s: commitments are not additively homomorphic", c.Name())
		}
	}
}

func TestByNameResolvesKnownCurves(t *testing.T) {
	if _, err := ByName("secp256k1"); err != nil {
		t.Fatalf("ByName(secp256k1): %v", err)
	}
	if _, err := ByName("ristretto255"); err != nil {
		t.Fatalf("ByName(ristretto255): %v", err)
	}
	if _, err := ByName("bn254"); err == nil {
		t.Fatal("expected an error for an unknown group_nid")
	}
}

func TestGeneratorAndAltGeneratorDistinct(t *testing.T) {
	for _, c := range testCurves() {
		if c.Equal(c.Generator(), c.AltGenerator()) {
			t.Fatalf("%s: g and h must be distinct generators", c.Name())
		}
	}
}
