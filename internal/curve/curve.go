// Package curve provides the elliptic-curve commitment primitives used by
// the blame protocol: point addition, scalar multiplication, and octet-
// string serialization, behind a small interface so each protocol phase
// can bind a different named curve.
package curve

import (
	"fmt"
	"math/big"
)

// Point is an opaque group element produced by a Curve. Values from
// different Curve implementations must never be mixed.
type Point interface {
	curvePoint()
}

// Curve is the elliptic-curve group a phase's Pedersen commitments live
// in. Generator and AltGenerator are the two independent bases (g, h) the
// blame protocol commits against.
type Curve interface {
	Name() string
	Order() *big.Int
	Generator() Point
	AltGenerator() Point
	Add(a, b Point) Point
	Neg(a Point) Point
	Equal(a, b Point) bool
	Marshal(p Point) []byte
	Unmarshal(b []byte) (Point, error)
	// ScalarMul computes k*p, coercing the arbitrary-precision integer k
	// into the curve's scalar field by magnitude, negating the resulting
	// point when k is negative, rather than silently reducing k mod the
	// curve order.
	ScalarMul(p Point, k *big.Int) Point
}

// ScalarMulBase computes k*Generator().
func ScalarMulBase(c Curve, k *big.Int) Point {
	return c.ScalarMul(c.Generator(), k)
}

// ScalarMulAlt computes k*AltGenerator().
func ScalarMulAlt(c Curve, k *big.Int) Point {
	return c.ScalarMul(c.AltGenerator(), k)
}

// Commit computes a Pedersen commitment g^a * h^b (additively, a*G + b*H).
func Commit(c Curve, a, b *big.Int) Point {
	return c.Add(ScalarMulBase(c, a), ScalarMulAlt(c, b))
}

// ByName resolves a curve backend by the configuration's group_nid string.
func ByName(name string) (Curve, error) {
	switch name {
	case "secp256k1":
		return Secp256k1(), nil
	case "ristretto255":
		return Ristretto255(), nil
	default:
		return nil, fmt.Errorf("curve: unknown group_nid %q", name)
	}
}

// signedMagnitude splits an arbitrary-precision integer into the
// magnitude used for scalar multiplication and a negation flag.
func signedMagnitude(k *big.Int) (abs *big.Int, negative bool) {
	if k.Sign() < 0 {
		return new(big.Int).Neg(k), true
	}
	return new(big.Int).Set(k), false
}
