package curve

import (
	"crypto/elliptic"
	"crypto/sha256"
	"errors"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
)

// secp256k1Point is a Weierstrass-form point (affine coordinates); the
// point at infinity is represented by nil X and Y, matching the
// crypto/elliptic convention.
type secp256k1Point struct {
	x, y *big.Int
}

func (secp256k1Point) curvePoint() {}

type secp256k1Curve struct {
	curve elliptic.Curve
	hOnce sync.Once
	h     *secp256k1Point
}

var secp256k1Instance = &secp256k1Curve{curve: btcec.S256()}

// Secp256k1 returns the base-phase curve backend, built on btcec.
func Secp256k1() Curve { return secp256k1Instance }

func (c *secp256k1Curve) Name() string    { return "secp256k1" }
func (c *secp256k1Curve) Order() *big.Int { return c.curve.Params().N }

func (c *secp256k1Curve) Generator() Point {
	p := c.curve.Params()
	return &secp256k1Point{x: new(big.Int).Set(p.Gx), y: new(big.Int).Set(p.Gy)}
}

// AltGenerator derives h deterministically from g via hash-to-scalar, a
// standard nothing-up-my-sleeve construction so no party knows
// log_g(h).
func (c *secp256k1Curve) AltGenerator() Point {
	c.hOnce.Do(func() {
		digest := sha256.Sum256([]byte("organ-relay/secp256k1/pedersen-h"))
		scalar := new(big.Int).SetBytes(digest[:])
		scalar.Mod(scalar, c.curve.Params().N)
		x, y := c.curve.ScalarBaseMult(scalar.Bytes())
		c.h = &secp256k1Point{x: x, y: y}
	})
	return c.h
}

func (c *secp256k1Curve) pt(p Point) *secp256k1Point {
	return p.(*secp256k1Point)
}

func (c *secp256k1Curve) Add(a, b Point) Point {
	pa, pb := c.pt(a), c.pt(b)
	if pa.x == nil {
		return pb
	}
	if pb.x == nil {
		return pa
	}
	x, y := c.curve.Add(pa.x, pa.y, pb.x, pb.y)
	return &secp256k1Point{x: x, y: y}
}

func (c *secp256k1Curve) Neg(a Point) Point {
	pa := c.pt(a)
	if pa.x == nil {
		return pa
	}
	ny := new(big.Int).Sub(c.curve.Params().P, pa.y)
	ny.Mod(ny, c.curve.Params().P)
	return &secp256k1Point{x: new(big.Int).Set(pa.x), y: ny}
}

func (c *secp256k1Curve) Equal(a, b Point) bool {
	pa, pb := c.pt(a), c.pt(b)
	if pa.x == nil || pb.x == nil {
		return pa.x == nil && pb.x == nil
	}
	return pa.x.Cmp(pb.x) == 0 && pa.y.Cmp(pb.y) == 0
}

func (c *secp256k1Curve) ScalarMul(p Point, k *big.Int) Point {
	abs, negative := signedMagnitude(k)
	pp := c.pt(p)
	if pp.x == nil || abs.Sign() == 0 {
		return &secp256k1Point{}
	}
	x, y := c.curve.ScalarMult(pp.x, pp.y, abs.Bytes())
	res := &secp256k1Point{x: x, y: y}
	if negative {
		return c.Neg(res)
	}
	return res
}

func (c *secp256k1Curve) Marshal(p Point) []byte {
	pp := c.pt(p)
	if pp.x == nil {
		return []byte{0x00}
	}
	return elliptic.Marshal(c.curve, pp.x, pp.y)
}

func (c *secp256k1Curve) Unmarshal(b []byte) (Point, error) {
	if len(b) == 1 && b[0] == 0x00 {
		return &secp256k1Point{}, nil
	}
	x, y := elliptic.Unmarshal(c.curve, b)
	if x == nil {
		return nil, errors.New("curve: invalid secp256k1 point encoding")
	}
	return &secp256k1Point{x: x, y: y}, nil
}
