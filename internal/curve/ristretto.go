package curve

import (
	"crypto/sha512"
	"errors"
	"math/big"
	"sync"

	ristretto "github.com/bwesterb/go-ristretto"
)

// ristrettoPoint wraps a ristretto255 group element, used as the bulk
// phase's alternate/larger curve (cross-pollinated from
// summitto-tlsnotaryserver, which depends on go-ristretto for its own
// commitment scheme).
type ristrettoPoint struct {
	p ristretto.Point
}

func (*ristrettoPoint) curvePoint() {}

type ristrettoCurve struct {
	order *big.Int
	hOnce sync.Once
	h     *ristrettoPoint
}

// ristretto255 group order l = 2^252 + 27742317777372353535851937790883648493.
var ristrettoOrderHex = "1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3ed"

var ristrettoInstance = newRistrettoCurve()

func newRistrettoCurve() *ristrettoCurve {
	order, ok := new(big.Int).SetString(ristrettoOrderHex, 16)
	if !ok {
		panic("curve: invalid ristretto255 order constant")
	}
	return &ristrettoCurve{order: order}
}

// Ristretto255 returns the bulk-phase curve backend.
func Ristretto255() Curve { return ristrettoInstance }

func (c *ristrettoCurve) Name() string    { return "ristretto255" }
func (c *ristrettoCurve) Order() *big.Int { return c.order }

func scalarFromBigInt(k *big.Int) ristretto.Scalar {
	var s ristretto.Scalar
	s.SetBigInt(k)
	return s
}

func (c *ristrettoCurve) Generator() Point {
	var p ristretto.Point
	one := scalarFromBigInt(big.NewInt(1))
	p.ScalarMultBase(&one)
	return &ristrettoPoint{p: p}
}

// AltGenerator derives h = H("...")·G, a nothing-up-my-sleeve second
// generator, the same construction used for the base phase's secp256k1 h.
func (c *ristrettoCurve) AltGenerator() Point {
	c.hOnce.Do(func() {
		digest := sha512.Sum512([]byte("organ-relay/ristretto255/pedersen-h"))
		scalar := new(big.Int).SetBytes(digest[:])
		scalar.Mod(scalar, c.order)
		s := scalarFromBigInt(scalar)
		var p ristretto.Point
		p.ScalarMultBase(&s)
		c.h = &ristrettoPoint{p: p}
	})
	return c.h
}

func (c *ristrettoCurve) pt(p Point) *ristrettoPoint { return p.(*ristrettoPoint) }

func (c *ristrettoCurve) Add(a, b Point) Point {
	var out ristretto.Point
	out.Add(&c.pt(a).p, &c.pt(b).p)
	return &ristrettoPoint{p: out}
}

func (c *ristrettoCurve) Neg(a Point) Point {
	var out ristretto.Point
	out.Neg(&c.pt(a).p)
	return &ristrettoPoint{p: out}
}

func (c *ristrettoCurve) Equal(a, b Point) bool {
	return c.pt(a).p.Equals(&c.pt(b).p)
}

func (c *ristrettoCurve) ScalarMul(p Point, k *big.Int) Point {
	abs, negative := signedMagnitude(k)
	s := scalarFromBigInt(abs)
	var out ristretto.Point
	out.ScalarMult(&c.pt(p).p, &s)
	res := &ristrettoPoint{p: out}
	if negative {
		return c.Neg(res)
	}
	return res
}

func (c *ristrettoCurve) Marshal(p Point) []byte {
	b := c.pt(p).p.Bytes()
	return b[:]
}

func (c *ristrettoCurve) Unmarshal(b []byte) (Point, error) {
	if len(b) != 32 {
		return nil, errors.New("curve: invalid ristretto255 point encoding")
	}
	var p ristretto.Point
	var arr [32]byte
	copy(arr[:], b)
	if !p.SetBytes(&arr) {
		return nil, errors.New("curve: point not on ristretto255 curve")
	}
	return &ristrettoPoint{p: p}, nil
}
