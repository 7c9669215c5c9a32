// Package setup implements the PRF setup engine: turning a client's raw
// additive secret share into the six parallel vectors
// (value, value_ntt, product_ntt, product, scaled, e) the rest of the
// protocol consumes, plus the Pedersen commitments and relay-side QW
// verification table the blame protocol checks against.
package setup

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/field"
	"github.com/rawblock/organ-relay/internal/organerr"
)

// Params bundles the per-phase field and group parameters a setup vector
// is built against.
type Params struct {
	P, Q      *big.Int
	Ring      *field.Ring
	VectorLen int
	Bits      int
	Curve     curve.Curve
}

// Vector holds the six parallel sequences produced while deriving one
// client's (or the relay's) PRF share: the raw value, its NTT transform,
// the coefficient-wise product with the public hash vector in both
// domains, the scaled result, and the rounding remainder.
type Vector struct {
	Value      []*big.Int
	ValueNTT   []*big.Int
	ProductNTT []*big.Int
	Product    []*big.Int
	Scaled     []*big.Int
	E          []*big.Int
}

// Values is a complete per-client (or per-relay) setup: the primary share
// vector, an independent blinding vector, and, when blame is enabled, the
// Pedersen commitments to the rounding remainder.
type Values struct {
	Share       *Vector
	Blinding    *Vector
	Commitments []curve.Point // E[j] = g^share.e[j] * h^blinding.e[j], only set when do_blame
}

// Relay is the relay's own setup plus, when blame is enabled, the
// per-client QW verification table.
type Relay struct {
	Values *Values
	QW     [][]curve.Point // QW[i][k], indexed by client i then coefficient k
}

// HashVector computes H, the public hash vector every client and the
// relay derive identically: a deterministic function of
// (slot_number=0, index j) mapped into [0, ord_V) via a wide hash, one
// entry per vector position.
func HashVector(vectorLen int, order *big.Int) []*big.Int {
	h := make([]*big.Int, vectorLen)
	for j := 0; j < vectorLen; j++ {
		var buf [16]byte
		binary.LittleEndian.PutUint64(buf[0:8], 0) // slot_number
		binary.LittleEndian.PutUint64(buf[8:16], uint64(j))
		digest := sha512.Sum512(buf[:])
		// Interpret the 64-byte digest little-endian.
		rev := make([]byte, len(digest))
		for i, b := range digest {
			rev[len(digest)-1-i] = b
		}
		x := new(big.Int).SetBytes(rev)
		h[j] = field.Mod(x, order)
	}
	return h
}

// GenerateSumShares draws n integers uniform in [0, modulus) whose sum is
// congruent to target modulo modulus: the first n-1 are drawn at random
// and the last is fixed up to hit the target.
func GenerateSumShares(n int, modulus, target *big.Int) ([]*big.Int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("setup: n must be positive, got %d", n)
	}
	shares := make([]*big.Int, n)
	running := big.NewInt(0)
	for i := 0; i < n-1; i++ {
		s, err := rand.Int(rand.Reader, modulus)
		if err != nil {
			return nil, fmt.Errorf("setup: drawing share %d: %w", i, err)
		}
		shares[i] = s
		running.Add(running, s)
	}
	last := new(big.Int).Sub(target, running)
	shares[n-1] = field.Mod(last, modulus)
	return shares, nil
}

// onesVector returns the constant-1 share vector used to generate the
// relay's own setup values, the public constant-1 side of the sharing.
func onesVector(n int) []*big.Int {
	v := make([]*big.Int, n)
	for i := range v {
		v[i] = big.NewInt(1)
	}
	return v
}

func cloneVec(v []*big.Int) []*big.Int {
	out := make([]*big.Int, len(v))
	for i, x := range v {
		out[i] = new(big.Int).Set(x)
	}
	return out
}

// buildVector runs the PRF setup algorithm's steps 2-5 against a given
// share vector and the (already-NTT-transformed) public hash vector.
func buildVector(shareValue []*big.Int, hNTT []*big.Int, params *Params) (*Vector, error) {
	n := params.VectorLen
	if len(shareValue) != n || len(hNTT) != n {
		return nil, fmt.Errorf("setup: vector length mismatch: want %d", n)
	}
	order := params.Ring.Order

	value := cloneVec(shareValue)
	valueNTT := cloneVec(value)
	if err := field.NTT(valueNTT, params.Ring); err != nil {
		return nil, fmt.Errorf("setup: NTT(share): %w", err)
	}

	productNTT := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		productNTT[j] = field.Mod(new(big.Int).Mul(valueNTT[j], hNTT[j]), order)
	}

	product := cloneVec(productNTT)
	if err := field.INTT(product, params.Ring); err != nil {
		return nil, fmt.Errorf("setup: INTT(product): %w", err)
	}

	scaled := make([]*big.Int, n)
	e := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		pq := new(big.Int).Mul(product[j], params.Q)
		sc, rem := field.DivRemEuclid(pq, order)
		scaled[j] = sc
		e[j] = rem
	}

	return &Vector{
		Value:      value,
		ValueNTT:   valueNTT,
		ProductNTT: productNTT,
		Product:    product,
		Scaled:     scaled,
		E:          e,
	}, nil
}

// GenSetupValues produces a client's (or the relay's) complete Values:
// the share vector built from shareValue, an independently-drawn
// blinding vector, and, when doBlame is set, the Pedersen commitments to
// the rounding remainder.
func GenSetupValues(params *Params, shareValue []*big.Int, doBlame bool) (*Values, error) {
	hNTT := cloneVec(HashVector(params.VectorLen, params.Ring.Order))
	if err := field.NTT(hNTT, params.Ring); err != nil {
		return nil, fmt.Errorf("setup: NTT(H): %w", err)
	}

	var share, blinding *Vector
	g := new(errgroup.Group)
	g.Go(func() error {
		v, err := buildVector(shareValue, hNTT, params)
		if err != nil {
			return err
		}
		share = v
		return nil
	})
	g.Go(func() error {
		blindValue := make([]*big.Int, params.VectorLen)
		for j := range blindValue {
			v, err := rand.Int(rand.Reader, params.Ring.Order)
			if err != nil {
				return fmt.Errorf("setup: drawing blinding share: %w", err)
			}
			blindValue[j] = v
		}
		v, err := buildVector(blindValue, hNTT, params)
		if err != nil {
			return err
		}
		blinding = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	values := &Values{Share: share, Blinding: blinding}
	if doBlame {
		curveBackend := params.Curve
		commitments := make([]curve.Point, params.VectorLen)
		for j := 0; j < params.VectorLen; j++ {
			commitments[j] = curve.Commit(curveBackend, share.E[j], blinding.E[j])
		}
		values.Commitments = commitments
	}
	return values, nil
}

// bitrev returns the reversal of i's low log2(n) bits. The forward NTT
// leaves its output in bit-reversed order, so the DFT coefficient at
// array slot j is the natural-index coefficient rev(j); every ω exponent
// below must use the natural index.
func bitrev(i, n int) int {
	r := 0
	for n > 1 {
		r = r<<1 | i&1
		i >>= 1
		n >>= 1
	}
	return r
}

// computeD returns, for every coefficient index k, the exact-integer
// witness d[k] = (rawSum[k] - product[k]) / ord_V, where rawSum[k] is the
// *unnormalized* inverse-NTT sum of productNTT evaluated with the
// pre-scaled value_ntt' = ninv·value_ntt (mod ord_V). rawSum[k] is
// congruent to product[k] modulo ord_V by construction of the NTT/INTT
// pair, so the division is always exact; a nonzero remainder means the
// relay's own setup values are internally inconsistent and must abort.
func computeD(valueNTTPrime []*big.Int, hNTT []*big.Int, product []*big.Int, ring *field.Ring, vectorLen int) ([]*big.Int, error) {
	order := ring.Order
	root, err := ring.RootOfUnity(vectorLen)
	if err != nil {
		return nil, err
	}
	invRoot := new(big.Int).ModInverse(root, order)
	if invRoot == nil {
		return nil, fmt.Errorf("setup: root of unity not invertible mod ord_V")
	}
	d := make([]*big.Int, vectorLen)
	for k := 0; k < vectorLen; k++ {
		rawSum := big.NewInt(0)
		for j := 0; j < vectorLen; j++ {
			// ω^{-rev(j)·k}: slot j holds the natural-index rev(j)
			// coefficient, see bitrev.
			exp := big.NewInt(int64((bitrev(j, vectorLen) * k) % vectorLen))
			omega := new(big.Int).Exp(invRoot, exp, order)
			coef := new(big.Int).Mul(hNTT[j], omega)
			coef.Mod(coef, order)
			term := new(big.Int).Mul(coef, valueNTTPrime[j])
			rawSum.Add(rawSum, term)
		}
		diff := new(big.Int).Sub(rawSum, product[k])
		q, rem := new(big.Int).QuoRem(diff, order, new(big.Int))
		if rem.Sign() != 0 {
			return nil, fmt.Errorf("setup: QW self-check failed at k=%d: rounding witness not divisible by ord_V: %w", k, organerr.ErrSetupConsistency)
		}
		d[k] = q
	}
	return d, nil
}

// GenSetupRelay builds the relay's own setup (from the all-ones share)
// and, when doBlame is set, the per-client QW table used by the blame
// verifier (internal/blame). clients is the complete list of client
// Values the trusted dealer generated this setup run.
func GenSetupRelay(params *Params, clients []*Values, doBlame bool) (*Relay, error) {
	values, err := GenSetupValues(params, onesVector(params.VectorLen), doBlame)
	if err != nil {
		return nil, fmt.Errorf("setup: relay values: %w", err)
	}
	relay := &Relay{Values: values}
	if !doBlame {
		return relay, nil
	}

	order := params.Ring.Order
	n := params.VectorLen
	ninv := new(big.Int).ModInverse(big.NewInt(int64(n)), order)
	if ninv == nil {
		return nil, fmt.Errorf("setup: vector_len not invertible mod ord_V")
	}
	hNTT := cloneVec(HashVector(n, order))
	if err := field.NTT(hNTT, params.Ring); err != nil {
		return nil, fmt.Errorf("setup: NTT(H): %w", err)
	}

	qw := make([][]curve.Point, len(clients))
	g := new(errgroup.Group)
	for idx, client := range clients {
		idx, client := idx, client
		g.Go(func() error {
			row, err := buildClientQWRow(params, client, hNTT, ninv)
			if err != nil {
				return fmt.Errorf("setup: client %d QW: %w", idx, err)
			}
			qw[idx] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	relay.QW = qw
	return relay, nil
}

// buildClientQWRow computes QW[i][*] for a single client, and cross-checks
// each entry against the direct expansion (h^{blind.product[k]} *
// g^{share.product[k]}) * q, the mandatory internal consistency check a
// relay runs before trusting its own setup output.
func buildClientQWRow(params *Params, client *Values, hNTT []*big.Int, ninv *big.Int) ([]curve.Point, error) {
	c := params.Curve
	order := params.Ring.Order
	n := params.VectorLen

	sharePrime := make([]*big.Int, n)
	blindPrime := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		sharePrime[j] = field.Mod(new(big.Int).Mul(ninv, client.Share.ValueNTT[j]), order)
		blindPrime[j] = field.Mod(new(big.Int).Mul(ninv, client.Blinding.ValueNTT[j]), order)
	}

	dShare, err := computeD(sharePrime, hNTT, client.Share.Product, params.Ring, n)
	if err != nil {
		return nil, err
	}
	dBlind, err := computeD(blindPrime, hNTT, client.Blinding.Product, params.Ring, n)
	if err != nil {
		return nil, err
	}

	ab := make([]curve.Point, n)
	for j := 0; j < n; j++ {
		ab[j] = curve.Commit(c, sharePrime[j], blindPrime[j])
	}

	root, err := params.Ring.RootOfUnity(n)
	if err != nil {
		return nil, err
	}
	invRoot := new(big.Int).ModInverse(root, order)
	if invRoot == nil {
		return nil, fmt.Errorf("setup: root of unity not invertible mod ord_V")
	}

	row := make([]curve.Point, n)
	for k := 0; k < n; k++ {
		sum := c.Generator()
		sum = c.Add(sum, c.Neg(sum)) // identity element, built without a dedicated Zero()
		for j := 0; j < n; j++ {
			exp := big.NewInt(int64((bitrev(j, n) * k) % n))
			coef := new(big.Int).Exp(invRoot, exp, order)
			coef.Mul(coef, hNTT[j])
			coef.Mod(coef, order)
			sum = c.Add(sum, c.ScalarMul(ab[j], coef))
		}
		sum = c.Add(sum, c.Neg(c.ScalarMul(c.Generator(), new(big.Int).Mul(order, dShare[k]))))
		sum = c.Add(sum, c.Neg(c.ScalarMul(c.AltGenerator(), new(big.Int).Mul(order, dBlind[k]))))
		qwEntry := c.ScalarMul(sum, params.Q)

		direct := curve.Commit(c, client.Share.Product[k], client.Blinding.Product[k])
		directScaled := c.ScalarMul(direct, params.Q)
		if !c.Equal(qwEntry, directScaled) {
			return nil, fmt.Errorf("setup: QW self-check mismatch at k=%d: %w", k, organerr.ErrSetupConsistency)
		}
		row[k] = qwEntry
	}
	return row, nil
}
