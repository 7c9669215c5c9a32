// Package solver turns Newton power sums into monic polynomial
// coefficients and factors the result modulo a large prime, recovering
// the unordered root multiset the base round needs, via a
// self-contained distinct-degree / Cantor-Zassenhaus style factorization
// restricted to the linear factors the protocol actually produces.
package solver

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Poly is a polynomial over Z_p stored as coefficients in ascending
// degree order: Poly[i] is the coefficient of x^i.
type Poly []*big.Int

// NewtonToCoefficients converts Newton power sums S_1..S_n of an unknown
// root multiset into the coefficients of the degree-n monic polynomial
// having that multiset as its roots: a_0 = 1 (implicit leading term),
// a_{i+1} = -(1/(i+1)) * (S_{i+1} + sum_{j=1}^{i} a_j * S_{i+1-j}).
func NewtonToCoefficients(sums []*big.Int, p *big.Int) (Poly, error) {
	n := len(sums)
	if n == 0 {
		return nil, fmt.Errorf("solver: empty power sum vector")
	}
	coeff := make([]*big.Int, n)
	for i := 0; i < n; i++ {
		acc := new(big.Int).Set(sums[i])
		for k, j := 0, i-1; j >= 0; k, j = k+1, j-1 {
			acc.Add(acc, new(big.Int).Mul(coeff[k], sums[j]))
		}
		inv := new(big.Int).Neg(big.NewInt(int64(i) + 1))
		inv.Mod(inv, p)
		inv.ModInverse(inv, p)
		if inv == nil {
			return nil, fmt.Errorf("solver: %d has no inverse mod p", i+1)
		}
		acc.Mul(acc, inv)
		acc.Mod(acc, p)
		coeff[i] = acc
	}
	// poly[n-i-1] = coeff[i]; poly[n] = 1 (monic).
	poly := make(Poly, n+1)
	for i := 0; i < n; i++ {
		poly[n-i-1] = coeff[i]
	}
	poly[n] = big.NewInt(1)
	return poly, nil
}

func trim(a Poly) Poly {
	d := len(a) - 1
	for d > 0 && a[d].Sign() == 0 {
		d--
	}
	return a[:d+1]
}

func degree(a Poly) int { return len(trim(a)) - 1 }

func isZero(a Poly) bool {
	a = trim(a)
	return len(a) == 1 && a[0].Sign() == 0
}

func polyMod(a Poly, p *big.Int) Poly {
	out := make(Poly, len(a))
	for i, c := range a {
		out[i] = new(big.Int).Mod(c, p)
	}
	return trim(out)
}

func polySub(a, b Poly, p *big.Int) Poly {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make(Poly, n)
	for i := 0; i < n; i++ {
		var av, bv *big.Int
		if i < len(a) {
			av = a[i]
		} else {
			av = big.NewInt(0)
		}
		if i < len(b) {
			bv = b[i]
		} else {
			bv = big.NewInt(0)
		}
		out[i] = new(big.Int).Mod(new(big.Int).Sub(av, bv), p)
	}
	return trim(out)
}

func polyMul(a, b Poly, p *big.Int) Poly {
	a, b = trim(a), trim(b)
	out := make(Poly, len(a)+len(b)-1)
	for i := range out {
		out[i] = big.NewInt(0)
	}
	for i, av := range a {
		if av.Sign() == 0 {
			continue
		}
		for j, bv := range b {
			term := new(big.Int).Mul(av, bv)
			out[i+j].Add(out[i+j], term)
		}
	}
	for i := range out {
		out[i].Mod(out[i], p)
	}
	return trim(out)
}

// polyDivMod computes a = q*b + r with deg(r) < deg(b), over Z_p. b must
// be nonzero.
func polyDivMod(a, b Poly, p *big.Int) (q, r Poly, err error) {
	a, b = trim(a), trim(b)
	if isZero(b) {
		return nil, nil, fmt.Errorf("solver: division by zero polynomial")
	}
	bd := degree(b)
	lcInv := new(big.Int).ModInverse(b[bd], p)
	if lcInv == nil {
		return nil, nil, fmt.Errorf("solver: leading coefficient not invertible mod p")
	}
	rem := make(Poly, len(a))
	for i, c := range a {
		rem[i] = new(big.Int).Mod(c, p)
	}
	rem = trim(rem)

	qDeg := degree(rem) - bd
	if qDeg < 0 {
		return Poly{big.NewInt(0)}, rem, nil
	}
	quot := make(Poly, qDeg+1)
	for i := range quot {
		quot[i] = big.NewInt(0)
	}

	for !isZero(rem) && degree(rem) >= bd {
		rd := degree(rem)
		shift := rd - bd
		factor := new(big.Int).Mod(new(big.Int).Mul(rem[rd], lcInv), p)
		quot[shift] = new(big.Int).Mod(new(big.Int).Add(quot[shift], factor), p)
		for i, bc := range b {
			rem[shift+i] = new(big.Int).Mod(new(big.Int).Sub(rem[shift+i], new(big.Int).Mul(factor, bc)), p)
		}
		rem = trim(rem)
	}
	return trim(quot), rem, nil
}

func polyGCD(a, b Poly, p *big.Int) (Poly, error) {
	a, b = trim(a), trim(b)
	for !isZero(b) {
		_, r, err := polyDivMod(a, b, p)
		if err != nil {
			return nil, err
		}
		a, b = b, r
	}
	a = trim(a)
	if isZero(a) {
		return a, nil
	}
	lcInv := new(big.Int).ModInverse(a[len(a)-1], p)
	if lcInv == nil {
		return nil, fmt.Errorf("solver: gcd leading coefficient not invertible mod p")
	}
	out := make(Poly, len(a))
	for i, c := range a {
		out[i] = new(big.Int).Mod(new(big.Int).Mul(c, lcInv), p)
	}
	return out, nil
}

// polyPowMod computes base^exp mod (modulus), where modulus is itself a
// polynomial; used to evaluate x^p mod f and (x+c)^{(p-1)/2} mod g for
// the distinct-degree / equal-degree split.
func polyPowMod(base Poly, exp *big.Int, modulus Poly, p *big.Int) (Poly, error) {
	result := Poly{big.NewInt(1)}
	cur := trim(base)
	e := new(big.Int).Set(exp)
	for e.Sign() > 0 {
		if e.Bit(0) == 1 {
			result = polyMul(result, cur, p)
			if _, r, err := polyDivMod(result, modulus, p); err != nil {
				return nil, err
			} else {
				result = r
			}
		}
		cur = polyMul(cur, cur, p)
		if _, r, err := polyDivMod(cur, modulus, p); err != nil {
			return nil, err
		} else {
			cur = r
		}
		e.Rsh(e, 1)
	}
	return result, nil
}

// squarefreeLinearFactors returns g, the product of the distinct linear
// factors of f (i.e. gcd(x^p - x, f)), by computing x^p mod f.
func squarefreeLinearFactors(f Poly, p *big.Int) (Poly, error) {
	xp, err := polyPowMod(Poly{big.NewInt(0), big.NewInt(1)}, p, f, p)
	if err != nil {
		return nil, err
	}
	diff := polySub(xp, Poly{big.NewInt(0), big.NewInt(1)}, p)
	return polyGCD(diff, f, p)
}

// splitLinear recursively splits a squarefree polynomial g (known to
// factor completely into distinct linear factors) into its roots, via
// Cantor-Zassenhaus random splitting: gcd((x+c)^{(p-1)/2} - 1, g).
func splitLinear(g Poly, p *big.Int) ([]*big.Int, error) {
	g = trim(g)
	d := degree(g)
	if d == 0 {
		return nil, nil
	}
	if d == 1 {
		// g is monic: x + g[0] = 0 => root = -g[0] mod p.
		root := new(big.Int).Neg(g[0])
		root.Mod(root, p)
		return []*big.Int{root}, nil
	}
	exp := new(big.Int).Rsh(new(big.Int).Sub(p, big.NewInt(1)), 1) // (p-1)/2
	for attempt := 0; attempt < 1000; attempt++ {
		c, err := rand.Int(rand.Reader, p)
		if err != nil {
			return nil, fmt.Errorf("solver: drawing split constant: %w", err)
		}
		h, err := polyPowMod(Poly{c, big.NewInt(1)}, exp, g, p)
		if err != nil {
			return nil, err
		}
		h = polySub(h, Poly{big.NewInt(1)}, p)
		split, err := polyGCD(h, g, p)
		if err != nil {
			return nil, err
		}
		sd := degree(split)
		if sd == 0 && split[0].Sign() == 0 {
			continue
		}
		if sd > 0 && sd < d {
			rest, _, err := polyDivMod(g, split, p)
			if err != nil {
				return nil, err
			}
			left, err := splitLinear(split, p)
			if err != nil {
				return nil, err
			}
			right, err := splitLinear(rest, p)
			if err != nil {
				return nil, err
			}
			return append(left, right...), nil
		}
	}
	return nil, fmt.Errorf("solver: failed to split a degree-%d factor after many attempts", d)
}

func evalHorner(f Poly, x *big.Int, p *big.Int) *big.Int {
	f = trim(f)
	acc := new(big.Int).Set(f[len(f)-1])
	for i := len(f) - 2; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, f[i])
		acc.Mod(acc, p)
	}
	return acc
}

// Factor extracts the multiset of roots in Z_p of a degree-n monic
// polynomial via distinct-degree then equal-degree (Cantor-Zassenhaus)
// factorization. It returns as many roots (with multiplicity) as were
// found; a result shorter than deg(poly) means some clients' identifiers
// could not be recovered, left for the caller to detect.
func Factor(poly Poly, p *big.Int) ([]*big.Int, error) {
	f := polyMod(poly, p)
	n := degree(f)
	if n == 0 {
		return nil, nil
	}

	squarefree, err := squarefreeLinearFactors(f, p)
	if err != nil {
		return nil, err
	}
	if degree(squarefree) == 0 {
		return nil, nil
	}
	distinct, err := splitLinear(squarefree, p)
	if err != nil {
		return nil, err
	}

	var roots []*big.Int
	remaining := f
	for _, r := range distinct {
		linear := Poly{new(big.Int).Mod(new(big.Int).Neg(r), p), big.NewInt(1)}
		for {
			if evalHorner(remaining, r, p).Sign() != 0 {
				break
			}
			q, rem, err := polyDivMod(remaining, linear, p)
			if err != nil {
				return nil, err
			}
			if degree(rem) != 0 || rem[0].Sign() != 0 {
				break
			}
			roots = append(roots, new(big.Int).Set(r))
			remaining = q
			if degree(remaining) == 0 {
				break
			}
		}
	}
	return roots, nil
}
