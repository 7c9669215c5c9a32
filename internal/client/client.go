// Package client builds a single participant's base-round and bulk-round
// ciphertext vectors. It returns the vectors for the caller to frame and
// send rather than owning the socket itself; the TCP connection
// lifecycle lives in cmd/organ.
package client

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/rawblock/organ-relay/internal/field"
)

// BaseCiphertext produces the length-N base-round slot vector for a
// client holding prf (its scaled PRF share) and a fresh one-time
// identifier m in [0, p): slot i carries prf[i] additively masking
// Headroom(n) * (m^(i+1) mod p).
func BaseCiphertext(prf []*big.Int, m, p, q *big.Int, n int) ([]*big.Int, error) {
	if len(prf) < n {
		return nil, fmt.Errorf("client: prf vector shorter than client_size: have %d want %d", len(prf), n)
	}
	lift := big.NewInt(field.Headroom(n))
	slots := make([]*big.Int, n)
	power := big.NewInt(1)
	for i := 0; i < n; i++ {
		power = field.Mod(new(big.Int).Mul(power, m), p)
		lifted := new(big.Int).Mul(lift, power)
		c := new(big.Int).Add(prf[i], lifted)
		slots[i] = field.Mod(c, q)
	}
	return slots, nil
}

// BulkCiphertext produces the length slotPerRound*N bulk-round slot
// vector for a client at permuted position posid, lifting nid+1 into its
// slotPerRound-wide window.
func BulkCiphertext(prf []*big.Int, nid uint64, posid, slotPerRound, clientSize int, p, q *big.Int) ([]*big.Int, error) {
	total := slotPerRound * clientSize
	if len(prf) < total {
		return nil, fmt.Errorf("client: prf vector shorter than slot_per_round*client_size: have %d want %d", len(prf), total)
	}
	if posid < 0 || posid >= clientSize {
		return nil, fmt.Errorf("client: posid %d out of range [0, %d)", posid, clientSize)
	}
	lift := big.NewInt(field.Headroom(clientSize))
	payload := field.Mod(new(big.Int).Mul(lift, big.NewInt(int64(nid)+1)), p)

	slots := make([]*big.Int, total)
	start := posid * slotPerRound
	end := start + slotPerRound
	for i := 0; i < total; i++ {
		if i >= start && i < end {
			slots[i] = field.Mod(new(big.Int).Add(prf[i], payload), q)
		} else {
			slots[i] = field.Mod(new(big.Int).Set(prf[i]), q)
		}
	}
	return slots, nil
}

// MaskOnlyBulkCiphertext produces a bulk-round vector carrying no
// payload, for a client whose identifier was not recovered in the base
// round. Its mask still cancels in the aggregate, so the other clients'
// windows decode normally and the relay's round gate is not starved;
// the lost client's own window decodes to zero.
func MaskOnlyBulkCiphertext(prf []*big.Int, slotPerRound, clientSize int, q *big.Int) ([]*big.Int, error) {
	total := slotPerRound * clientSize
	if len(prf) < total {
		return nil, fmt.Errorf("client: prf vector shorter than slot_per_round*client_size: have %d want %d", len(prf), total)
	}
	slots := make([]*big.Int, total)
	for i := 0; i < total; i++ {
		slots[i] = field.Mod(new(big.Int).Set(prf[i]), q)
	}
	return slots, nil
}

// FindOwnIdentifier linear-searches perm for m, returning its index, or
// -1 if m is absent or appears more than once: a solver failure or
// identifier collision, which the client treats as a lost round.
func FindOwnIdentifier(perm []*big.Int, m *big.Int) int {
	idx := -1
	for i, v := range perm {
		if v.Cmp(m) == 0 {
			if idx >= 0 {
				return -1
			}
			idx = i
		}
	}
	return idx
}

// RandomIdentifier draws a fresh one-time base-round identifier in
// [0, p), used once per round by an honest client.
func RandomIdentifier(p *big.Int) (*big.Int, error) {
	m, err := rand.Int(rand.Reader, p)
	if err != nil {
		return nil, fmt.Errorf("client: drawing one-time identifier: %w", err)
	}
	return m, nil
}
