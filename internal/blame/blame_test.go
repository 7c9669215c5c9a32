package blame

import (
	"math/big"
	"testing"

	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/field"
	"github.com/rawblock/organ-relay/internal/setup"
)

func testRing() *field.Ring {
	return &field.Ring{Order: big.NewInt(12289), Root: big.NewInt(11), Scale: 12288}
}

// buildHonestSetup builds a tiny honest setup run (N clients, vectorLen
// coefficients), returning each client's Values and the relay's Relay
// (with QW), for the blame tests below.
func buildHonestSetup(t *testing.T, n, vectorLen int) (*setup.Params, []*setup.Values, *setup.Relay) {
	t.Helper()
	params := &setup.Params{
		P:         big.NewInt(101),
		Q:         big.NewInt(10007),
		Ring:      testRing(),
		VectorLen: vectorLen,
		Bits:      64,
		Curve:     curve.Secp256k1(),
	}
	order := params.Ring.Order

	perCoordShares := make([][]*big.Int, vectorLen)
	for j := 0; j < vectorLen; j++ {
		s, err := setup.GenerateSumShares(n, order, big.NewInt(1))
		if err != nil {
			t.Fatalf("GenerateSumShares: %v", err)
		}
		perCoordShares[j] = s
	}

	values := make([]*setup.Values, n)
	for i := 0; i < n; i++ {
		shareVec := make([]*big.Int, vectorLen)
		for j := 0; j < vectorLen; j++ {
			shareVec[j] = perCoordShares[j][i]
		}
		v, err := setup.GenSetupValues(params, shareVec, true)
		if err != nil {
			t.Fatalf("GenSetupValues(client %d): %v", i, err)
		}
		values[i] = v
	}

	relay, err := setup.GenSetupRelay(params, values, true)
	if err != nil {
		t.Fatalf("GenSetupRelay: %v", err)
	}
	return params, values, relay
}

// TestBlameCompleteness checks that an honest client's claim always
// verifies.
func TestBlameCompleteness(t *testing.T) {
	params, values, relay := buildHonestSetup(t, 3, 4)
	for i, v := range values {
		claim := &Claim{
			Blame:         v.Share.Scaled,
			BlameBlinding: v.Blinding.Scaled,
			E:             v.Commitments,
		}
		ok, err := Verify(params.Curve, params.Ring.Order, claim, relay.QW[i])
		if err != nil {
			t.Fatalf("client %d: Verify error: %v", i, err)
		}
		if !ok {
			t.Fatalf("client %d: honest claim rejected", i)
		}
	}
}

// TestBlameSoundness checks that a client substituting an arbitrary
// value for blame[k], leaving E[k] unchanged, is rejected.
func TestBlameSoundness(t *testing.T) {
	params, values, relay := buildHonestSetup(t, 4, 4)
	nid := 2
	v := values[nid]

	tampered := &Claim{
		Blame:         append([]*big.Int(nil), v.Share.Scaled...),
		BlameBlinding: append([]*big.Int(nil), v.Blinding.Scaled...),
		E:             v.Commitments,
	}
	tampered.Blame[3] = new(big.Int).Add(tampered.Blame[3], big.NewInt(1))

	ok, err := Verify(params.Curve, params.Ring.Order, tampered, relay.QW[nid])
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if ok {
		t.Fatal("tampered blame claim should be rejected")
	}
}

func TestVerifyClaimLengthMismatch(t *testing.T) {
	params, values, relay := buildHonestSetup(t, 2, 4)
	claim := &Claim{
		Blame:         values[0].Share.Scaled[:1],
		BlameBlinding: values[0].Blinding.Scaled,
		E:             values[0].Commitments,
	}
	if _, err := Verify(params.Curve, params.Ring.Order, claim, relay.QW[0]); err == nil {
		t.Fatal("expected a length-mismatch error")
	}
}
