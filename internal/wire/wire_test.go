package wire

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/setup"
)

func bigs(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func roundTrip(t *testing.T, m *Message) *Message {
	t.Helper()
	data, err := Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return got
}

func TestClientBaseMessageRoundTrip(t *testing.T) {
	orig := &Message{
		Tag: TagClientBase,
		ClientBase: &ClientBaseMessage{
			Round:        7,
			NID:          3,
			SlotMessages: bigs(-1, 0, 12345678901234),
		},
	}
	got := roundTrip(t, orig)
	if got.Tag != TagClientBase {
		t.Fatalf("got tag %d, want TagClientBase", got.Tag)
	}
	if got.ClientBase.Round != 7 || got.ClientBase.NID != 3 {
		t.Fatalf("round/nid mismatch: %+v", got.ClientBase)
	}
	for i, v := range orig.ClientBase.SlotMessages {
		if got.ClientBase.SlotMessages[i].Cmp(v) != 0 {
			t.Fatalf("slot %d: got %s want %s", i, got.ClientBase.SlotMessages[i], v)
		}
	}
	if got.ClientBase.Blame != nil {
		t.Fatal("expected nil Blame when do_blame is unset")
	}
}

func TestClientBaseMessageWithBlameRoundTrip(t *testing.T) {
	c := curve.Secp256k1()
	e1 := c.Marshal(curve.ScalarMulBase(c, big.NewInt(5)))
	e2 := c.Marshal(curve.ScalarMulBase(c, big.NewInt(9)))
	orig := &Message{
		Tag: TagClientBase,
		ClientBase: &ClientBaseMessage{
			Round:         1,
			NID:           0,
			SlotMessages:  bigs(1, 2),
			Blame:         bigs(3, 4),
			BlameBlinding: bigs(5, 6),
			E:             [][]byte{e1, e2},
		},
	}
	got := roundTrip(t, orig)
	if got.ClientBase.Blame == nil || len(got.ClientBase.E) != 2 {
		t.Fatalf("blame fields not preserved: %+v", got.ClientBase)
	}
	if !bytes.Equal(got.ClientBase.E[0], e1) || !bytes.Equal(got.ClientBase.E[1], e2) {
		t.Fatal("commitment bytes not preserved")
	}
}

func TestServerBaseMessageRoundTrip(t *testing.T) {
	orig := &Message{Tag: TagServerBase, ServerBase: &ServerBaseMessage{Round: 42, Perm: bigs(7, 11, 13, 17)}}
	got := roundTrip(t, orig)
	if got.ServerBase.Round != 42 {
		t.Fatalf("round mismatch: %d", got.ServerBase.Round)
	}
	for i, v := range orig.ServerBase.Perm {
		if got.ServerBase.Perm[i].Cmp(v) != 0 {
			t.Fatalf("perm[%d]: got %s want %s", i, got.ServerBase.Perm[i], v)
		}
	}
}

func TestClientBulkAndServerBulkRoundTrip(t *testing.T) {
	orig := &Message{Tag: TagClientBulk, ClientBulk: &ClientBulkMessage{Round: 2, NID: 1, SlotMessages: bigs(1, 2, 3, 4)}}
	got := roundTrip(t, orig)
	if got.ClientBulk.Round != 2 || got.ClientBulk.NID != 1 {
		t.Fatalf("unexpected ClientBulk: %+v", got.ClientBulk)
	}

	orig2 := &Message{Tag: TagServerBulk, ServerBulk: &ServerBulkMessage{}}
	got2 := roundTrip(t, orig2)
	if got2.Tag != TagServerBulk {
		t.Fatalf("got tag %d, want TagServerBulk", got2.Tag)
	}
}

func TestClientPrifiAndOkRoundTrip(t *testing.T) {
	orig := &Message{
		Tag: TagClientPrifi,
		ClientPrifi: &ClientPrifiMessage{
			Round:        1,
			NID:          2,
			SlotMessages: bigs(1, 2),
			Cipher:       big.NewInt(99),
			Keys:         [][2]*big.Int{{big.NewInt(1), big.NewInt(2)}},
		},
	}
	got := roundTrip(t, orig)
	if got.ClientPrifi.Cipher.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("cipher mismatch: %s", got.ClientPrifi.Cipher)
	}
	if len(got.ClientPrifi.Keys) != 1 || got.ClientPrifi.Keys[0][1].Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("keys mismatch: %+v", got.ClientPrifi.Keys)
	}

	ok := roundTrip(t, &Message{Tag: TagOk})
	if ok.Tag != TagOk {
		t.Fatalf("got tag %d, want TagOk", ok.Tag)
	}
}

func TestFrameReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}

func TestFrameLengthPrefixIsLittleEndian(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 256)); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	prefix := buf.Bytes()[:8]
	// 256 = 0x0100 little-endian: low byte (index 0) is 0, byte 1 is 1,
	// rest zero.
	want := []byte{0, 1, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(prefix, want) {
		t.Fatalf("length prefix %v, want little-endian %v", prefix, want)
	}
}

func TestSetupValuesRoundTrip(t *testing.T) {
	c := curve.Secp256k1()
	v := &setup.Values{
		Share: &setup.Vector{
			Value: bigs(1, 2, 3, 4), ValueNTT: bigs(1, 2, 3, 4), ProductNTT: bigs(1, 2, 3, 4),
			Product: bigs(1, 2, 3, 4), Scaled: bigs(1, 2, 3, 4), E: bigs(1, 2, 3, 4),
		},
		Blinding: &setup.Vector{
			Value: bigs(5, 6, 7, 8), ValueNTT: bigs(5, 6, 7, 8), ProductNTT: bigs(5, 6, 7, 8),
			Product: bigs(5, 6, 7, 8), Scaled: bigs(5, 6, 7, 8), E: bigs(5, 6, 7, 8),
		},
		Commitments: []curve.Point{curve.ScalarMulBase(c, big.NewInt(1)), curve.ScalarMulBase(c, big.NewInt(2))},
	}
	data, err := MarshalSetupValues(c, v)
	if err != nil {
		t.Fatalf("MarshalSetupValues: %v", err)
	}
	got, err := UnmarshalSetupValues(data, c)
	if err != nil {
		t.Fatalf("UnmarshalSetupValues: %v", err)
	}
	if len(got.Commitments) != 2 || !c.Equal(got.Commitments[0], v.Commitments[0]) {
		t.Fatalf("commitments not preserved")
	}
	for i := range v.Share.Scaled {
		if got.Share.Scaled[i].Cmp(v.Share.Scaled[i]) != 0 {
			t.Fatalf("share.scaled[%d] mismatch", i)
		}
	}
}
