package reactor

import (
	"context"
	"math/big"
	"net"
	"sort"
	"testing"
	"time"

	"github.com/rawblock/organ-relay/internal/client"
	"github.com/rawblock/organ-relay/internal/config"
	"github.com/rawblock/organ-relay/internal/field"
	"github.com/rawblock/organ-relay/internal/setup"
	"github.com/rawblock/organ-relay/internal/wire"
)

func smallParams(vectorLen int) *setup.Params {
	return &setup.Params{
		P:         big.NewInt(1_000_003),
		Q:         new(big.Int).Mul(big.NewInt(1_000_003), big.NewInt(1_000_000)),
		Ring:      &field.Ring{Order: big.NewInt(65537), Root: big.NewInt(3), Scale: 65536},
		VectorLen: vectorLen,
		Bits:      64,
	}
}

// honestClientSetups generates N honest per-client setups plus the
// relay's own, sharing coefficient-wise additive splits of 1.
func honestClientSetups(t *testing.T, params *setup.Params, n int) ([]*setup.Values, *setup.Relay) {
	t.Helper()
	order := params.Ring.Order
	perCoord := make([][]*big.Int, params.VectorLen)
	for j := 0; j < params.VectorLen; j++ {
		s, err := setup.GenerateSumShares(n, order, big.NewInt(1))
		if err != nil {
			t.Fatalf("GenerateSumShares: %v", err)
		}
		perCoord[j] = s
	}
	values := make([]*setup.Values, n)
	for i := 0; i < n; i++ {
		shareVec := make([]*big.Int, params.VectorLen)
		for j := 0; j < params.VectorLen; j++ {
			shareVec[j] = perCoord[j][i]
		}
		v, err := setup.GenSetupValues(params, shareVec, false)
		if err != nil {
			t.Fatalf("GenSetupValues(%d): %v", i, err)
		}
		values[i] = v
	}
	relay, err := setup.GenSetupRelay(params, values, false)
	if err != nil {
		t.Fatalf("GenSetupRelay: %v", err)
	}
	return values, relay
}

func sortedInts(xs []*big.Int) []int64 {
	out := make([]int64, len(xs))
	for i, x := range xs {
		out[i] = x.Int64()
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TestSolveEquationRecoversHonestIdentifiers checks that honest clients
// submitting distinct m values recover a perm equal to their multiset.
func TestSolveEquationRecoversHonestIdentifiers(t *testing.T) {
	n := 4
	params := smallParams(8)
	values, relay := honestClientSetups(t, params, n)

	ms := []int64{7, 11, 13, 17}
	messages := make(map[uint64]*wire.ClientBaseMessage, n)
	for i := 0; i < n; i++ {
		slots, err := client.BaseCiphertext(values[i].Share.Scaled, big.NewInt(ms[i]), params.P, params.Q, n)
		if err != nil {
			t.Fatalf("BaseCiphertext(%d): %v", i, err)
		}
		messages[uint64(i)] = &wire.ClientBaseMessage{Round: 1, NID: uint64(i), SlotMessages: slots}
	}

	r := &Relay{
		Cfg:        &config.Config{ClientSize: n},
		BaseParams: params,
		BaseRelay:  relay,
	}
	perm, err := r.solveEquation(messages)
	if err != nil {
		t.Fatalf("solveEquation: %v", err)
	}
	got := sortedInts(perm)
	want := append([]int64(nil), ms...)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestComputeMessageRecoversBulkPayloads checks bulk-round payload
// recovery end to end, using N=4 (a power-of-two vector_len, as NTT
// requires) rather than a smaller illustrative N.
func TestComputeMessageRecoversBulkPayloads(t *testing.T) {
	n, slotPerRound := 4, 2
	params := smallParams(n * slotPerRound)
	values, relay := honestClientSetups(t, params, n)

	// Clients occupy permuted positions 1, 2, 0, 3 respectively.
	posids := []int{1, 2, 0, 3}
	messages := make(map[uint64]*wire.ClientBulkMessage, n)
	for i := 0; i < n; i++ {
		slots, err := client.BulkCiphertext(values[i].Share.Scaled, uint64(i), posids[i], slotPerRound, n, params.P, params.Q)
		if err != nil {
			t.Fatalf("BulkCiphertext(%d): %v", i, err)
		}
		messages[uint64(i)] = &wire.ClientBulkMessage{Round: 1, NID: uint64(i), SlotMessages: slots}
	}

	r := &Relay{
		Cfg:        &config.Config{ClientSize: n, SlotPerRound: slotPerRound},
		BulkParams: params,
		BulkRelay:  relay,
	}
	out, err := r.computeMessage(messages)
	if err != nil {
		t.Fatalf("computeMessage: %v", err)
	}
	for i := 0; i < n; i++ {
		window := out[posids[i]*slotPerRound : (posids[i]+1)*slotPerRound]
		for _, v := range window {
			if v.Int64() != int64(i+1) {
				t.Fatalf("client %d window at posid %d: got %v, want all %d", i, posids[i], window, i+1)
			}
		}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding a free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func dialRelay(t *testing.T, addr string) net.Conn {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dialing relay at %s: %v", addr, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sendFrame(t *testing.T, conn net.Conn, m *wire.Message) {
	t.Helper()
	data, err := wire.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := wire.WriteFrame(conn, data); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
}

func recvFrame(conn net.Conn, timeout time.Duration) (*wire.Message, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return wire.Unmarshal(payload)
}

// TestRoundGatingAndBroadcastFanOut drives the reactor over real TCP:
// no ServerBaseMessage may leave the relay until all N distinct nids
// have submitted for the round (a duplicate nid does not count), and
// once the round fires, every connected client receives the broadcast.
func TestRoundGatingAndBroadcastFanOut(t *testing.T) {
	n := 2
	params := smallParams(2)
	values, relaySetup := honestClientSetups(t, params, n)

	cfg := &config.Config{ServerAddr: freeAddr(t), ClientSize: n, Round: 1, SlotPerRound: 1}
	r := &Relay{Cfg: cfg, BaseParams: params, BulkParams: params, BaseRelay: relaySetup, BulkRelay: relaySetup}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	conn0 := dialRelay(t, cfg.ServerAddr)
	defer conn0.Close()
	conn1 := dialRelay(t, cfg.ServerAddr)
	defer conn1.Close()

	ms := []int64{7, 11}
	baseMsg := func(i int) *wire.Message {
		slots, err := client.BaseCiphertext(values[i].Share.Scaled, big.NewInt(ms[i]), params.P, params.Q, n)
		if err != nil {
			t.Fatalf("BaseCiphertext(%d): %v", i, err)
		}
		return &wire.Message{
			Tag:        wire.TagClientBase,
			ClientBase: &wire.ClientBaseMessage{Round: 1, NID: uint64(i), SlotMessages: slots},
		}
	}

	sendFrame(t, conn0, baseMsg(0))
	sendFrame(t, conn0, baseMsg(0)) // duplicate nid must not trip the gate
	if msg, err := recvFrame(conn1, 300*time.Millisecond); err == nil {
		t.Fatalf("server broadcast tag %d before all distinct nids arrived", msg.Tag)
	}

	sendFrame(t, conn1, baseMsg(1))
	for i, conn := range []net.Conn{conn0, conn1} {
		msg, err := recvFrame(conn, 5*time.Second)
		if err != nil {
			t.Fatalf("conn %d: reading ServerBaseMessage: %v", i, err)
		}
		if msg.Tag != wire.TagServerBase || msg.ServerBase.Round != 1 {
			t.Fatalf("conn %d: unexpected broadcast: %+v", i, msg)
		}
		got := sortedInts(msg.ServerBase.Perm)
		if len(got) != n || got[0] != 7 || got[1] != 11 {
			t.Fatalf("conn %d: perm mismatch: %v", i, got)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not shut down after cancel")
	}
}
