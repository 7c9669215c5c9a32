// Package reactor implements the connection fabric and per-round state
// machines: a TCP listener, a channel-registration broadcast hub, a
// single dispatcher routing by message tag, and the base/bulk round
// gating logic.
package reactor

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/organ-relay/internal/blame"
	"github.com/rawblock/organ-relay/internal/config"
	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/field"
	"github.com/rawblock/organ-relay/internal/organerr"
	"github.com/rawblock/organ-relay/internal/setup"
	"github.com/rawblock/organ-relay/internal/solver"
	"github.com/rawblock/organ-relay/internal/wire"
)

// Relay holds everything needed to run the base and bulk round reactors
// against one configuration.
type Relay struct {
	Cfg        *config.Config
	BaseParams *setup.Params
	BulkParams *setup.Params
	BaseRelay  *setup.Relay
	BulkRelay  *setup.Relay

	// RoundDone, when non-nil, is invoked after every completed base
	// round with the round number and recovered permutation; used by
	// internal/store and internal/dashboard to observe round progress
	// without coupling them into the reactor.
	RoundDone func(round uint64, perm []*big.Int)
	// BulkRoundDone, when non-nil, is invoked after every completed bulk
	// round with the round number.
	BulkRoundDone func(round uint64)
	// BlameFailure, when non-nil, is invoked whenever blame verification
	// rejects a client's submission.
	BlameFailure func(round, nid uint64)
	// ConnectionCount, when non-nil, is invoked whenever a client
	// connects or disconnects, with the new total connection count.
	ConnectionCount func(n int)
}

// connWriter is a per-connection outbound mailbox.
type connWriter chan []byte

// hub is the broadcast fabric: the only mutable structure shared across
// tasks. Its sender list is updated exclusively through the
// register/unregister channels; the broadcast goroutine otherwise treats
// it as read-only, so no mutex is needed.
type hub struct {
	register   chan connWriter
	unregister chan connWriter
	broadcast  chan []byte
	onCount    func(n int)
}

func newHub(onCount func(n int)) *hub {
	return &hub{
		register:   make(chan connWriter),
		unregister: make(chan connWriter),
		broadcast:  make(chan []byte, 64),
		onCount:    onCount,
	}
}

func (h *hub) run(ctx context.Context) {
	var conns []connWriter
	notify := func() {
		if h.onCount != nil {
			h.onCount(len(conns))
		}
	}
	for {
		select {
		case c := <-h.register:
			conns = append(conns, c)
			notify()
		case c := <-h.unregister:
			for i, existing := range conns {
				if existing == c {
					conns = append(conns[:i], conns[i+1:]...)
					break
				}
			}
			notify()
		case msg := <-h.broadcast:
			for _, c := range conns {
				select {
				case c <- msg:
				default:
					log.Printf("reactor: dropping broadcast to a slow connection")
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func handleConnection(ctx context.Context, conn net.Conn, input chan<- []byte, h *hub) {
	defer conn.Close()
	traceID := uuid.New()
	log.Printf("reactor: connection %s accepted from %s", traceID, conn.RemoteAddr())
	out := make(connWriter, 64)
	select {
	case h.register <- out:
	case <-ctx.Done():
		return
	}
	defer func() {
		select {
		case h.unregister <- out:
		case <-ctx.Done():
		}
	}()

	go func() {
		for {
			select {
			case msg := <-out:
				if err := wire.WriteFrame(conn, msg); err != nil {
					log.Printf("reactor: connection %s: write error: %v", traceID, err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		payload, err := wire.ReadFrame(conn)
		if err != nil {
			log.Printf("reactor: connection %s: read error: %v, dropping connection", traceID, err)
			return
		}
		select {
		case input <- payload:
		case <-ctx.Done():
			return
		}
	}
}

func listen(ctx context.Context, addr string, input chan<- []byte, h *hub) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("reactor: binding %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("reactor: accept: %w", err)
			}
		}
		go handleConnection(ctx, conn, input, h)
	}
}

func dispatch(ctx context.Context, input <-chan []byte, baseCh chan<- *wire.ClientBaseMessage, bulkCh chan<- *wire.ClientBulkMessage, prifiCh chan<- *wire.ClientPrifiMessage) {
	for {
		select {
		case payload := <-input:
			msg, err := wire.Unmarshal(payload)
			if err != nil {
				log.Printf("reactor: dropping malformed message: %v", err)
				continue
			}
			switch msg.Tag {
			case wire.TagClientBase:
				select {
				case baseCh <- msg.ClientBase:
				case <-ctx.Done():
					return
				}
			case wire.TagClientBulk:
				select {
				case bulkCh <- msg.ClientBulk:
				case <-ctx.Done():
					return
				}
			case wire.TagClientPrifi:
				select {
				case prifiCh <- msg.ClientPrifi:
				case <-ctx.Done():
					return
				}
			default:
				log.Printf("reactor: unexpected message tag %d on main path", msg.Tag)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Run starts the listener, broadcast hub, dispatcher, and the base and
// bulk round reactors. The base and bulk reactors run to joint
// completion; the listener, hub, dispatcher, and PriFi path run
// alongside for as long as either needs them, and are torn down once
// both finish or ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	h := newHub(r.ConnectionCount)
	input := make(chan []byte, 256)
	baseCh := make(chan *wire.ClientBaseMessage, 256)
	bulkCh := make(chan *wire.ClientBulkMessage, 256)
	prifiCh := make(chan *wire.ClientPrifiMessage, 256)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	supportErrc := make(chan error, 3)
	go h.run(ctx)
	go dispatch(ctx, input, baseCh, bulkCh, prifiCh)
	go func() { supportErrc <- listen(ctx, r.Cfg.ServerAddr, input, h) }()
	go func() { supportErrc <- runPrifiRounds(ctx, prifiCh, h) }()

	roundErrc := make(chan error, 2)
	go func() { roundErrc <- r.runBaseRounds(ctx, baseCh, h) }()
	go func() { roundErrc <- r.runBulkRounds(ctx, bulkCh, h) }()

	var roundErr error
	for i := 0; i < 2; i++ {
		if err := <-roundErrc; err != nil && roundErr == nil {
			roundErr = err
		}
	}
	cancel()

	// Drain the support tasks' exit status without blocking on them: once
	// ctx is cancelled they return promptly, but a listener bind failure
	// that preceded round completion should still surface.
	select {
	case err := <-supportErrc:
		if err != nil && roundErr == nil {
			roundErr = err
		}
	default:
	}
	return roundErr
}

func (r *Relay) runBaseRounds(ctx context.Context, in <-chan *wire.ClientBaseMessage, h *hub) error {
	buffers := make(map[uint64]map[uint64]*wire.ClientBaseMessage)
	for round := uint64(1); round <= uint64(r.Cfg.Round); round++ {
		if buffers[round] == nil {
			buffers[round] = make(map[uint64]*wire.ClientBaseMessage)
		}
		for len(buffers[round]) < r.Cfg.ClientSize {
			select {
			case msg := <-in:
				r.absorbBaseMessage(buffers, msg)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		log.Printf("reactor: base round %d: all %d messages received, computing", round, r.Cfg.ClientSize)
		perm, err := r.solveEquation(buffers[round])
		if err != nil {
			log.Printf("reactor: base round %d solver failure: %v", round, err)
		}
		if r.RoundDone != nil {
			r.RoundDone(round, perm)
		}
		payload, err := wire.Marshal(&wire.Message{
			Tag:        wire.TagServerBase,
			ServerBase: &wire.ServerBaseMessage{Round: round, Perm: perm},
		})
		if err != nil {
			return fmt.Errorf("reactor: marshaling ServerBaseMessage: %w", err)
		}
		log.Printf("reactor: broadcasting ServerBaseMessage for round %d, %d bytes", round, len(payload))
		select {
		case h.broadcast <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
		delete(buffers, round)
	}
	log.Printf("reactor: base rounds finished")
	return nil
}

func (r *Relay) absorbBaseMessage(buffers map[uint64]map[uint64]*wire.ClientBaseMessage, msg *wire.ClientBaseMessage) {
	if buffers[msg.Round] == nil {
		buffers[msg.Round] = make(map[uint64]*wire.ClientBaseMessage)
	}
	if r.Cfg.DoBlame && msg.Blame != nil {
		r.verifyBlame(msg)
	}
	if _, dup := buffers[msg.Round][msg.NID]; dup {
		log.Printf("reactor: duplicate base submission for nid=%d in round %d, last write wins", msg.NID, msg.Round)
	}
	buffers[msg.Round][msg.NID] = msg
}

func (r *Relay) verifyBlame(msg *wire.ClientBaseMessage) {
	curveBackend := r.BaseParams.Curve
	points := make([]curve.Point, len(msg.E))
	for i, raw := range msg.E {
		p, err := curveBackend.Unmarshal(raw)
		if err != nil {
			log.Printf("reactor: nid=%d: malformed blame commitment at %d: %v", msg.NID, i, err)
			if r.BlameFailure != nil {
				r.BlameFailure(msg.Round, msg.NID)
			}
			return
		}
		points[i] = p
	}
	if int(msg.NID) >= len(r.BaseRelay.QW) {
		log.Printf("reactor: nid=%d has no QW row, skipping blame check", msg.NID)
		return
	}
	claim := &blame.Claim{Blame: msg.Blame, BlameBlinding: msg.BlameBlinding, E: points}
	ok, err := blame.Verify(curveBackend, r.BaseParams.Ring.Order, claim, r.BaseRelay.QW[msg.NID])
	if err != nil {
		log.Printf("reactor: blame verification error for nid=%d: %v", msg.NID, err)
		return
	}
	if !ok {
		log.Printf("reactor: blame protocol verification failure for nid=%d", msg.NID)
		if r.BlameFailure != nil {
			r.BlameFailure(msg.Round, msg.NID)
		}
	}
}

func (r *Relay) runBulkRounds(ctx context.Context, in <-chan *wire.ClientBulkMessage, h *hub) error {
	buffers := make(map[uint64]map[uint64]*wire.ClientBulkMessage)
	for round := uint64(1); round <= uint64(r.Cfg.Round); round++ {
		if buffers[round] == nil {
			buffers[round] = make(map[uint64]*wire.ClientBulkMessage)
		}
		for len(buffers[round]) < r.Cfg.ClientSize {
			select {
			case msg := <-in:
				if buffers[msg.Round] == nil {
					buffers[msg.Round] = make(map[uint64]*wire.ClientBulkMessage)
				}
				if _, dup := buffers[msg.Round][msg.NID]; dup {
					log.Printf("reactor: duplicate bulk submission for nid=%d in round %d, last write wins", msg.NID, msg.Round)
				}
				buffers[msg.Round][msg.NID] = msg
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		log.Printf("reactor: bulk round %d: all %d messages received, computing", round, r.Cfg.ClientSize)
		if r.Cfg.DoDelay {
			log.Printf("reactor: bulk round %d: do_delay set, pausing briefly to simulate network latency", round)
			time.Sleep(50 * time.Millisecond)
		}
		if _, err := r.computeMessage(buffers[round]); err != nil {
			log.Printf("reactor: bulk round %d aggregation failure: %v", round, err)
		}
		if r.BulkRoundDone != nil {
			r.BulkRoundDone(round)
		}
		if r.Cfg.DoPing {
			log.Printf("reactor: bulk round %d: do_ping set, logging reachability probe instead of shelling out", round)
		}
		payload, err := wire.Marshal(&wire.Message{Tag: wire.TagServerBulk, ServerBulk: &wire.ServerBulkMessage{}})
		if err != nil {
			return fmt.Errorf("reactor: marshaling ServerBulkMessage: %w", err)
		}
		log.Printf("reactor: broadcasting ServerBulkMessage for round %d", round)
		select {
		case h.broadcast <- payload:
		case <-ctx.Done():
			return ctx.Err()
		}
		delete(buffers, round)
	}
	log.Printf("reactor: bulk rounds finished")
	return nil
}

// baseScaled returns the relay's base-phase mask, recomputing it fresh
// from value_ntt and H when do_unzip is set.
func (r *Relay) baseScaled() ([]*big.Int, error) {
	if !r.Cfg.DoUnzip {
		return r.BaseRelay.Values.Share.Scaled, nil
	}
	return recomputeScaled(r.BaseParams, r.BaseRelay.Values.Share.ValueNTT)
}

func (r *Relay) bulkScaled() ([]*big.Int, error) {
	if !r.Cfg.DoUnzip {
		return r.BulkRelay.Values.Share.Scaled, nil
	}
	return recomputeScaled(r.BulkParams, r.BulkRelay.Values.Share.ValueNTT)
}

// recomputeScaled redoes the product_ntt -> product -> scaled leg of the
// PRF setup algorithm from a stored value_ntt, one NTT round-trip, rather
// than keeping the precomputed scaled vector resident for the relay's
// whole lifetime.
func recomputeScaled(params *setup.Params, valueNTT []*big.Int) ([]*big.Int, error) {
	n := params.VectorLen
	hNTT := setup.HashVector(n, params.Ring.Order)
	if err := field.NTT(hNTT, params.Ring); err != nil {
		return nil, err
	}
	productNTT := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		productNTT[j] = field.Mod(new(big.Int).Mul(valueNTT[j], hNTT[j]), params.Ring.Order)
	}
	product := make([]*big.Int, n)
	for j, v := range productNTT {
		product[j] = new(big.Int).Set(v)
	}
	if err := field.INTT(product, params.Ring); err != nil {
		return nil, err
	}
	scaled := make([]*big.Int, n)
	for j := 0; j < n; j++ {
		pq := new(big.Int).Mul(product[j], params.Q)
		sc, _ := field.DivRemEuclid(pq, params.Ring.Order)
		scaled[j] = sc
	}
	return scaled, nil
}

// solveEquation aggregates the round's base messages, cancels the
// relay's PRF mask, rounds, and recovers the permutation of one-time
// client identifiers.
func (r *Relay) solveEquation(messages map[uint64]*wire.ClientBaseMessage) ([]*big.Int, error) {
	n := r.Cfg.ClientSize
	q := r.BaseParams.Q
	p := r.BaseParams.P
	scaled, err := r.baseScaled()
	if err != nil {
		return nil, fmt.Errorf("recomputing relay mask: %w", err)
	}
	lift := big.NewInt(field.Headroom(n))
	half := new(big.Int).Rsh(lift, 1)

	sums := make([]*big.Int, n)
	g := new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			agg := big.NewInt(0)
			for _, msg := range messages {
				agg.Add(agg, msg.SlotMessages[i])
			}
			agg.Mod(agg, q)
			u := field.Mod(new(big.Int).Sub(agg, scaled[i]), q)
			s := new(big.Int).Add(u, half)
			s.Div(s, lift)
			s.Mod(s, p)
			sums[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	poly, err := solver.NewtonToCoefficients(sums, p)
	if err != nil {
		return nil, fmt.Errorf("newton inversion: %w", err)
	}
	roots, err := solver.Factor(poly, p)
	if err != nil {
		return nil, fmt.Errorf("factoring: %w", err)
	}
	if len(roots) < n {
		return roots, fmt.Errorf("solver recovered %d of %d roots: %w", len(roots), n, organerr.ErrRoundSemantics)
	}
	return roots, nil
}

// computeMessage aggregates the round's bulk messages and recovers the
// payload slot contents. There is no solve step: the rounded, unmasked
// values are the payload.
func (r *Relay) computeMessage(messages map[uint64]*wire.ClientBulkMessage) ([]*big.Int, error) {
	n := r.Cfg.ClientSize * r.Cfg.SlotPerRound
	q := r.BulkParams.Q
	p := r.BulkParams.P
	scaled, err := r.bulkScaled()
	if err != nil {
		return nil, fmt.Errorf("recomputing relay mask: %w", err)
	}
	lift := big.NewInt(field.Headroom(r.Cfg.ClientSize))
	half := new(big.Int).Rsh(lift, 1)

	out := make([]*big.Int, n)
	g := new(errgroup.Group)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			agg := big.NewInt(0)
			for _, msg := range messages {
				agg.Add(agg, msg.SlotMessages[i])
			}
			agg.Mod(agg, q)
			u := field.Mod(new(big.Int).Sub(agg, scaled[i]), q)
			s := new(big.Int).Add(u, half)
			s.Div(s, lift)
			s.Mod(s, p)
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
