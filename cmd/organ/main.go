// Command organ is the CLI entry point for the organ-relay protocol:
// generating per-client/relay setup files, canonicalizing a configuration
// document, and running the client and relay roles.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rawblock/organ-relay/internal/client"
	"github.com/rawblock/organ-relay/internal/config"
	"github.com/rawblock/organ-relay/internal/dashboard"
	"github.com/rawblock/organ-relay/internal/reactor"
	"github.com/rawblock/organ-relay/internal/setup"
	"github.com/rawblock/organ-relay/internal/store"
	"github.com/rawblock/organ-relay/internal/wire"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  organ config <config_file> <out_dir>")
	fmt.Println("  organ dump <config_file> <out_file>")
	fmt.Println("  organ client <id> <config_file> <base_prf_file> <bulk_prf_file>")
	fmt.Println("  organ server <id> <config_file> <base_prf_file> <bulk_prf_file>")
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	args := os.Args
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}

	switch args[1] {
	case "config":
		if len(args) != 4 {
			usage()
			os.Exit(1)
		}
		runConfig(args[2], args[3])
	case "dump":
		if len(args) != 4 {
			usage()
			os.Exit(1)
		}
		runDump(args[2], args[3])
	case "client":
		if len(args) != 6 {
			usage()
			os.Exit(1)
		}
		runClient(args)
	case "server":
		if len(args) != 6 {
			usage()
			os.Exit(1)
		}
		runServer(args)
	default:
		usage()
		os.Exit(1)
	}
}

// generatePRF builds every client's setup values plus the relay's own, for
// one phase's ProtocolParams, and writes them under outDir using the
// ClientSetupFileName/RelaySetupFileName convention.
func generatePRF(outDir string, clientSize int, pp config.ProtocolParams, doBlame bool) error {
	params, err := pp.Build()
	if err != nil {
		return fmt.Errorf("cmd/organ: building params: %w", err)
	}
	order := params.Ring.Order

	perCoord := make([][]*big.Int, params.VectorLen)
	for j := 0; j < params.VectorLen; j++ {
		shares, err := setup.GenerateSumShares(clientSize, order, big.NewInt(1))
		if err != nil {
			return fmt.Errorf("cmd/organ: generating shares for coord %d: %w", j, err)
		}
		perCoord[j] = shares
	}

	values := make([]*setup.Values, clientSize)
	for i := 0; i < clientSize; i++ {
		shareVec := make([]*big.Int, params.VectorLen)
		for j := 0; j < params.VectorLen; j++ {
			shareVec[j] = perCoord[j][i]
		}
		v, err := setup.GenSetupValues(params, shareVec, doBlame)
		if err != nil {
			return fmt.Errorf("cmd/organ: generating client %d setup: %w", i, err)
		}
		values[i] = v
	}

	for i, v := range values {
		log.Printf("cmd/organ: generating config for node %d...", i)
		data, err := wire.MarshalSetupValues(params.Curve, v)
		if err != nil {
			return fmt.Errorf("cmd/organ: marshaling client %d setup: %w", i, err)
		}
		path := filepath.Join(outDir, config.ClientSetupFileName(params.Bits, i))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("cmd/organ: writing %s: %w", path, err)
		}
	}

	log.Printf("cmd/organ: generating config for relay...")
	relay, err := setup.GenSetupRelay(params, values, doBlame)
	if err != nil {
		return fmt.Errorf("cmd/organ: generating relay setup: %w", err)
	}
	data, err := wire.MarshalSetupRelay(params.Curve, relay)
	if err != nil {
		return fmt.Errorf("cmd/organ: marshaling relay setup: %w", err)
	}
	path := filepath.Join(outDir, config.RelaySetupFileName(params.Bits))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cmd/organ: writing %s: %w", path, err)
	}
	return nil
}

func runConfig(cfgPath, outDir string) {
	log.Printf("cmd/organ: reading from %s...", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("cmd/organ: creating %s: %v", outDir, err)
	}
	log.Println("cmd/organ: generating base round config...")
	if err := generatePRF(outDir, cfg.ClientSize, cfg.BaseParams, cfg.DoBlame); err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
	log.Println("cmd/organ: generating bulk round config...")
	if err := generatePRF(outDir, cfg.ClientSize, cfg.BulkParams, cfg.DoBlame); err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
}

func runDump(cfgPath, outPath string) {
	log.Printf("cmd/organ: reading from %s...", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		log.Fatalf("cmd/organ: canonicalizing config: %v", err)
	}
	log.Printf("cmd/organ: dumping to %s...", outPath)
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Fatalf("cmd/organ: writing %s: %v", outPath, err)
	}
}

func sendMessage(conn net.Conn, m *wire.Message) error {
	data, err := wire.Marshal(m)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, data)
}

func recvMessage(conn net.Conn) (*wire.Message, error) {
	payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	return wire.Unmarshal(payload)
}

func runClient(args []string) {
	nid, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		log.Fatalf("cmd/organ: invalid id %q: %v", args[2], err)
	}
	log.Printf("cmd/organ: reading from %s...", args[3])
	cfg, err := config.Load(args[3])
	if err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
	baseParams, err := cfg.BaseParams.Build()
	if err != nil {
		log.Fatalf("cmd/organ: base_params: %v", err)
	}
	bulkParams, err := cfg.BulkParams.Build()
	if err != nil {
		log.Fatalf("cmd/organ: bulk_params: %v", err)
	}

	log.Printf("cmd/organ: reading from %s...", args[4])
	baseData, err := os.ReadFile(args[4])
	if err != nil {
		log.Fatalf("cmd/organ: reading %s: %v", args[4], err)
	}
	baseValues, err := wire.UnmarshalSetupValues(baseData, baseParams.Curve)
	if err != nil {
		log.Fatalf("cmd/organ: decoding base setup: %v", err)
	}

	log.Printf("cmd/organ: reading from %s...", args[5])
	bulkData, err := os.ReadFile(args[5])
	if err != nil {
		log.Fatalf("cmd/organ: reading %s: %v", args[5], err)
	}
	bulkValues, err := wire.UnmarshalSetupValues(bulkData, bulkParams.Curve)
	if err != nil {
		log.Fatalf("cmd/organ: decoding bulk setup: %v", err)
	}

	conn, err := net.Dial("tcp", cfg.ServerAddr)
	if err != nil {
		log.Fatalf("cmd/organ: dialing %s: %v", cfg.ServerAddr, err)
	}
	defer conn.Close()

	for round := uint64(1); round <= uint64(cfg.Round); round++ {
		log.Printf("cmd/organ: round: %d", round)

		m, err := client.RandomIdentifier(baseParams.P)
		if err != nil {
			log.Fatalf("cmd/organ: round %d: %v", round, err)
		}
		slots, err := client.BaseCiphertext(baseValues.Share.Scaled, m, baseParams.P, baseParams.Q, cfg.ClientSize)
		if err != nil {
			log.Fatalf("cmd/organ: round %d: base ciphertext: %v", round, err)
		}
		cb := &wire.ClientBaseMessage{Round: round, NID: nid, SlotMessages: slots}
		if cfg.DoBlame {
			cb.Blame = baseValues.Share.Scaled
			cb.BlameBlinding = baseValues.Blinding.Scaled
			cb.E = make([][]byte, len(baseValues.Commitments))
			for i, p := range baseValues.Commitments {
				cb.E[i] = baseParams.Curve.Marshal(p)
			}
		}
		log.Printf("cmd/organ: sending ClientBaseMessage...")
		if err := sendMessage(conn, &wire.Message{Tag: wire.TagClientBase, ClientBase: cb}); err != nil {
			log.Fatalf("cmd/organ: round %d: sending base message: %v", round, err)
		}

		reply, err := recvMessage(conn)
		if err != nil {
			log.Fatalf("cmd/organ: round %d: reading server base reply: %v", round, err)
		}
		if reply.Tag != wire.TagServerBase {
			log.Fatalf("cmd/organ: round %d: unexpected reply tag %d, want ServerBase", round, reply.Tag)
		}
		posid := client.FindOwnIdentifier(reply.ServerBase.Perm, m)
		var bulkSlots []*big.Int
		if posid < 0 {
			// Round lost, but the mask must still be contributed or the
			// relay's bulk gate starves the other clients.
			log.Printf("cmd/organ: round %d: identifier not recovered, sending mask-only bulk message", round)
			bulkSlots, err = client.MaskOnlyBulkCiphertext(bulkValues.Share.Scaled, cfg.SlotPerRound, cfg.ClientSize, bulkParams.Q)
		} else {
			bulkSlots, err = client.BulkCiphertext(bulkValues.Share.Scaled, nid, posid, cfg.SlotPerRound, cfg.ClientSize, bulkParams.P, bulkParams.Q)
		}
		if err != nil {
			log.Fatalf("cmd/organ: round %d: bulk ciphertext: %v", round, err)
		}
		cbk := &wire.ClientBulkMessage{Round: round, NID: nid, SlotMessages: bulkSlots}
		log.Printf("cmd/organ: sending ClientBulkMessage...")
		if err := sendMessage(conn, &wire.Message{Tag: wire.TagClientBulk, ClientBulk: cbk}); err != nil {
			log.Fatalf("cmd/organ: round %d: sending bulk message: %v", round, err)
		}
		if _, err := recvMessage(conn); err != nil {
			log.Fatalf("cmd/organ: round %d: reading server bulk reply: %v", round, err)
		}
		log.Printf("cmd/organ: round %d complete, posid=%d", round, posid)
	}
}

func runServer(args []string) {
	log.Printf("cmd/organ: reading from %s...", args[3])
	cfg, err := config.Load(args[3])
	if err != nil {
		log.Fatalf("cmd/organ: %v", err)
	}
	baseParams, err := cfg.BaseParams.Build()
	if err != nil {
		log.Fatalf("cmd/organ: base_params: %v", err)
	}
	bulkParams, err := cfg.BulkParams.Build()
	if err != nil {
		log.Fatalf("cmd/organ: bulk_params: %v", err)
	}

	log.Printf("cmd/organ: reading from %s...", args[4])
	baseData, err := os.ReadFile(args[4])
	if err != nil {
		log.Fatalf("cmd/organ: reading %s: %v", args[4], err)
	}
	baseRelay, err := wire.UnmarshalSetupRelay(baseData, baseParams.Curve)
	if err != nil {
		log.Fatalf("cmd/organ: decoding base relay setup: %v", err)
	}

	log.Printf("cmd/organ: reading from %s...", args[5])
	bulkData, err := os.ReadFile(args[5])
	if err != nil {
		log.Fatalf("cmd/organ: reading %s: %v", args[5], err)
	}
	bulkRelay, err := wire.UnmarshalSetupRelay(bulkData, bulkParams.Curve)
	if err != nil {
		log.Fatalf("cmd/organ: decoding bulk relay setup: %v", err)
	}

	// Environment variables are optional: persistence degrades to a
	// warning, never a fatal error, and the dashboard address falls back
	// to a default via getEnvOrDefault.
	dash := dashboard.New()
	var st *store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		s, err := store.Connect(ctx, dsn)
		cancel()
		if err != nil {
			log.Printf("cmd/organ: warning: failed to connect to Postgres, continuing without persisting round/blame audit data: %v", err)
		} else {
			defer s.Close()
			if err := s.InitSchema(context.Background()); err != nil {
				log.Printf("cmd/organ: warning: schema init failed: %v", err)
			}
			st = s
			seedDashboard(dash, st)
		}
	} else {
		log.Println("cmd/organ: DATABASE_URL not set, running without round/blame persistence")
	}

	relay := &reactor.Relay{
		Cfg:        cfg,
		BaseParams: baseParams,
		BulkParams: bulkParams,
		BaseRelay:  baseRelay,
		BulkRelay:  bulkRelay,
		ConnectionCount: func(n int) {
			dash.SetConnectedClients(n)
		},
		RoundDone: func(round uint64, perm []*big.Int) {
			dash.RecordBaseRound(round)
			if st != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := st.SaveRoundCompletion(ctx, "base", round, cfg.ClientSize, len(perm)); err != nil {
					log.Printf("cmd/organ: persisting base round %d: %v", round, err)
				}
				cancel()
			}
		},
		BulkRoundDone: func(round uint64) {
			dash.RecordBulkRound(round)
			if st != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := st.SaveRoundCompletion(ctx, "bulk", round, cfg.ClientSize, cfg.ClientSize); err != nil {
					log.Printf("cmd/organ: persisting bulk round %d: %v", round, err)
				}
				cancel()
			}
		},
		BlameFailure: func(round, nid uint64) {
			dash.RecordBlameFailure(round, nid)
			if st != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := st.SaveBlameFailure(ctx, round, nid); err != nil {
					log.Printf("cmd/organ: persisting blame failure: %v", err)
				}
				cancel()
			}
		},
	}

	dashAddr := getEnvOrDefault("DASHBOARD_ADDR", ":8080")
	go func() {
		log.Printf("cmd/organ: dashboard listening on %s", dashAddr)
		if err := dash.Router().Run(dashAddr); err != nil {
			log.Printf("cmd/organ: dashboard server error: %v", err)
		}
	}()

	log.Printf("cmd/organ: relay listening on %s", cfg.ServerAddr)
	if err := relay.Run(context.Background()); err != nil {
		log.Fatalf("cmd/organ: relay exited with error: %v", err)
	}
}

// seedDashboard primes the dashboard's in-memory snapshot from the audit
// log, so an operator reattaching to /status after a relay restart sees
// the prior run's round numbers and blame history instead of zeros.
func seedDashboard(dash *dashboard.Server, st *store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	baseRound, err := st.LatestRound(ctx, "base")
	if err != nil {
		log.Printf("cmd/organ: warning: loading latest base round: %v", err)
	}
	bulkRound, err := st.LatestRound(ctx, "bulk")
	if err != nil {
		log.Printf("cmd/organ: warning: loading latest bulk round: %v", err)
	}
	failures, err := st.RecentBlameFailures(ctx, 50)
	if err != nil {
		log.Printf("cmd/organ: warning: loading recent blame failures: %v", err)
	}
	blames := make([]dashboard.Blame, len(failures))
	for i, f := range failures {
		blames[i] = dashboard.Blame{Round: f.Round, NID: f.NID}
	}
	dash.Seed(baseRound, bulkRound, blames)
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
