// Package config loads and validates the relay/client JSON
// configuration document and derives each phase's runtime parameters
// from it.
package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/rawblock/organ-relay/internal/curve"
	"github.com/rawblock/organ-relay/internal/field"
	"github.com/rawblock/organ-relay/internal/organerr"
	"github.com/rawblock/organ-relay/internal/setup"
)

// ClientSetupFileName and RelaySetupFileName give the persisted setup
// file names: "bits_<bits>_nid_<i>" per client and "bits_<bits>_relay" for
// the relay, per phase.
func ClientSetupFileName(bits, nid int) string {
	return fmt.Sprintf("bits_%d_nid_%d", bits, nid)
}

func RelaySetupFileName(bits int) string {
	return fmt.Sprintf("bits_%d_relay", bits)
}

// RingV is the NTT-friendly field description for one phase.
type RingV struct {
	Order string `json:"order"`
	Root  string `json:"root"`
	Scale uint64 `json:"scale"`
}

// ProtocolParams is one phase's (base or bulk) field and group
// parameters.
type ProtocolParams struct {
	P         string `json:"p"`
	Q         string `json:"q"`
	RingV     RingV  `json:"ring_v"`
	VectorLen int    `json:"vector_len"`
	Bits      int    `json:"bits"`
	GroupNID  string `json:"group_nid"`
}

// Config is the top-level JSON configuration document.
type Config struct {
	ServerAddr   string         `json:"server_addr"`
	ClientSize   int            `json:"client_size"`
	BaseParams   ProtocolParams `json:"base_params"`
	BulkParams   ProtocolParams `json:"bulk_params"`
	Round        int            `json:"round"`
	SlotPerRound int            `json:"slot_per_round"`
	DoBlame      bool           `json:"do_blame,omitempty"`
	DoUnzip      bool           `json:"do_unzip,omitempty"`
	DoDelay      bool           `json:"do_delay,omitempty"`
	DoPing       bool           `json:"do_ping,omitempty"`
}

// Load parses and validates a Config from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &c, nil
}

// Validate checks cross-field invariants, catching malformed parameters
// before any networking starts.
func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("config: server_addr must not be empty: %w", organerr.ErrConfiguration)
	}
	if c.ClientSize <= 0 {
		return fmt.Errorf("config: client_size must be positive: %w", organerr.ErrConfiguration)
	}
	if c.Round <= 0 {
		return fmt.Errorf("config: round must be positive: %w", organerr.ErrConfiguration)
	}
	if c.SlotPerRound <= 0 {
		return fmt.Errorf("config: slot_per_round must be positive: %w", organerr.ErrConfiguration)
	}
	if _, err := c.BaseParams.Build(); err != nil {
		return fmt.Errorf("base_params: %w", err)
	}
	if _, err := c.BulkParams.Build(); err != nil {
		return fmt.Errorf("bulk_params: %w", err)
	}
	return nil
}

// Build parses and validates a ProtocolParams into the runtime setup
// parameters: an NTT-friendly ring, the named curve backend, and the
// vector-length/ord_V invariants.
func (pp *ProtocolParams) Build() (*setup.Params, error) {
	p, ok := new(big.Int).SetString(pp.P, 0)
	if !ok {
		return nil, fmt.Errorf("p: invalid integer %q: %w", pp.P, organerr.ErrConfiguration)
	}
	q, ok := new(big.Int).SetString(pp.Q, 0)
	if !ok {
		return nil, fmt.Errorf("q: invalid integer %q: %w", pp.Q, organerr.ErrConfiguration)
	}
	order, ok := new(big.Int).SetString(pp.RingV.Order, 0)
	if !ok {
		return nil, fmt.Errorf("ring_v.order: invalid integer %q: %w", pp.RingV.Order, organerr.ErrConfiguration)
	}
	root, ok := new(big.Int).SetString(pp.RingV.Root, 0)
	if !ok {
		return nil, fmt.Errorf("ring_v.root: invalid integer %q: %w", pp.RingV.Root, organerr.ErrConfiguration)
	}

	if pp.VectorLen <= 0 || pp.VectorLen&(pp.VectorLen-1) != 0 {
		return nil, fmt.Errorf("vector_len (%d) must be a power of two: %w", pp.VectorLen, organerr.ErrConfiguration)
	}
	if pp.RingV.Scale%uint64(pp.VectorLen) != 0 {
		return nil, fmt.Errorf("vector_len (%d) must divide scale (%d): %w", pp.VectorLen, pp.RingV.Scale, organerr.ErrConfiguration)
	}
	if !order.ProbablyPrime(32) {
		return nil, fmt.Errorf("ring_v.order must be prime: %w", organerr.ErrConfiguration)
	}
	mod := new(big.Int).Mod(order, big.NewInt(int64(pp.VectorLen)))
	if mod.Cmp(big.NewInt(1)) != 0 {
		return nil, fmt.Errorf("ring_v.order must be congruent to 1 mod vector_len: %w", organerr.ErrConfiguration)
	}
	if p.Cmp(order) >= 0 {
		return nil, fmt.Errorf("p must be smaller than ring_v.order: %w", organerr.ErrConfiguration)
	}
	if q.Cmp(order) >= 0 {
		return nil, fmt.Errorf("q must be smaller than ring_v.order: %w", organerr.ErrConfiguration)
	}

	c, err := curve.ByName(pp.GroupNID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, organerr.ErrConfiguration)
	}

	ring := &field.Ring{Order: order, Root: root, Scale: pp.RingV.Scale}
	if _, err := ring.RootOfUnity(pp.VectorLen); err != nil {
		return nil, fmt.Errorf("ring_v: %w: %w", err, organerr.ErrConfiguration)
	}

	return &setup.Params{
		P:         p,
		Q:         q,
		Ring:      ring,
		VectorLen: pp.VectorLen,
		Bits:      pp.Bits,
		Curve:     c,
	}, nil
}
