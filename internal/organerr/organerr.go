// Package organerr defines a small sentinel error taxonomy that failure
// categories across the relay wrap around, so callers can errors.Is
// against a category instead of string-matching log output. It
// generalizes the codebase's usual fmt.Errorf("...: %w", err) wrapping
// style to named sentinels.
package organerr

import "errors"

var (
	// ErrConfiguration marks a malformed or inconsistent configuration
	// document, caught before any networking starts.
	ErrConfiguration = errors.New("organ: configuration error")

	// ErrFraming marks a malformed wire message, frame, or setup file.
	ErrFraming = errors.New("organ: framing error")

	// ErrRoundSemantics marks a round that could not be completed per
	// protocol, e.g. the solver recovering fewer roots than clients
	// submitted, or a client's own identifier missing from a recovered
	// permutation.
	ErrRoundSemantics = errors.New("organ: round semantics error")

	// ErrSetupConsistency marks a failed QW/blame internal consistency
	// check during setup generation or verification.
	ErrSetupConsistency = errors.New("organ: setup consistency error")
)
