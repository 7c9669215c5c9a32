package organerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedSentinelsAreDetectable(t *testing.T) {
	sentinels := []error{ErrConfiguration, ErrFraming, ErrRoundSemantics, ErrSetupConsistency}
	for _, want := range sentinels {
		wrapped := fmt.Errorf("some call site: %w", want)
		if !errors.Is(wrapped, want) {
			t.Fatalf("errors.Is failed to find %v through wrapping", want)
		}
	}
}

func TestSentinelsAreDistinct(t *testing.T) {
	if errors.Is(ErrConfiguration, ErrFraming) {
		t.Fatal("distinct sentinels must not match each other")
	}
}
