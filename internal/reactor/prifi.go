package reactor

import (
	"context"
	"fmt"
	"log"

	"github.com/rawblock/organ-relay/internal/wire"
)

// runPrifiRounds drains ClientPrifiMessage submissions and acknowledges
// each with a unit TagOk reply, keeping the wire envelope complete and
// round-trippable. It does not reproduce the original XOR-DC-net timing
// comparison harness, which stays out of the cryptographic core; it only
// proves the message variants survive the wire.
func runPrifiRounds(ctx context.Context, in <-chan *wire.ClientPrifiMessage, h *hub) error {
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			log.Printf("reactor: received ClientPrifiMessage from nid=%d on round %d (timing harness, not acted on)", msg.NID, msg.Round)
			payload, err := wire.Marshal(&wire.Message{Tag: wire.TagOk})
			if err != nil {
				return fmt.Errorf("reactor: marshaling Ok: %w", err)
			}
			select {
			case h.broadcast <- payload:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
