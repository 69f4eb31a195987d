package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Tag is the 32-byte value that ties an on-chain transaction to a workflow.
type Tag [32]byte

// CorrelationTag derives the tag for a correlation ID: hyphens removed, cut
// to 64 hex characters, right-padded with zeros and decoded.
func CorrelationTag(correlationID string) (Tag, error) {
	var tag Tag

	h := strings.ReplaceAll(correlationID, "-", "")
	if len(h) > 64 {
		h = h[:64]
	}
	h += strings.Repeat("0", 64-len(h))

	if _, err := hex.Decode(tag[:], []byte(h)); err != nil {
		return tag, fmt.Errorf("correlation id %q is not hex: %w", correlationID, err)
	}
	return tag, nil
}

// Hex renders the tag with a 0x prefix.
func (t Tag) Hex() string {
	return "0x" + hex.EncodeToString(t[:])
}
