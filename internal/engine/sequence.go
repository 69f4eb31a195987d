package engine

import (
	"fmt"

	"github.com/Priya8975/token-settlement-orchestrator/internal/domain"
)

// ValidateSequence checks that kinds, in log order, is a prefix of the buy
// path or the sell path. Logs seeded directly at the first pipeline state,
// without the intake kind, are accepted as well.
func ValidateSequence(kinds []domain.Kind) error {
	if len(kinds) == 0 {
		return nil
	}
	for _, path := range [][]domain.Kind{
		domain.BuyPath, domain.SellPath,
		domain.BuyPath[1:], domain.SellPath[1:],
	} {
		if isPrefix(kinds, path) {
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrOutOfOrder, kinds)
}

// NextKind returns the kind that follows kinds on its path, or false when
// the workflow is complete or invalid.
func NextKind(kinds []domain.Kind) (domain.Kind, bool) {
	if len(kinds) == 0 || ValidateSequence(kinds) != nil {
		return "", false
	}
	path := pathOf(kinds[0])
	for i, k := range path {
		if k == kinds[len(kinds)-1] && i+1 < len(path) {
			return path[i+1], true
		}
	}
	return "", false
}

func pathOf(first domain.Kind) []domain.Kind {
	for _, k := range domain.BuyPath {
		if k == first {
			return domain.BuyPath
		}
	}
	return domain.SellPath
}

func isPrefix(kinds, path []domain.Kind) bool {
	if len(kinds) > len(path) {
		return false
	}
	for i, k := range kinds {
		if path[i] != k {
			return false
		}
	}
	return true
}
