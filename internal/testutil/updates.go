package testutil

import (
	"fmt"

	"github.com/meigma/packstore/internal/pack"
)

// MockUpdates returns upserts for keys start..end-1. Keys and values are
// zero-padded so each is exactly length bytes. value is embedded in every
// value to tell batches apart.
func MockUpdates(start, end, length int, value string) pack.ScopeUpdate {
	updates := make(pack.ScopeUpdate, end-start)
	for i := start; i < end; i++ {
		updates[MockKey(i, length)] = pack.Update{
			Value: []byte(fmt.Sprintf("%0*d_%s", length-len(value)-1, i, value)),
		}
	}
	return updates
}

// MockRemovals returns removals for keys start..end-1 in the MockUpdates
// key format.
func MockRemovals(start, end, length int) pack.ScopeUpdate {
	updates := make(pack.ScopeUpdate, end-start)
	for i := start; i < end; i++ {
		updates[MockKey(i, length)] = pack.Update{Removed: true}
	}
	return updates
}

// MockKey returns the key MockUpdates generates for i.
func MockKey(i, length int) string {
	return fmt.Sprintf("%0*d_key", length-4, i)
}
