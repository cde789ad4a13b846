package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/rNLKJA/moodist-server/internal/repository"
)

// idAlphabet excludes 0, 1, O, and I to keep identifiers unambiguous when
// read aloud or written down.
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// IDLength is the length of a short public identifier.
const IDLength = 6

// maxAttempts bounds the number of candidate identifiers tried per
// allocation before giving up.
const maxAttempts = 50

// ErrExhausted is returned when no unused identifier was found within the
// attempt budget.
var ErrExhausted = errors.New("identifier space exhausted after max attempts")

// Allocator hands out short public identifiers that are unique across every
// role partition, checking both document ids and unique_id fields.
type Allocator struct {
	stores repository.AccountStores
}

// NewAllocator creates an allocator over the given partition map.
func NewAllocator(stores repository.AccountStores) *Allocator {
	return &Allocator{stores: stores}
}

// Allocate returns a fresh identifier not in use by any account in any
// partition. It retries up to maxAttempts times before returning
// ErrExhausted.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := generateID()
		if err != nil {
			return "", err
		}

		inUse, err := a.inAnyPartition(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			return candidate, nil
		}
	}
	return "", ErrExhausted
}

func (a *Allocator) inAnyPartition(ctx context.Context, candidate string) (bool, error) {
	for role, store := range a.stores {
		inUse, err := store.IDInUse(ctx, candidate)
		if err != nil {
			return false, fmt.Errorf("check %s partition: %w", role, err)
		}
		if inUse {
			return true, nil
		}
	}
	return false, nil
}

// generateID draws IDLength characters uniformly from idAlphabet using
// crypto/rand.
func generateID() (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))
	id := make([]byte, IDLength)
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate identifier: %w", err)
		}
		id[i] = idAlphabet[n.Int64()]
	}
	return string(id), nil
}
