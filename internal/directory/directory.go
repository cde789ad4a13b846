package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rNLKJA/moodist-server/internal/domain"
	"github.com/rNLKJA/moodist-server/internal/repository"
)

// ErrNotFound is returned when no partition holds a matching account.
var ErrNotFound = errors.New("account not found in any partition")

// Directory resolves accounts across all role partitions. Partitions are
// scanned in a fixed order so lookups are deterministic when the same
// address somehow exists in more than one partition.
type Directory struct {
	stores repository.AccountStores
}

// New creates a directory over the given partition map.
func New(stores repository.AccountStores) *Directory {
	return &Directory{stores: stores}
}

// FindByEmail returns the account with the given e-mail address and the role
// partition it was found in.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*domain.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, role := range domain.ValidRoles() {
		store := d.stores.ForRole(role)
		if store == nil {
			continue
		}
		account, err := store.GetByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, "", fmt.Errorf("scan %s partition: %w", role, err)
		}
		return account, role, nil
	}
	return nil, "", ErrNotFound
}

// FindByUniqueID returns the account with the given short public identifier
// and the role partition it was found in.
func (d *Directory) FindByUniqueID(ctx context.Context, uniqueID string) (*domain.Account, string, error) {
	uniqueID = strings.ToUpper(strings.TrimSpace(uniqueID))
	for _, role := range domain.ValidRoles() {
		store := d.stores.ForRole(role)
		if store == nil {
			continue
		}
		account, err := store.GetByUniqueID(ctx, uniqueID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, "", fmt.Errorf("scan %s partition: %w", role, err)
		}
		return account, role, nil
	}
	return nil, "", ErrNotFound
}

// EmailInUse reports whether any partition holds an account with the given
// e-mail address.
func (d *Directory) EmailInUse(ctx context.Context, email string) (bool, error) {
	_, _, err := d.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
