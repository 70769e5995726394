package blocklist

import (
	"context"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/policy"
)

type Oracle interface {
	IsBlocked(ctx context.Context, id model.Identity) (bool, error)
}

type EntryFinder interface {
	FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error)
}

// StoreOracle answers from block entries persisted in the appointment store.
// The storage query narrows candidates; the final match is policy.IsBlocked.
type StoreOracle struct {
	finder EntryFinder
}

func NewStoreOracle(finder EntryFinder) *StoreOracle {
	return &StoreOracle{finder: finder}
}

func (o *StoreOracle) IsBlocked(ctx context.Context, id model.Identity) (bool, error) {
	if !id.HasKey() {
		return false, nil
	}
	entries, err := o.finder.FindBlockEntries(ctx, id)
	if err != nil {
		return false, err
	}
	_, blocked := policy.IsBlocked(id, entries)
	return blocked, nil
}
