package blocklist

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

type finderFunc func(ctx context.Context, id model.Identity) ([]model.BlockEntry, error)

func (f finderFunc) FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error) {
	return f(ctx, id)
}

func TestStoreOracle(t *testing.T) {
	calls := 0
	o := NewStoreOracle(finderFunc(func(context.Context, model.Identity) ([]model.BlockEntry, error) {
		calls++
		return []model.BlockEntry{{Email: "bad@example.com"}}, nil
	}))

	blocked, err := o.IsBlocked(t.Context(), model.Identity{Email: "BAD@example.com"})
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = o.IsBlocked(t.Context(), model.Identity{Email: "good@example.com"})
	require.NoError(t, err)
	assert.False(t, blocked)

	blocked, err = o.IsBlocked(t.Context(), model.Identity{Name: "anon"})
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Equal(t, 2, calls, "keyless identity skips the lookup")
}

func TestStoreOracle_Error(t *testing.T) {
	boom := errors.New("db down")
	o := NewStoreOracle(finderFunc(func(context.Context, model.Identity) ([]model.BlockEntry, error) {
		return nil, boom
	}))
	_, err := o.IsBlocked(t.Context(), model.Identity{IPAddress: "1.2.3.4"})
	require.ErrorIs(t, err, boom)
}
