package settings

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

// Provider returns the current AvailabilityConfig.
type Provider interface {
	Get(ctx context.Context) (model.AvailabilityConfig, error)
	Save(ctx context.Context, cfg model.AvailabilityConfig) error
}

type ConfigStore interface {
	GetAvailabilityConfig(ctx context.Context) (model.AvailabilityConfig, bool, error)
	SaveAvailabilityConfig(ctx context.Context, cfg model.AvailabilityConfig) error
}

// StoreProvider reads the admin-saved configuration, falling back to defaults until one is saved.
type StoreProvider struct {
	store    ConfigStore
	defaults model.AvailabilityConfig
}

func NewStoreProvider(store ConfigStore, defaults model.AvailabilityConfig) *StoreProvider {
	return &StoreProvider{store: store, defaults: defaults}
}

func (p *StoreProvider) Get(ctx context.Context) (model.AvailabilityConfig, error) {
	cfg, found, err := p.store.GetAvailabilityConfig(ctx)
	if err != nil {
		return model.AvailabilityConfig{}, fmt.Errorf("load availability settings: %w", err)
	}
	if !found {
		return p.defaults, nil
	}
	return cfg, nil
}

func (p *StoreProvider) Save(ctx context.Context, cfg model.AvailabilityConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return p.store.SaveAvailabilityConfig(ctx, cfg)
}
