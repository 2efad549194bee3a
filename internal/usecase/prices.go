package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
)

// ErrInvalidPrices marks a rejected query or batch.
var ErrInvalidPrices = errors.New("invalid prices request")

// PricesUseCase serves stored price history and direct batch loads.
type PricesUseCase struct {
	store domrepo.PriceStore
}

func NewPricesUseCase(store domrepo.PriceStore) *PricesUseCase {
	return &PricesUseCase{store: store}
}

type GetPricesParams struct {
	Zone  string
	From  time.Time
	To    time.Time
	Limit int
}

type GetPricesResult struct {
	Zone   string                    `json:"zone"`
	From   time.Time                 `json:"from"`
	To     time.Time                 `json:"to"`
	Count  int                       `json:"count"`
	Prices []models.PriceObservation `json:"prices"`
}

func (uc *PricesUseCase) GetPrices(ctx context.Context, p GetPricesParams) (*GetPricesResult, error) {
	if p.Zone == "" {
		return nil, fmt.Errorf("%w: zone required", ErrInvalidPrices)
	}
	if p.From.After(p.To) {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidPrices)
	}
	if p.Limit <= 0 {
		p.Limit = 2000
	}
	if p.Limit > 20000 {
		p.Limit = 20000
	}

	prices, err := uc.store.GetPrices(ctx, p.Zone, p.From.UTC(), p.To.UTC())
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	if len(prices) > p.Limit {
		prices = prices[len(prices)-p.Limit:]
	}

	return &GetPricesResult{
		Zone:   p.Zone,
		From:   p.From,
		To:     p.To,
		Count:  len(prices),
		Prices: prices,
	}, nil
}

// StorePrices writes a batch straight to the store after the same checks
// the Kafka path applies.
func (uc *PricesUseCase) StorePrices(ctx context.Context, prices []models.PriceObservation) error {
	if len(prices) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidPrices)
	}
	for i := range prices {
		if prices[i].Zone == "" {
			return fmt.Errorf("%w: price %d: zone required", ErrInvalidPrices, i)
		}
		ts := prices[i].Timestamp.UTC()
		if ts.IsZero() || !ts.Equal(ts.Truncate(models.HourStep)) {
			return fmt.Errorf("%w: price %d: timestamp must be on the hour", ErrInvalidPrices, i)
		}
		prices[i].Timestamp = ts
	}
	return uc.store.StorePrices(ctx, prices)
}
