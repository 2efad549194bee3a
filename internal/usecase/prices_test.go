package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
	"GridVol/internal/repository"
)

func TestPricesUseCase(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	uc := NewPricesUseCase(store)
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	batch := make([]models.PriceObservation, 10)
	for i := range batch {
		batch[i] = models.PriceObservation{Zone: "DK1", Timestamp: start.Add(time.Duration(i) * time.Hour), Price: float64(50 + i)}
	}
	require.NoError(t, uc.StorePrices(ctx, batch))

	res, err := uc.GetPrices(ctx, GetPricesParams{Zone: "DK1", From: start, To: start.Add(9 * time.Hour), Limit: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
	assert.Equal(t, 56.0, res.Prices[0].Price, "limit keeps the most recent hours")
	assert.Equal(t, 59.0, res.Prices[3].Price)

	_, err = uc.GetPrices(ctx, GetPricesParams{Zone: "DK1", From: start.Add(time.Hour), To: start})
	assert.ErrorIs(t, err, ErrInvalidPrices)
	_, err = uc.GetPrices(ctx, GetPricesParams{From: start, To: start})
	assert.Error(t, err)

	err = uc.StorePrices(ctx, []models.PriceObservation{{Zone: "DK1", Timestamp: start.Add(time.Minute), Price: 1}})
	assert.ErrorIs(t, err, ErrInvalidPrices)
	assert.Error(t, uc.StorePrices(ctx, nil))
}
