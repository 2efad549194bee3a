package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
)

func TestMemoryStore_PricesRangeAndReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var prices []models.PriceObservation
	for i := 5; i >= 0; i-- {
		prices = append(prices, models.PriceObservation{Zone: "NO1", Timestamp: start.Add(time.Duration(i) * time.Hour), Price: float64(10 + i)})
	}
	require.NoError(t, m.StorePrices(ctx, prices))
	require.NoError(t, m.StorePrices(ctx, []models.PriceObservation{{Zone: "NO1", Timestamp: start.Add(2 * time.Hour), Price: 99}}))

	got, err := m.GetPrices(ctx, "NO1", start.Add(time.Hour), start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, start.Add(time.Hour), got[0].Timestamp)
	assert.Equal(t, 99.0, got[1].Price)

	empty, err := m.GetPrices(ctx, "SE1", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryStore_Forecasts(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := m.GetLatestForecast(ctx, "NO1")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	for d := 0; d < 3; d++ {
		require.NoError(t, m.SaveForecast(ctx, models.ForecastRecord{Zone: "NO1", Origin: day.AddDate(0, 0, d), Confidence: 0.9}))
	}
	latest, err := m.GetLatestForecast(ctx, "NO1")
	require.NoError(t, err)
	assert.Equal(t, day.AddDate(0, 0, 2), latest.Origin)

	list, err := m.ListForecasts(ctx, "NO1", day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Origin.Before(list[1].Origin))

	_, err = m.GetForecast(ctx, "NO1", day.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestMemoryStore_LatestParameters(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveParameters(ctx, models.GARCHParameters{Zone: "NO1", EstimationDate: day.AddDate(0, 0, 1), Alpha: 0.2}))
	require.NoError(t, m.SaveParameters(ctx, models.GARCHParameters{Zone: "NO1", EstimationDate: day, Alpha: 0.1}))

	p, err := m.GetLatestParameters(ctx, "NO1")
	require.NoError(t, err)
	assert.Equal(t, 0.2, p.Alpha)
	assert.Equal(t, 2, m.ParameterCount("NO1"))
}
