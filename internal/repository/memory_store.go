package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
)

// MemoryStore keeps prices, forecasts, parameters and reports in process.
// The simulate command and the tests run the whole pipeline against it.
type MemoryStore struct {
	mu        sync.RWMutex
	prices    map[string]map[int64]models.PriceObservation
	forecasts map[string]map[int64]models.ForecastRecord
	params    map[string][]models.GARCHParameters
	reports   map[string][]models.BacktestReport
}

var (
	_ domrepo.PriceStore    = (*MemoryStore)(nil)
	_ domrepo.ForecastStore = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:    make(map[string]map[int64]models.PriceObservation),
		forecasts: make(map[string]map[int64]models.ForecastRecord),
		params:    make(map[string][]models.GARCHParameters),
		reports:   make(map[string][]models.BacktestReport),
	}
}

func (m *MemoryStore) GetPrices(_ context.Context, zone string, from, to time.Time) ([]models.PriceObservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.PriceObservation, 0)
	for _, p := range m.prices[zone] {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) StorePrices(_ context.Context, prices []models.PriceObservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range prices {
		byTS, ok := m.prices[p.Zone]
		if !ok {
			byTS = make(map[int64]models.PriceObservation)
			m.prices[p.Zone] = byTS
		}
		p.Timestamp = p.Timestamp.UTC()
		byTS[p.Timestamp.Unix()] = p
	}
	return nil
}

func (m *MemoryStore) Health(context.Context) error { return nil }

func (m *MemoryStore) SaveForecast(_ context.Context, rec models.ForecastRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byOrigin, ok := m.forecasts[rec.Zone]
	if !ok {
		byOrigin = make(map[int64]models.ForecastRecord)
		m.forecasts[rec.Zone] = byOrigin
	}
	byOrigin[rec.Origin.Unix()] = rec
	return nil
}

func (m *MemoryStore) GetForecast(_ context.Context, zone string, origin time.Time) (models.ForecastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.forecasts[zone][origin.Unix()]
	if !ok {
		return models.ForecastRecord{}, domrepo.ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) GetLatestForecast(_ context.Context, zone string) (models.ForecastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest models.ForecastRecord
		found  bool
	)
	for _, rec := range m.forecasts[zone] {
		if !found || rec.Origin.After(latest.Origin) {
			latest, found = rec, true
		}
	}
	if !found {
		return models.ForecastRecord{}, domrepo.ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) ListForecasts(_ context.Context, zone string, from, to time.Time) ([]models.ForecastRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.ForecastRecord
	for _, rec := range m.forecasts[zone] {
		if !rec.Origin.Before(from) && !rec.Origin.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin.Before(out[j].Origin) })
	return out, nil
}

func (m *MemoryStore) SaveParameters(_ context.Context, p models.GARCHParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params[p.Zone] = append(m.params[p.Zone], p)
	return nil
}

func (m *MemoryStore) GetLatestParameters(_ context.Context, zone string) (models.GARCHParameters, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		latest models.GARCHParameters
		found  bool
	)
	for _, p := range m.params[zone] {
		if !found || !p.EstimationDate.Before(latest.EstimationDate) {
			latest, found = p, true
		}
	}
	if !found {
		return models.GARCHParameters{}, domrepo.ErrNotFound
	}
	return latest, nil
}

func (m *MemoryStore) SaveBacktestReport(_ context.Context, rep models.BacktestReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rep.Zone] = append(m.reports[rep.Zone], rep)
	return nil
}

// BacktestReports returns the reports saved for zone, oldest first.
func (m *MemoryStore) BacktestReports(zone string) []models.BacktestReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.BacktestReport(nil), m.reports[zone]...)
}

// ParameterCount is the number of fits stored for zone.
func (m *MemoryStore) ParameterCount(zone string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.params[zone])
}
