package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"GridVol/internal/domain/models"
	applogger "GridVol/pkg/logger"
)

// ZoneResult is one zone's outcome in a fleet run.
type ZoneResult struct {
	Zone        string                     `json:"zone"`
	Forecast    *models.VolatilityForecast `json:"forecast,omitempty"`
	Diagnostics *models.RunDiagnostics     `json:"diagnostics,omitempty"`
	Err         error                      `json:"-"`
	Error       string                     `json:"error,omitempty"`
}

// ZoneFleet fans independent per-zone pipelines out over a bounded number of
// workers. A failing zone never stops the others.
type ZoneFleet struct {
	pipelines map[string]*ForecastPipeline
	workers   int
	log       *applogger.Logger
}

func NewZoneFleet(pipelines []*ForecastPipeline, workers int, log *applogger.Logger) (*ZoneFleet, error) {
	if workers <= 0 {
		workers = 4
	}
	if log == nil {
		log = applogger.Nop()
	}
	f := &ZoneFleet{pipelines: make(map[string]*ForecastPipeline, len(pipelines)), workers: workers, log: log}
	for _, p := range pipelines {
		if _, dup := f.pipelines[p.Zone()]; dup {
			return nil, fmt.Errorf("duplicate pipeline for zone %s", p.Zone())
		}
		f.pipelines[p.Zone()] = p
	}
	return f, nil
}

// Zones returns the configured zones in sorted order.
func (f *ZoneFleet) Zones() []string {
	zones := make([]string, 0, len(f.pipelines))
	for z := range f.pipelines {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

// Pipeline looks up the pipeline of one zone.
func (f *ZoneFleet) Pipeline(zone string) (*ForecastPipeline, bool) {
	p, ok := f.pipelines[zone]
	return p, ok
}

// RunAll runs every zone's daily forecast for date and returns one result per
// zone, sorted by zone. The error is non-nil only when the context ended.
func (f *ZoneFleet) RunAll(ctx context.Context, date time.Time, opts RunOptions) ([]ZoneResult, error) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	var mu sync.Mutex
	results := make([]ZoneResult, 0, len(f.pipelines))

	for _, zone := range f.Zones() {
		p := f.pipelines[zone]
		g.Go(func() error {
			fc, diag, err := p.RunDailyForecast(gctx, date, opts)
			res := ZoneResult{Zone: p.Zone(), Forecast: fc, Diagnostics: diag, Err: err}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Zone < results[j].Zone })

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	f.log.Info("fleet run done",
		applogger.Time("date", date),
		applogger.Int("zones", len(results)),
		applogger.Int("failed", failed),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return results, ctx.Err()
}
