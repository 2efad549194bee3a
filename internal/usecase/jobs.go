package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"GridVol/pkg/queue"
)

const (
	JobTypeBacktest = "backtest.run"
	JobTypeFleetRun = "forecast.run_all"
)

type BacktestPayload struct {
	Zone     string `json:"zone"`
	TestDays int    `json:"test_days"`
}

type FleetRunPayload struct {
	Date  string `json:"date,omitempty"`
	Force bool   `json:"force"`
}

// BacktestJob runs a historical backtest for one zone off the request path.
type BacktestJob struct {
	fleet *ZoneFleet
	now   func() time.Time
}

func NewBacktestJob(fleet *ZoneFleet) *BacktestJob {
	return &BacktestJob{fleet: fleet, now: time.Now}
}

func (j *BacktestJob) Name() string { return "historical backtest" }

func (j *BacktestJob) Type() string { return JobTypeBacktest }

func (j *BacktestJob) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	p, err := queue.ParsePayload[BacktestPayload](payload)
	if err != nil {
		return nil, err
	}
	pipe, ok := j.fleet.Pipeline(p.Zone)
	if !ok {
		return nil, fmt.Errorf("unknown zone %q", p.Zone)
	}
	if p.TestDays == 0 {
		p.TestDays = pipe.Config().BacktestDays
	}
	res, _, err := pipe.BacktestHistorical(ctx, p.TestDays)
	if err != nil {
		return nil, err
	}
	return res.Report(j.now()), nil
}

// FleetRunJob runs the daily forecast for every configured zone.
type FleetRunJob struct {
	fleet *ZoneFleet
	now   func() time.Time
}

func NewFleetRunJob(fleet *ZoneFleet) *FleetRunJob {
	return &FleetRunJob{fleet: fleet, now: time.Now}
}

func (j *FleetRunJob) Name() string { return "zone fleet run" }

func (j *FleetRunJob) Type() string { return JobTypeFleetRun }

func (j *FleetRunJob) Handle(ctx context.Context, payload json.RawMessage) (interface{}, error) {
	p, err := queue.ParsePayload[FleetRunPayload](payload)
	if err != nil {
		return nil, err
	}
	date := j.now().UTC()
	if p.Date != "" {
		date, err = time.Parse(time.DateOnly, p.Date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: %w", p.Date, err)
		}
	}
	return j.fleet.RunAll(ctx, date, RunOptions{Force: p.Force})
}

var (
	_ queue.Job = (*BacktestJob)(nil)
	_ queue.Job = (*FleetRunJob)(nil)
)
