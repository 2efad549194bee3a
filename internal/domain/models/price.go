package models

import "time"

// HourStep is the grid spacing of every price series handled by the core.
const HourStep = time.Hour

// PriceObservation is one hourly price for a bidding zone.
type PriceObservation struct {
	Zone      string    `json:"zone" ch:"zone"`
	Timestamp time.Time `json:"timestamp" ch:"ts"`
	Price     float64   `json:"price" ch:"price"`
}

// ReturnSeries holds demeaned hourly log-returns. Timestamps[i] is the end
// of the hour the i-th return covers.
type ReturnSeries struct {
	Zone       string
	Timestamps []time.Time
	Returns    []float64
	Residuals  []float64
	Mean       float64
}

func (s *ReturnSeries) Len() int { return len(s.Residuals) }

// Start returns the timestamp of the first return, zero for an empty series.
func (s *ReturnSeries) Start() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[0]
}

// End returns the timestamp of the last return, zero for an empty series.
func (s *ReturnSeries) End() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// Variance is the mean squared residual.
func (s *ReturnSeries) Variance() float64 {
	if len(s.Residuals) == 0 {
		return 0
	}
	var sum float64
	for _, e := range s.Residuals {
		sum += e * e
	}
	return sum / float64(len(s.Residuals))
}
