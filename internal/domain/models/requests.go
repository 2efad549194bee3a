package models

// Requests for the HTTP API. Validated with go-playground tags, defaulted
// with creasty/defaults.

type LatestForecastRequest struct {
	Zone string `query:"zone" json:"zone" validate:"required,zone"`
}

type RunForecastRequest struct {
	Zone  string `json:"zone" validate:"required,zone"`
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Force bool   `json:"force"`
}

type BacktestRequest struct {
	Zone     string `query:"zone" json:"zone" validate:"required,zone"`
	TestDays int    `query:"test_days" json:"test_days" default:"30" validate:"gte=2,lte=365"`
}

type PricesRequest struct {
	Zone  string `query:"zone" json:"zone" validate:"required,zone"`
	From  string `query:"from" json:"from" validate:"required"`
	To    string `query:"to" json:"to" validate:"required"`
	Limit int    `query:"limit" json:"limit" default:"2000" validate:"gte=1,lte=20000"`
}

type RunAllRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Force bool   `json:"force"`
}

type StorePricesRequest struct {
	Prices []PriceObservation `json:"prices" validate:"required,min=1,max=10000"`
}

type JobStatusRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}
