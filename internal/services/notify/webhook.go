package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"GridVol/internal/domain/models"
	domsvc "GridVol/internal/domain/service"
	pkghttp "GridVol/pkg/http"
	"GridVol/pkg/logger"
)

// ErrCircuitOpen is returned while the dashboard is considered down.
var ErrCircuitOpen = errors.New("dashboard circuit open")

type Config struct {
	URL   string
	Token string
	// FailureThreshold consecutive failures open the circuit for OpenTimeout.
	FailureThreshold uint32
	OpenTimeout      time.Duration
	Timeout          time.Duration
}

type event struct {
	Type       string      `json:"type"`
	Zone       string      `json:"zone"`
	DailySigma float64     `json:"daily_sigma,omitempty"`
	Degraded   bool        `json:"degraded,omitempty"`
	Payload    interface{} `json:"payload"`
	SentAt     time.Time   `json:"sent_at"`
}

// Webhook posts finished forecasts and backtest reports to the dashboard.
type Webhook struct {
	cfg    Config
	client *pkghttp.Client
	cb     *gobreaker.CircuitBreaker
	log    *logger.Logger
	now    func() time.Time
}

func NewWebhook(cfg Config, log *logger.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: url required")
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}

	w := &Webhook{
		cfg:    cfg,
		client: pkghttp.NewClient(pkghttp.WithTimeout(cfg.Timeout), pkghttp.WithUserAgent("gridvol-notify")),
		log:    log,
		now:    time.Now,
	}
	threshold := cfg.FailureThreshold
	w.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "dashboard",
		Interval: 5 * time.Minute,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()))
		},
	})
	return w, nil
}

func (w *Webhook) NotifyForecast(ctx context.Context, rec models.ForecastRecord) error {
	return w.send(ctx, event{
		Type:       "forecast",
		Zone:       rec.Zone,
		DailySigma: rec.DailySigma(),
		Degraded:   rec.Degraded,
		Payload:    rec,
	})
}

func (w *Webhook) NotifyBacktest(ctx context.Context, rep models.BacktestReport) error {
	return w.send(ctx, event{Type: "backtest", Zone: rep.Zone, Payload: rep})
}

// State exposes the breaker state for health reporting.
func (w *Webhook) State() string { return w.cb.State().String() }

func (w *Webhook) send(ctx context.Context, ev event) error {
	ev.SentAt = w.now().UTC()
	headers := map[string]string{"Content-Type": "application/json"}
	if w.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + w.cfg.Token
	}

	_, err := w.cb.Execute(func() (interface{}, error) {
		resp, err := w.client.SendRequest(ctx, &pkghttp.RequestOptions{
			Method:  pkghttp.MethodPost,
			URL:     w.cfg.URL,
			Headers: headers,
			Body:    ev,
		})
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("dashboard returned %d", resp.StatusCode)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err != nil {
		return fmt.Errorf("notify %s %s: %w", ev.Type, ev.Zone, err)
	}
	w.log.Debug("dashboard notified", logger.String("type", ev.Type), logger.String("zone", ev.Zone))
	return nil
}

var _ domsvc.Notifier = (*Webhook)(nil)
