package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	pkgch "GridVol/pkg/clickhouse"
	applogger "GridVol/pkg/logger"
)

const insertChunkSize = 2000

// CHPriceStore implements PriceStore backed by ClickHouse.
type CHPriceStore struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ domrepo.PriceStore = (*CHPriceStore)(nil)

func NewCHPriceStore(ch *pkgch.Client) *CHPriceStore {
	return &CHPriceStore{db: ch.DB(), l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHPriceStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHPriceStore) GetPrices(ctx context.Context, zone string, from, to time.Time) ([]models.PriceObservation, error) {
	start := time.Now()
	const q = `
        SELECT zone, ts, price
        FROM prices_hourly FINAL
        WHERE zone = ? AND ts >= ? AND ts <= ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, q, zone, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse get_prices query error",
			applogger.String("zone", zone),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	out := make([]models.PriceObservation, 0, int(to.Sub(from)/time.Hour)+1)
	for rows.Next() {
		var p models.PriceObservation
		if err := rows.Scan(&p.Zone, &p.Timestamp, &p.Price); err != nil {
			s.l.Error("clickhouse get_prices scan error",
				applogger.String("zone", zone),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan price: %w", err)
		}
		p.Timestamp = p.Timestamp.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	s.l.Debug("clickhouse get_prices ok",
		applogger.String("zone", zone),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// StorePrices inserts in multi-row chunks. Re-inserting an hour replaces it
// at merge time.
func (s *CHPriceStore) StorePrices(ctx context.Context, prices []models.PriceObservation) error {
	for lo := 0; lo < len(prices); lo += insertChunkSize {
		hi := min(lo+insertChunkSize, len(prices))

		values := make([]string, 0, hi-lo)
		args := make([]interface{}, 0, (hi-lo)*3)
		for _, p := range prices[lo:hi] {
			if p.Zone == "" || p.Timestamp.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?)")
			args = append(args, p.Zone, p.Timestamp.UTC(), p.Price)
		}
		if len(values) == 0 {
			continue
		}
		q := "INSERT INTO prices_hourly (zone, ts, price) VALUES " + strings.Join(values, ",")
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_prices error",
				applogger.Int("rows", len(values)),
				applogger.Error(err),
			)
			return fmt.Errorf("store prices: %w", err)
		}
	}
	return nil
}

func (s *CHPriceStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
