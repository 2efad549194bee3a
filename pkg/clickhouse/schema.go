package clickhouse

// Schema returns the GridVol DDL. Tables use ReplacingMergeTree so a
// re-ingested hour or a forced re-forecast replaces rather than duplicates;
// readers add FINAL where the latest version matters.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS prices_hourly (
			zone LowCardinality(String),
			ts DateTime('UTC'),
			price Float64,
			ingested_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(ingested_at)
		PARTITION BY toYYYYMM(ts)
		ORDER BY (zone, ts)`,

		`CREATE TABLE IF NOT EXISTS garch_params (
			zone LowCardinality(String),
			estimation_date DateTime('UTC'),
			window_end DateTime('UTC'),
			omega Float64,
			alpha Float64,
			beta Float64,
			log_likelihood Float64,
			converged UInt8,
			sample_size UInt32,
			last_residual Float64,
			last_variance Float64,
			method LowCardinality(String),
			status LowCardinality(String),
			iterations UInt32,
			gradient_norm Float64
		) ENGINE = ReplacingMergeTree
		ORDER BY (zone, estimation_date)`,

		`CREATE TABLE IF NOT EXISTS vol_forecasts (
			zone LowCardinality(String),
			origin DateTime('UTC'),
			omega Float64,
			alpha Float64,
			beta Float64,
			estimation_date DateTime('UTC'),
			confidence Float64,
			degraded UInt8,
			horizon String,
			created_at DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree(created_at)
		ORDER BY (zone, origin)`,

		`CREATE TABLE IF NOT EXISTS backtest_reports (
			zone LowCardinality(String),
			window_start DateTime('UTC'),
			window_end DateTime('UTC'),
			rmse Float64,
			mae Float64,
			mape Float64,
			direction_accuracy Float64,
			mz_r2 Float64,
			coverage Float64,
			report String,
			created_at DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (zone, created_at)`,
	}
}
