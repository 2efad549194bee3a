package repository

import (
	"context"
	"time"

	"GridVol/internal/domain/models"
	domrepo "GridVol/internal/domain/repository"
	pkgkafka "GridVol/pkg/kafka"
)

type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}, headers ...pkgkafka.Header) error
}

// KafkaRecordPublisher publishes forecast records and backtest reports keyed
// by zone, so one zone's records stay ordered on a partition.
type KafkaRecordPublisher struct {
	producer      messagePublisher
	forecastTopic string
	backtestTopic string
}

var _ domrepo.RecordPublisher = (*KafkaRecordPublisher)(nil)

func NewKafkaRecordPublisher(producer *pkgkafka.Producer, forecastTopic, backtestTopic string) *KafkaRecordPublisher {
	return &KafkaRecordPublisher{producer: producer, forecastTopic: forecastTopic, backtestTopic: backtestTopic}
}

func (p *KafkaRecordPublisher) PublishForecast(ctx context.Context, rec models.ForecastRecord) error {
	return p.producer.Publish(ctx, p.forecastTopic, []byte(rec.Zone), rec,
		pkgkafka.Header{Key: "record_type", Value: "forecast"},
		pkgkafka.Header{Key: "origin", Value: rec.Origin.Format(time.RFC3339)})
}

func (p *KafkaRecordPublisher) PublishBacktest(ctx context.Context, rep models.BacktestReport) error {
	return p.producer.Publish(ctx, p.backtestTopic, []byte(rep.Zone), rep,
		pkgkafka.Header{Key: "record_type", Value: "backtest"})
}

// NopPublisher drops everything. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishForecast(context.Context, models.ForecastRecord) error { return nil }

func (NopPublisher) PublishBacktest(context.Context, models.BacktestReport) error { return nil }

// PublishMessage lets NopPublisher stand in for the log collector sink too.
func (NopPublisher) PublishMessage(context.Context, string, interface{}) error { return nil }

// KafkaLogPublisher ships aggregated log batches for the log collector.
type KafkaLogPublisher struct {
	producer messagePublisher
}

func NewKafkaLogPublisher(producer *pkgkafka.Producer) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: producer}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload, pkgkafka.Header{Key: "record_type", Value: "logs"})
}
