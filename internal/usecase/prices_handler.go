package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"GridVol/internal/domain/models"
	"GridVol/internal/middleware"
	pkgkafka "GridVol/pkg/kafka"
)

// PriceAdder accepts single observations, normally the ingest buffer.
type PriceAdder interface {
	Add(o models.PriceObservation) error
}

type errorRecorder interface {
	RecordError(kind string)
}

// KafkaPricesHandler consumes hourly day-ahead prices from Kafka.
type KafkaPricesHandler struct {
	topic   string
	sink    PriceAdder
	metrics errorRecorder
}

func NewKafkaPricesHandler(topic string, sink PriceAdder, metrics errorRecorder) *KafkaPricesHandler {
	return &KafkaPricesHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaPricesHandler) Topic() string { return h.topic }

// incoming message schema: {zone, ts (RFC3339) | t (unix s or ms), price}
func (h *KafkaPricesHandler) Handle(_ context.Context, b []byte) error {
	var m struct {
		Zone  string    `json:"zone"`
		TS    time.Time `json:"ts"`
		T     int64     `json:"t"`
		Price *float64  `json:"price"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(err)
	}
	if m.Price == nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("price missing"))
	}

	ts := m.TS
	if ts.IsZero() && m.T > 0 {
		if m.T > 1e11 { // ms
			m.T = m.T / 1000
		}
		ts = time.Unix(m.T, 0)
	}

	err := h.sink.Add(models.PriceObservation{
		Zone:      strings.ToUpper(strings.TrimSpace(m.Zone)),
		Timestamp: ts.UTC(),
		Price:     *m.Price,
	})
	// a full buffer drains once the store is back, anything else is the payload
	if err != nil && !errors.Is(err, middleware.ErrBufferFull) {
		return pkgkafka.Permanent(err)
	}
	return err
}

var _ pkgkafka.MessageHandler = (*KafkaPricesHandler)(nil)
