package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "GridVol/pkg/logger"
)

// ConsumerHook wraps message handling. Returning an error from BeforeHandle
// skips the handler; the message then goes through error processing (OnError,
// DLQ, offset commit).
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message, data []byte) (context.Context, []byte, error)
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
	OnError(ctx context.Context, topic string, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, _ kafka.Message, data []byte) (context.Context, []byte, error) {
	return ctx, data, nil
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}

func (NoopHook) OnError(context.Context, string, kafka.Message, error) {}

type ctxKey string

const (
	ctxStartTime ctxKey = "kafka_hook_start_time"
	ctxTraceID   ctxKey = "kafka_hook_trace_id"
)

// TraceID returns the trace id the logging hook put in ctx.
func TraceID(ctx context.Context) string {
	s, _ := ctx.Value(ctxTraceID).(string)
	return s
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}

// LoggingHook carries the producer's trace_id header into the handler
// context and logs failed and slow messages with their coordinates.
type LoggingHook struct {
	log  *applogger.Logger
	slow time.Duration
}

func NewLoggingHook(l *applogger.Logger, slow time.Duration) *LoggingHook {
	if l == nil {
		l = applogger.Nop()
	}
	return &LoggingHook{log: l, slow: slow}
}

func (h *LoggingHook) BeforeHandle(ctx context.Context, _ string, km kafka.Message, data []byte) (context.Context, []byte, error) {
	ctx = context.WithValue(ctx, ctxStartTime, time.Now())
	if id := headerValue(km, "trace_id"); id != "" {
		ctx = context.WithValue(ctx, ctxTraceID, id)
	}
	return ctx, data, nil
}

func (h *LoggingHook) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	start, ok := ctx.Value(ctxStartTime).(time.Time)
	if !ok || h.slow <= 0 || err != nil {
		return
	}
	if d := time.Since(start); d >= h.slow {
		h.log.Warn("kafka message slow",
			applogger.String("topic", topic),
			applogger.Int("partition", km.Partition),
			applogger.Int64("offset", km.Offset),
			applogger.Duration("duration_ms", d))
	}
}

func (h *LoggingHook) OnError(ctx context.Context, topic string, km kafka.Message, err error) {
	h.log.Warn("kafka message failed",
		applogger.String("topic", topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.String("key", string(km.Key)),
		applogger.String("trace_id", TraceID(ctx)),
		applogger.Error(err))
}
