package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topics  []string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWriter_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("zone", "NO1"))

	log.Debug("hidden")
	log.Info("fitted", Float64("alpha", 0.1), Int("n", 720), Bool("converged", true))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &got))
	assert.Equal(t, "info", got["level"])
	assert.Equal(t, "fitted", got["message"])
	assert.Equal(t, "NO1", got["zone"])
	assert.Equal(t, 0.1, got["alpha"])
	assert.Equal(t, float64(720), got["n"])
	assert.Equal(t, true, got["converged"])
}

func TestLogCollector_DeduplicatesAndFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	fields := map[string]interface{}{"zone": "NO1"}
	c.AddLog("warn", "refit failed", fields, "pipeline.go:10")
	c.AddLog("warn", "refit failed", fields, "pipeline.go:10")
	c.AddLog("error", "store failed", nil, "pipeline.go:20")
	assert.Equal(t, 2, c.Pending())

	c.Close()

	entries := pub.entries()
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"logs"}, pub.topics)
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Message] = e.Count
	}
	assert.Equal(t, 2, counts["refit failed"])
	assert.Equal(t, 1, counts["store failed"])
}

func TestLogCollector_ThresholdFlush(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 2, Topic: "logs", Publisher: pub})

	c.AddLog("warn", "a", nil, "x.go:1")
	c.AddLog("warn", "b", nil, "x.go:2")
	assert.Equal(t, 0, c.Pending())

	c.Close()
	assert.Len(t, pub.entries(), 2)
}

func TestLogger_WarnAndErrorReachCollector(t *testing.T) {
	pub := &capturePublisher{}
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug")
	log.AddCollector(&CollectionConfig{TimeInterval: time.Hour, Topic: "logs", Publisher: pub})

	child := log.With(String("zone", "SE3"))
	child.Info("not collected")
	child.Warn("slow fit", Duration("took", time.Second))
	child.Error("failed", Error(errors.New("boom")))

	log.RemoveCollector()

	entries := pub.entries()
	require.Len(t, entries, 2)
	levels := map[string]bool{}
	for _, e := range entries {
		levels[e.Level] = true
	}
	assert.True(t, levels["warn"])
	assert.True(t, levels["error"])
}
