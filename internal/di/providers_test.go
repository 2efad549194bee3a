package di

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalrepo "GridVol/internal/repository"
	svccache "GridVol/internal/service/cache"
	pkgcache "GridVol/pkg/cache"
	"GridVol/pkg/config"
)

const memoryConfig = `
environment: test
storage:
  backend: memory
redis:
  enabled: false
queue:
  enabled: false
pipeline:
  zones: [NO1, SE3]
  lookback_hours: 500
  backtest_days: 20
`

func TestInitializeApp_MemoryBackend(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryConfig))
	require.NoError(t, err)

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	assert.Equal(t, []string{"NO1", "SE3"}, app.Fleet().Zones())
	p, ok := app.Fleet().Pipeline("SE3")
	require.True(t, ok)
	assert.Equal(t, 500, p.Config().LookbackHours)
	assert.Equal(t, 20, p.Config().BacktestDays)
}

func TestProviders_FallbacksWithoutInfrastructure(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryConfig))
	require.NoError(t, err)

	ch, err := ProvideClickHouseClient(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)

	storage := ProvideStorage(nil, nil)
	assert.IsType(t, &internalrepo.MemoryStore{}, storage.Prices)
	assert.Same(t, storage.Prices, storage.Forecasts)

	locker := ProvideRunLocker(nil)
	assert.IsType(t, &pkgcache.MemoryCache{}, locker)
	_ = locker.(*pkgcache.MemoryCache).Close()

	assert.IsType(t, &svccache.TTLCache{}, ProvideResponseCache(cfg, nil))
	assert.IsType(t, internalrepo.NopPublisher{}, ProvideRecordPublisher(cfg, nil))

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)
	consumer, err := ProvideKafkaConsumer(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, consumer)

	notifier, err := ProvideNotifier(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, notifier)

	assert.Nil(t, ProvideJobQueue(cfg, nil, nil, nil))
}

func TestPipelineConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(memoryConfig))
	require.NoError(t, err)

	pc := PipelineConfig(cfg, "NO1")
	assert.Equal(t, "NO1", pc.Zone)
	assert.Equal(t, 500, pc.LookbackHours)
	assert.Equal(t, 100, pc.MinObservations)
	assert.Equal(t, 24, pc.Horizon)
	assert.Equal(t, 0.9, pc.Confidence)
	assert.Equal(t, 168*time.Hour, pc.Staleness)
	assert.True(t, pc.AllowStaleFallback)
}
