package di

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/pkg/config"
	applogger "PatternMemory/pkg/logger"
)

func TestInitializeAppWithLocalBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "test"
	cfg.Logging.Output = "stderr"
	cfg.Memory.SnapshotPath = filepath.Join(t.TempDir(), "memory.json")

	app, cleanup, err := InitializeApp(cfg)
	require.NoError(t, err)
	require.NotNil(t, app)
	cleanup()
}

func TestSnapshotBackendRequiresClient(t *testing.T) {
	cfg := config.Default()
	cfg.Memory.Backend = "redis"
	_, _, err := ProvideSnapshotStore(cfg, nil, nil)
	assert.Error(t, err)

	cfg.Memory.Backend = "none"
	st, cleanup, err := ProvideSnapshotStore(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, st)
	cleanup()
	assert.Nil(t, ProvidePersister(cfg, nil, nil, nil, nil))
}

func TestSinksFollowConfig(t *testing.T) {
	cfg := config.Default()
	hub := ProvideHub(mustLogger(t, cfg))
	assert.Len(t, ProvideSinks(cfg, nil, hub, mustLogger(t, cfg), nil), 1, "websocket only")

	cfg.Webhook.URL = "http://localhost:9/hook"
	assert.Len(t, ProvideSinks(cfg, nil, hub, mustLogger(t, cfg), nil), 2)
}

func TestKafkaProducerOutlivesSinksAndCollector(t *testing.T) {
	cfg := config.Default()
	p, cleanup, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)
	cleanup()

	cfg.Kafka.Enabled = true
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	cfg.Logging.Output = "stderr"
	cfg.Logging.Collector.Enabled = true
	p, closeProducer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	l, closeLogger, err := ProvideLogger(cfg, p)
	require.NoError(t, err)
	sinks := ProvideSinks(cfg, p, ProvideHub(l), l, nil)
	require.Len(t, sinks, 2, "websocket and kafka")
	for _, s := range sinks {
		assert.NoError(t, s.Close(), "closing a sink leaves the shared producer alone")
	}

	closeLogger()
	closeLogger()
	closeProducer()
}

func mustLogger(t *testing.T, cfg *config.Config) *applogger.Logger {
	t.Helper()
	l, cleanup, err := ProvideLogger(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return l
}
