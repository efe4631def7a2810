package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, []models.Timeframe{models.TF15m, models.TF1h, models.TF4h}, c.AnalysisTimeframes())
	w := c.Confluence.TimeframeWeights
	assert.Greater(t, w["4h"], w["1h"], "derived weights grow with the timeframe")
	assert.Greater(t, w["1h"], w["15m"])
	assert.Equal(t, 250*time.Millisecond, c.Memory.Timeout)
}

func TestParseOverridesDefaults(t *testing.T) {
	c, err := Parse([]byte(`
analysis:
  timeframes: ["1h", "1d"]
memory:
  bucket_pips: 5
instruments:
  pip_sizes:
    USDJPY: 0.01
`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, c.Memory.BucketPips)
	assert.Equal(t, 10.0, c.Memory.TolerancePips, "untouched keys keep defaults")
	assert.Greater(t, c.Confluence.TimeframeWeights["1d"], c.Confluence.TimeframeWeights["1h"])
	assert.Equal(t, 0.01, c.Instruments.PipSize("USDJPY"))
	assert.Equal(t, 0.0001, c.Instruments.PipSize("EURUSD"))
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown timeframe": "analysis:\n  timeframes: [\"2h\"]\n",
		"bad backend":       "memory:\n  backend: s3\n",
		"redis off":         "memory:\n  backend: redis\n",
		"postgres dsn":      "memory:\n  backend: postgres\n",
		"gap bounds":        "detection:\n  gap:\n    min_size_pips: 50\n    max_size_pips: 10\n",
		"kafka brokers":     "kafka:\n  enabled: true\n",
		"schedule":          "analysis:\n  schedule: true\n",
		"min types":         "confluence:\n  min_pattern_types: 1\n",
		"yaml":              "memory: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			if name != "yaml" {
				assert.ErrorIs(t, err, models.ErrConfiguration)
			}
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("environment: test\n"), 0o644))
	t.Setenv("PATMEM_SYMBOLS", "EURUSD,GBPUSD")
	t.Setenv("PATMEM_REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, c.Analysis.Symbols)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
}

func TestSampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "file", c.Memory.Backend)
	assert.Equal(t, 0.01, c.Instruments.PipSize("USDJPY"))
}
