package detectors

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/internal/services/features"
	"PatternMemory/internal/services/swing"
	"PatternMemory/pkg/config"
)

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

type ohlc [4]float64

func build(bars ...ohlc) []models.Candle {
	out := make([]models.Candle, len(bars))
	for i, b := range bars {
		out[i] = models.Candle{
			Bucket: t0.Add(time.Duration(i) * time.Hour),
			Open:   b[0], High: b[1], Low: b[2], Close: b[3],
			Volume: 100,
		}
	}
	return out
}

func testConfig() config.DetectionConfig {
	cfg := config.Default().Detection
	cfg.Swing.Lookback = 1
	cfg.CharacterChange.MinSwingPips = 2
	return cfg
}

func input(t *testing.T, cfg config.DetectionConfig, candles []models.Candle) *service.DetectionInput {
	t.Helper()
	swings, err := swing.Extract(candles, cfg.Swing.Lookback)
	return &service.DetectionInput{
		Series:   models.Series{Symbol: "TEST", Timeframe: models.TF1h, Candles: candles},
		Swings:   swings,
		SwingErr: err,
		ATR:      features.ATRSeries(candles, cfg.ATRPeriod),
		PipSize:  1,
	}
}

func filter(events []*models.PatternEvent, dir models.Direction) []*models.PatternEvent {
	var out []*models.PatternEvent
	for _, e := range events {
		if e.Direction == dir {
			out = append(out, e)
		}
	}
	return out
}

// swing high of 13 at bar 1, confirmed after bar 2
func breakSeries(lastClose float64) []models.Candle {
	return build(
		ohlc{10, 11, 9, 10},
		ohlc{10, 13, 10, 12},
		ohlc{12, 12.5, 10.5, 11},
		ohlc{11, 12, 10, 11},
		ohlc{11, 14, 11, 13},
		ohlc{13, 14.5, 12.5, lastClose},
	)
}

func TestStructureBreakOnClose(t *testing.T) {
	cfg := testConfig()
	candles := breakSeries(14)

	events, err := NewStructureBreak(cfg).Detect(input(t, cfg, candles))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.StructureBreak, e.Type)
	assert.Equal(t, models.Bullish, e.Direction)
	assert.Equal(t, 13.0, e.AnchorPrice)
	assert.Equal(t, candles[5].Bucket, e.DetectedAt)
	assert.Greater(t, e.Strength, 0.0)
	assert.LessOrEqual(t, e.Strength, 1.0)
	assert.Equal(t, 1.0, e.Metadata[models.MetaVolumeRatio])
}

func TestStructureBreakCloseEqualToSwingDoesNotTrigger(t *testing.T) {
	cfg := testConfig()
	// bar 4 wicks to 14 and closes exactly at 13; bar 5 closes at 13 as well
	events, err := NewStructureBreak(cfg).Detect(input(t, cfg, breakSeries(13)))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestStructureBreakVolumeRaisesStrength(t *testing.T) {
	cfg := testConfig()
	quiet := breakSeries(14)
	loud := breakSeries(14)
	loud[5].Volume = 1000

	a, err := NewStructureBreak(cfg).Detect(input(t, cfg, quiet))
	require.NoError(t, err)
	b, err := NewStructureBreak(cfg).Detect(input(t, cfg, loud))
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)

	assert.Greater(t, b[0].Strength, a[0].Strength)
	assert.Equal(t, 1.5, b[0].Metadata[models.MetaVolumeRatio], "volume contribution is capped")
	assert.Equal(t, a[0].ID, b[0].ID, "ids depend on identity, not strength")
}

func TestStructureBreakNotCapableWithoutSwings(t *testing.T) {
	cfg := testConfig()
	in := input(t, cfg, build(ohlc{1, 2, 0.5, 1.5}, ohlc{1.5, 2, 1, 1.2}))

	d := NewStructureBreak(cfg)
	err := d.Capable(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientData)

	_, err = d.Detect(in)
	assert.ErrorIs(t, err, models.ErrInsufficientData)
}

// two bearish breaks (bars 4 and 6) followed by a bullish break of the bar 8 swing high at bar 10
func reversalSeries() []models.Candle {
	return build(
		ohlc{20, 21, 19, 20},
		ohlc{20, 20.5, 18, 18.5},
		ohlc{18.5, 19.5, 17, 19},
		ohlc{19, 20, 18.5, 19.5},
		ohlc{19.5, 19.8, 16, 16.5},
		ohlc{16.5, 17.5, 16.2, 17.2},
		ohlc{17.2, 17.4, 14, 14.5},
		ohlc{14.5, 16, 14.2, 15.8},
		ohlc{15.8, 17, 15.5, 16.8},
		ohlc{16.8, 16.9, 15.9, 16},
		ohlc{16, 18.5, 15.9, 18.2},
	)
}

func TestBreakClassification(t *testing.T) {
	cfg := testConfig()
	candles := reversalSeries()
	in := input(t, cfg, candles)

	breaks, err := NewStructureBreak(cfg).Detect(in)
	require.NoError(t, err)
	require.Len(t, breaks, 2)
	for i, want := range []struct {
		bar    int
		anchor float64
	}{{4, 17}, {6, 16}} {
		assert.Equal(t, models.Bearish, breaks[i].Direction)
		assert.Equal(t, want.anchor, breaks[i].AnchorPrice)
		assert.Equal(t, candles[want.bar].Bucket, breaks[i].DetectedAt)
	}

	changes, err := NewCharacterChange(cfg).Detect(in)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.CharacterChange, changes[0].Type)
	assert.Equal(t, models.Bullish, changes[0].Direction)
	assert.Equal(t, 17.0, changes[0].AnchorPrice)
	assert.Equal(t, candles[10].Bucket, changes[0].DetectedAt)
	assert.Equal(t, 3.0, changes[0].Metadata[models.MetaSwingSize])
}

func TestCharacterChangeMinimumSwingSize(t *testing.T) {
	cfg := testConfig()
	cfg.CharacterChange.MinSwingPips = 5

	candles := reversalSeries()
	in := input(t, cfg, candles)
	changes, err := NewCharacterChange(cfg).Detect(in)
	require.NoError(t, err)
	assert.Empty(t, changes)

	breaks, err := NewStructureBreak(cfg).Detect(in)
	require.NoError(t, err)
	require.Len(t, breaks, 3, "a small reversal is still a break")
	last := breaks[2]
	assert.Equal(t, models.StructureBreak, last.Type)
	assert.Equal(t, models.Bullish, last.Direction)
	assert.Equal(t, 17.0, last.AnchorPrice)
	assert.Equal(t, candles[10].Bucket, last.DetectedAt)
}

func imbalanceSeries(extra ...ohlc) []models.Candle {
	bars := []ohlc{
		{100, 101, 99, 100.5},
		{100.5, 101, 99.5, 100},
		{100, 106, 100, 105.8},
		{105.8, 107, 105, 106.5},
		{106.5, 107.5, 105.5, 106},
	}
	return build(append(bars, extra...)...)
}

func TestImbalanceZoneDetection(t *testing.T) {
	cfg := testConfig()
	candles := imbalanceSeries()

	events, err := NewImbalanceZone(cfg).Detect(input(t, cfg, candles))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.ImbalanceZone, e.Type)
	assert.Equal(t, models.Bullish, e.Direction)
	require.NotNil(t, e.Zone)
	assert.Equal(t, models.Zone{Low: 99.5, High: 101}, *e.Zone)
	assert.Equal(t, 101.0, e.AnchorPrice)
	assert.Equal(t, candles[2].Bucket, e.DetectedAt)
	assert.Equal(t, models.Untested, e.Mitigation)
	assert.Equal(t, "UNTESTED", e.Metadata[models.MetaMitigationState])
	assert.InDelta(t, math.Pow(0.5, 2.0/50), e.Strength, 1e-9, "full impulse score decayed by two bars")
}

func TestImbalanceZoneMitigation(t *testing.T) {
	cfg := testConfig()

	tested := imbalanceSeries(ohlc{106, 106.2, 100.8, 101.5})
	events, err := NewImbalanceZone(cfg).Detect(input(t, cfg, tested))
	require.NoError(t, err)
	bull := filter(events, models.Bullish)
	require.Len(t, bull, 1)
	assert.Equal(t, models.Tested, bull[0].Mitigation)
	assert.True(t, bull[0].Active())

	invalidated := imbalanceSeries(ohlc{106, 106.2, 100.8, 101.5}, ohlc{101.5, 102, 98.5, 99}, ohlc{99, 100.5, 98.8, 100.2})
	events, err = NewImbalanceZone(cfg).Detect(input(t, cfg, invalidated))
	require.NoError(t, err)
	bull = filter(events, models.Bullish)
	require.Len(t, bull, 1)
	assert.Equal(t, models.Invalidated, bull[0].Mitigation, "no way back from invalidated")
	assert.False(t, bull[0].Active())
}

func TestImbalanceZoneStrengthDecaysWithAge(t *testing.T) {
	d := NewImbalanceZone(testConfig())
	young := d.strength(3, 0, true)
	old := d.strength(3, 50, true)
	ancient := d.strength(3, 100000, true)

	assert.Greater(t, young, old)
	assert.Equal(t, d.cfg.MinStrength, ancient, "floor keeps active zones alive")
	assert.Less(t, d.strength(3, 100000, false), d.cfg.MinStrength)
}

// clean 10 unit bullish gap between bar 0 high (1000) and bar 2 low (1010)
func gapSeries(extra ...ohlc) []models.Candle {
	bars := []ohlc{
		{996, 1000, 995, 999},
		{999, 1012, 998, 1011},
		{1011, 1015, 1010, 1014},
		{1014, 1018, 1013, 1017},
		{1017, 1020, 1016, 1019},
	}
	return build(append(bars, extra...)...)
}

func TestGapZoneScenario(t *testing.T) {
	cfg := testConfig()
	cfg.Gap.MinSizePips = 3
	candles := gapSeries()

	events, err := NewGapZone(cfg).Detect(input(t, cfg, candles))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, models.GapZone, e.Type)
	assert.Equal(t, models.Bullish, e.Direction)
	require.NotNil(t, e.Zone)
	assert.Equal(t, 1000.0, e.Zone.Low)
	assert.Equal(t, 1010.0, e.Zone.High)
	assert.Equal(t, 10.0, e.Zone.Width())
	assert.Equal(t, 10.0, e.Metadata[models.MetaZoneSizePips])
	assert.Equal(t, 0.0, e.Metadata[models.MetaFillPercentage])
	assert.Equal(t, candles[2].Bucket, e.DetectedAt)
}

func TestGapZoneFillTracking(t *testing.T) {
	cfg := testConfig()

	half := gapSeries(ohlc{1019, 1019.5, 1005, 1006})
	events, err := NewGapZone(cfg).Detect(input(t, cfg, half))
	require.NoError(t, err)
	bull := filter(events, models.Bullish)
	require.Len(t, bull, 1)
	assert.Equal(t, 50.0, bull[0].Metadata[models.MetaFillPercentage])
	assert.Equal(t, models.Tested, bull[0].Mitigation)

	full := gapSeries(ohlc{1019, 1019.5, 1005, 1006}, ohlc{1006, 1007, 998, 999})
	events, err = NewGapZone(cfg).Detect(input(t, cfg, full))
	require.NoError(t, err)
	bull = filter(events, models.Bullish)
	require.Len(t, bull, 1)
	assert.Equal(t, 100.0, bull[0].Metadata[models.MetaFillPercentage])
	assert.Equal(t, models.Invalidated, bull[0].Mitigation)
	assert.Equal(t, 0.0, bull[0].Strength)
}

func TestGapZoneSizeLimits(t *testing.T) {
	cfg := testConfig()
	cfg.Gap.MinSizePips = 11
	events, err := NewGapZone(cfg).Detect(input(t, cfg, gapSeries()))
	require.NoError(t, err)
	assert.Empty(t, events)

	cfg = testConfig()
	cfg.Gap.MinSizePips = 0
	cfg.Gap.MaxSizePips = 5
	events, err = NewGapZone(cfg).Detect(input(t, cfg, gapSeries()))
	require.NoError(t, err)
	for _, e := range events {
		assert.LessOrEqual(t, e.Zone.Width(), 5.0)
	}
}

func TestGapZoneOneEventPerQualifyingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Gap.MinSizePips = 0
	cfg.Gap.MaxSizePips = 1e9

	rng := rand.New(rand.NewSource(7))
	var bars []ohlc
	price := 100.0
	for i := 0; i < 300; i++ {
		o := price
		c := o + (rng.Float64()-0.5)*4
		h := max(o, c) + rng.Float64()
		l := min(o, c) - rng.Float64()
		bars = append(bars, ohlc{o, h, l, c})
		price = c
	}
	candles := build(bars...)

	events, err := NewGapZone(cfg).Detect(input(t, cfg, candles))
	require.NoError(t, err)

	byBar := make(map[time.Time][]*models.PatternEvent)
	for _, e := range events {
		byBar[e.DetectedAt] = append(byBar[e.DetectedAt], e)
	}

	qualifying := 0
	for i := 2; i < len(candles); i++ {
		first, third := candles[i-2], candles[i]
		got := byBar[third.Bucket]
		if first.High < third.Low {
			qualifying++
			require.Len(t, got, 1, "bar %d", i)
			assert.Equal(t, models.Bullish, got[0].Direction)
			assert.Equal(t, models.Zone{Low: first.High, High: third.Low}, *got[0].Zone)
		} else if first.Low <= third.High {
			assert.Empty(t, got, "bar %d", i)
		}
	}
	assert.Positive(t, qualifying, "random walk should contain gaps")
}

func TestAllDetectorsCoverEveryType(t *testing.T) {
	ds := All(testConfig())
	require.Len(t, ds, len(models.PatternTypes))
	for i, d := range ds {
		assert.Equal(t, models.PatternTypes[i], d.Type())
	}
}
