package detectors

import (
	"math"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/internal/services/features"
	"PatternMemory/pkg/config"
)

// GapZone finds three-candle price discontinuities (fair value gaps) and tracks
// how much of each gap later bars have filled.
type GapZone struct {
	cfg config.GapConfig
}

var _ service.Detector = (*GapZone)(nil)

func NewGapZone(cfg config.DetectionConfig) *GapZone {
	return &GapZone{cfg: cfg.Gap}
}

func (d *GapZone) Type() models.PatternType { return models.GapZone }

func (d *GapZone) Capable(in *service.DetectionInput) error { return requireBars(in, 3) }

func (d *GapZone) Detect(in *service.DetectionInput) ([]*models.PatternEvent, error) {
	if err := d.Capable(in); err != nil {
		return nil, err
	}
	candles := in.Series.Candles

	var out []*models.PatternEvent
	for i := 2; i < len(candles); i++ {
		first, third := candles[i-2], candles[i]

		var (
			dir  models.Direction
			zone models.Zone
		)
		switch {
		case first.High < third.Low:
			dir, zone = models.Bullish, models.Zone{Low: first.High, High: third.Low}
		case first.Low > third.High:
			dir, zone = models.Bearish, models.Zone{Low: third.High, High: first.Low}
		default:
			continue
		}

		pips := zone.Width() / in.PipSize
		if pips < d.cfg.MinSizePips || pips > d.cfg.MaxSizePips {
			continue
		}

		anchor := zone.High
		if dir == models.Bearish {
			anchor = zone.Low
		}
		e := newEvent(in, models.GapZone, dir, anchor, i)
		e.Zone = &zone
		e.InitMitigation()

		fill := gapFill(dir, zone, candles[i+1:])
		if fill > 0 {
			if err := e.Mitigate(models.Tested); err != nil {
				return nil, err
			}
		}
		if fill >= 1 {
			if err := e.Mitigate(models.Invalidated); err != nil {
				return nil, err
			}
		}

		e.Strength = d.strength(zone.Width(), in.ATR[i], fill, e.Active())
		e.SetMeta(models.MetaZoneSizePips, pips)
		e.SetMeta(models.MetaFillPercentage, fill*100)
		e.SetMeta(models.MetaAgeBars, len(candles)-1-i)
		out = append(out, e)
	}
	return out, nil
}

// gapFill is the deepest intrusion of later bars into the gap as a fraction of its width.
func gapFill(dir models.Direction, z models.Zone, later []models.Candle) float64 {
	width := z.Width()
	if width <= 0 {
		return 0
	}
	deepest := 0.0
	for _, c := range later {
		var intrusion float64
		if dir == models.Bullish {
			intrusion = z.High - c.Low
		} else {
			intrusion = c.High - z.Low
		}
		deepest = math.Max(deepest, intrusion)
		if deepest >= width {
			return 1
		}
	}
	return features.Clamp(deepest/width, 0, 1)
}

func (d *GapZone) strength(width, atr, fill float64, active bool) float64 {
	base := 1.0
	if atr > 0 {
		base = features.Clamp(width/atr/d.cfg.FullStrengthATR, 0, 1)
	}
	s := base * (1 - fill)
	if active {
		s = math.Max(s, d.cfg.MinStrength)
	}
	return features.Clamp(s, 0, 1)
}
