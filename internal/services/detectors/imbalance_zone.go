package detectors

import (
	"math"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/internal/services/features"
	"PatternMemory/pkg/config"
)

// ImbalanceZone marks the last opposing candle before a strong impulse as a supply or
// demand zone and tracks its mitigation over the remaining bars.
type ImbalanceZone struct {
	cfg config.ImbalanceConfig
}

var _ service.Detector = (*ImbalanceZone)(nil)

func NewImbalanceZone(cfg config.DetectionConfig) *ImbalanceZone {
	return &ImbalanceZone{cfg: cfg.Imbalance}
}

func (d *ImbalanceZone) Type() models.PatternType { return models.ImbalanceZone }

func (d *ImbalanceZone) Capable(in *service.DetectionInput) error { return requireBars(in, 2) }

func (d *ImbalanceZone) Detect(in *service.DetectionInput) ([]*models.PatternEvent, error) {
	if err := d.Capable(in); err != nil {
		return nil, err
	}
	candles := in.Series.Candles
	n := len(candles)
	usedOrigins := make(map[int]bool)

	var out []*models.PatternEvent
	for i := 1; i < n; i++ {
		dir, ok := candleDirection(candles[i])
		if !ok {
			continue
		}
		atr := in.ATR[i-1]
		if atr <= 0 {
			continue
		}

		end, magnitude := d.impulse(candles, i, dir, atr)
		if end < 0 {
			continue
		}
		origin := d.origin(candles, i, dir)
		if origin < 0 || usedOrigins[origin] {
			i = end
			continue
		}
		usedOrigins[origin] = true

		oc := candles[origin]
		zone := models.Zone{Low: oc.Low, High: oc.High}
		anchor := zone.High
		if dir == models.Bearish {
			anchor = zone.Low
		}

		e := newEvent(in, models.ImbalanceZone, dir, anchor, end)
		e.Zone = &zone
		e.InitMitigation()
		if err := mitigateZone(e, candles[end+1:]); err != nil {
			return nil, err
		}

		age := n - 1 - end
		impulseATR := magnitude / atr
		e.Strength = d.strength(impulseATR, age, e.Active())
		e.SetMeta(models.MetaImpulseATR, impulseATR)
		e.SetMeta(models.MetaAgeBars, age)
		e.SetMeta(models.MetaZoneSizePips, zone.Width()/in.PipSize)
		out = append(out, e)

		i = end
	}
	return out, nil
}

// impulse finds the shortest run of up to MaxRun same-direction candles starting at i
// whose net move exceeds ImpulseMultiplier * atr. It returns end = -1 when none qualifies.
func (d *ImbalanceZone) impulse(candles []models.Candle, i int, dir models.Direction, atr float64) (end int, magnitude float64) {
	threshold := d.cfg.ImpulseMultiplier * atr
	for k := i; k < len(candles) && k < i+d.cfg.MaxRun; k++ {
		if cd, ok := candleDirection(candles[k]); !ok || cd != dir {
			break
		}
		move := (candles[k].Close - candles[i].Open) * dir.Sign()
		if move > threshold {
			return k, move
		}
	}
	return -1, 0
}

// origin returns the nearest opposing candle within OriginSearch bars before i, or -1.
func (d *ImbalanceZone) origin(candles []models.Candle, i int, dir models.Direction) int {
	for j := i - 1; j >= 0 && j >= i-d.cfg.OriginSearch; j-- {
		if cd, ok := candleDirection(candles[j]); ok && cd == dir.Opposite() {
			return j
		}
	}
	return -1
}

// strength decays with age by half every HalfLifeBars. Active zones never fall below MinStrength.
func (d *ImbalanceZone) strength(impulseATR float64, age int, active bool) float64 {
	base := features.Clamp(impulseATR/d.cfg.FullStrengthATR, 0, 1)
	s := base * math.Pow(0.5, float64(age)/d.cfg.HalfLifeBars)
	if active {
		s = math.Max(s, d.cfg.MinStrength)
	}
	return features.Clamp(s, 0, 1)
}

// mitigateZone replays later bars against a zone. A wick into the zone tests it;
// a close beyond the far edge invalidates it.
func mitigateZone(e *models.PatternEvent, later []models.Candle) error {
	z := e.Zone
	for _, c := range later {
		var tested, broken bool
		if e.Direction == models.Bullish {
			tested, broken = c.Low <= z.High, c.Close < z.Low
		} else {
			tested, broken = c.High >= z.Low, c.Close > z.High
		}
		switch {
		case broken:
			return e.Mitigate(models.Invalidated)
		case tested && e.Mitigation == models.Untested:
			if err := e.Mitigate(models.Tested); err != nil {
				return err
			}
		}
	}
	return nil
}
