package detectors

import (
	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/pkg/config"
)

// CharacterChange emits breaks that reverse two consecutive opposite breaks, provided
// the latest swing high and low are at least MinSwingPips apart.
type CharacterChange struct {
	cfg config.DetectionConfig
}

var _ service.Detector = (*CharacterChange)(nil)

func NewCharacterChange(cfg config.DetectionConfig) *CharacterChange {
	return &CharacterChange{cfg: cfg}
}

func (d *CharacterChange) Type() models.PatternType { return models.CharacterChange }

func (d *CharacterChange) Capable(in *service.DetectionInput) error { return requireSwings(in) }

func (d *CharacterChange) Detect(in *service.DetectionInput) ([]*models.PatternEvent, error) {
	if err := d.Capable(in); err != nil {
		return nil, err
	}
	candles := in.Series.Candles
	minSize := d.cfg.CharacterChange.MinSwingPips * in.PipSize

	var out []*models.PatternEvent
	for _, b := range scanBreaks(candles, in.Swings, d.cfg.Swing.Lookback) {
		if !b.reversal || b.swingSize < minSize {
			continue
		}
		strength, distATR, vr := breakStrength(d.cfg.Structure, candles, in.ATR, b)

		e := newEvent(in, models.CharacterChange, b.dir, b.level.Price, b.bar)
		e.Strength = strength
		e.SetMeta(models.MetaBreakoutATR, distATR)
		e.SetMeta(models.MetaVolumeRatio, vr)
		e.SetMeta(models.MetaSwingSize, b.swingSize/in.PipSize)
		out = append(out, e)
	}
	return out, nil
}
