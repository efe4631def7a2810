package detectors

import (
	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/domain/service"
	"PatternMemory/pkg/config"
)

// StructureBreak emits every close beyond the latest confirmed swing except the
// reversals large enough to be reported by CharacterChange.
type StructureBreak struct {
	cfg config.DetectionConfig
}

var _ service.Detector = (*StructureBreak)(nil)

func NewStructureBreak(cfg config.DetectionConfig) *StructureBreak {
	return &StructureBreak{cfg: cfg}
}

func (d *StructureBreak) Type() models.PatternType { return models.StructureBreak }

func (d *StructureBreak) Capable(in *service.DetectionInput) error { return requireSwings(in) }

func (d *StructureBreak) Detect(in *service.DetectionInput) ([]*models.PatternEvent, error) {
	if err := d.Capable(in); err != nil {
		return nil, err
	}
	candles := in.Series.Candles
	minSize := d.cfg.CharacterChange.MinSwingPips * in.PipSize

	var out []*models.PatternEvent
	for _, b := range scanBreaks(candles, in.Swings, d.cfg.Swing.Lookback) {
		if b.reversal && b.swingSize >= minSize {
			continue
		}
		strength, distATR, vr := breakStrength(d.cfg.Structure, candles, in.ATR, b)

		e := newEvent(in, models.StructureBreak, b.dir, b.level.Price, b.bar)
		e.Strength = strength
		e.SetMeta(models.MetaBreakoutATR, distATR)
		e.SetMeta(models.MetaVolumeRatio, vr)
		out = append(out, e)
	}
	return out, nil
}
