package confluence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"PatternMemory/internal/domain/models"
	"PatternMemory/internal/services/features"
	"PatternMemory/pkg/config"
)

// TimeframeResult is the finished detector pass of one timeframe.
type TimeframeResult struct {
	Timeframe models.Timeframe
	Events    []models.ScoredEvent
	LastClose float64
	ATR       float64
	// AsOf is the open time of the newest bar.
	AsOf time.Time
}

// Synthesizer combines scored events of every timeframe of one symbol into at most one signal.
type Synthesizer struct {
	cfg         config.ConfluenceConfig
	tfWeights   map[models.Timeframe]float64
	typeWeights map[models.PatternType]float64
	norm        float64
}

func New(cfg config.ConfluenceConfig) *Synthesizer {
	s := &Synthesizer{
		cfg:         cfg,
		tfWeights:   make(map[models.Timeframe]float64, len(cfg.TimeframeWeights)),
		typeWeights: make(map[models.PatternType]float64, len(cfg.PatternWeights)),
	}
	var tfSum, typeSum float64
	for tf, w := range cfg.TimeframeWeights {
		s.tfWeights[models.Timeframe(tf)] = w
		tfSum += w
	}
	for _, t := range models.PatternTypes {
		w := cfg.PatternWeights[string(t)]
		s.typeWeights[t] = w
		typeSum += w
	}
	s.norm = tfSum * typeSum
	return s
}

type slot struct {
	tf models.Timeframe
	pt models.PatternType
}

type contribution struct {
	event *models.PatternEvent
	value float64
}

type candidate struct {
	score  models.ConfluenceScore
	anchor TimeframeResult
	events []contribution
}

// Synthesize returns the winning signal, or nil, plus the score of each direction.
func (s *Synthesizer) Synthesize(symbol string, results []TimeframeResult) (*models.Signal, []models.ConfluenceScore) {
	if s.norm <= 0 || len(results) == 0 {
		return nil, nil
	}

	var asOf time.Time
	byTF := make(map[models.Timeframe]TimeframeResult, len(results))
	for _, r := range results {
		byTF[r.Timeframe] = r
		if r.AsOf.After(asOf) {
			asOf = r.AsOf
		}
	}
	var cutoff time.Time
	if s.cfg.Window > 0 {
		cutoff = asOf.Add(-s.cfg.Window)
	}

	var scores []models.ConfluenceScore
	var candidates []candidate
	for _, dir := range []models.Direction{models.Bullish, models.Bearish} {
		best := s.collect(results, dir, cutoff)
		if len(best) == 0 {
			continue
		}
		score, contribs := s.score(dir, best)
		scores = append(scores, score)

		if score.TotalScore <= s.cfg.Threshold || len(score.PatternTypes) < s.minTypes() {
			continue
		}
		for tf := range tfsOf(contribs) {
			r, ok := byTF[tf]
			if !ok || r.LastClose <= 0 {
				continue
			}
			candidates = append(candidates, candidate{score: score, anchor: r, events: contribs})
		}
	}

	// a candidate without a usable stop falls through to the next one
	for _, c := range rank(candidates) {
		if sig := s.signal(symbol, c, asOf); sig != nil {
			return sig, scores
		}
	}
	return nil, scores
}

func (s *Synthesizer) minTypes() int {
	if s.cfg.MinPatternTypes < 2 {
		return 2
	}
	return s.cfg.MinPatternTypes
}

// collect keeps the strongest active event per (timeframe, type) slot for one direction.
func (s *Synthesizer) collect(results []TimeframeResult, dir models.Direction, cutoff time.Time) map[slot]contribution {
	best := make(map[slot]contribution)
	for _, r := range results {
		tw := s.tfWeights[r.Timeframe]
		if tw <= 0 {
			continue
		}
		for _, se := range r.Events {
			e := se.Event
			if e == nil || e.Direction != dir || !e.Active() {
				continue
			}
			if !cutoff.IsZero() && e.DetectedAt.Before(cutoff) {
				continue
			}
			pw := s.typeWeights[e.Type]
			if pw <= 0 {
				continue
			}
			v := tw * pw * features.Clamp(se.Confidence, 0, 100) / 100
			k := slot{tf: r.Timeframe, pt: e.Type}
			if cur, ok := best[k]; !ok || v > cur.value || (v == cur.value && e.ID < cur.event.ID) {
				best[k] = contribution{event: e, value: v}
			}
		}
	}
	return best
}

func (s *Synthesizer) score(dir models.Direction, best map[slot]contribution) (models.ConfluenceScore, []contribution) {
	contribs := make([]contribution, 0, len(best))
	types := make(map[models.PatternType]struct{})
	sum := 0.0
	for k, c := range best {
		contribs = append(contribs, c)
		types[k.pt] = struct{}{}
		sum += c.value
	}
	sort.Slice(contribs, func(i, j int) bool {
		if contribs[i].value != contribs[j].value {
			return contribs[i].value > contribs[j].value
		}
		return contribs[i].event.ID < contribs[j].event.ID
	})

	score := models.ConfluenceScore{
		Direction:       dir,
		TotalScore:      features.Clamp(100*sum/s.norm, 0, 100),
		ComponentScores: make(map[string]float64, len(contribs)),
		SampleCount:     len(contribs),
	}
	for _, c := range contribs {
		score.ComponentScores[c.event.ID] = 100 * c.value / s.norm
	}
	for _, t := range models.PatternTypes {
		if _, ok := types[t]; ok {
			score.PatternTypes = append(score.PatternTypes, t)
		}
	}
	return score, contribs
}

func tfsOf(contribs []contribution) map[models.Timeframe]struct{} {
	out := make(map[models.Timeframe]struct{})
	for _, c := range contribs {
		out[c.event.Timeframe] = struct{}{}
	}
	return out
}

// rank orders candidates by confidence, then by anchor timeframe. When the leader is tied
// on both keys with the opposite direction they cancel out and nothing is returned.
func rank(cs []candidate) []candidate {
	if len(cs) == 0 {
		return nil
	}
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].score.TotalScore != cs[j].score.TotalScore {
			return cs[i].score.TotalScore > cs[j].score.TotalScore
		}
		ri, rj := cs[i].anchor.Timeframe.Rank(), cs[j].anchor.Timeframe.Rank()
		if ri != rj {
			return ri > rj
		}
		return cs[i].score.Direction < cs[j].score.Direction
	})
	top := cs[0]
	for _, c := range cs[1:] {
		if c.score.TotalScore != top.score.TotalScore || c.anchor.Timeframe != top.anchor.Timeframe {
			break
		}
		if c.score.Direction != top.score.Direction {
			return nil
		}
	}
	return cs
}

func (s *Synthesizer) signal(symbol string, c candidate, asOf time.Time) *models.Signal {
	dir := c.score.Direction
	entry := c.anchor.LastClose

	inv, ok := protectiveLevel(dir, entry, c.events)
	if !ok {
		inv = entry - dir.Sign()*s.cfg.StopATR*c.anchor.ATR
	}
	risk := math.Abs(entry - inv)
	if risk == 0 || math.IsNaN(risk) {
		return nil
	}

	ids := make([]string, len(c.events))
	for i, e := range c.events {
		ids[i] = e.event.ID
	}
	return &models.Signal{
		Symbol:             symbol,
		Timeframe:          c.anchor.Timeframe,
		Direction:          dir,
		EntryPrice:         entry,
		TargetPrice:        entry + dir.Sign()*s.cfg.RewardRatio*risk,
		InvalidationPrice:  inv,
		Confidence:         c.score.TotalScore,
		ContributingEvents: ids,
		CreatedAt:          asOf,
	}
}

// protectiveLevel is the farthest contributing level on the losing side of entry:
// zone low (bullish) or high (bearish), else the broken level itself.
func protectiveLevel(dir models.Direction, entry float64, cs []contribution) (float64, bool) {
	found := false
	level := entry
	for _, c := range cs {
		p := c.event.AnchorPrice
		if z := c.event.Zone; z != nil {
			p = z.Low
			if dir == models.Bearish {
				p = z.High
			}
		}
		if dir.Sign()*(entry-p) <= 0 {
			continue
		}
		if !found || dir.Sign()*(level-p) > 0 {
			level = p
			found = true
		}
	}
	return level, found
}

// String renders a score for logs.
func String(sc models.ConfluenceScore) string {
	return fmt.Sprintf("%s %.1f (%d events, %d types)", sc.Direction, sc.TotalScore, sc.SampleCount, len(sc.PatternTypes))
}
