package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	domsvc "PatternMemory/internal/domain/service"
	"PatternMemory/internal/services/candles"
	"PatternMemory/internal/services/confluence"
	"PatternMemory/internal/services/detectors"
	"PatternMemory/internal/services/features"
	"PatternMemory/internal/services/scoring"
	"PatternMemory/internal/services/swing"
	"PatternMemory/pkg/config"
	applogger "PatternMemory/pkg/logger"
)

// AnalyzeUseCase runs one symbol through the whole engine: a detector pass per
// timeframe in parallel, a barrier, confluence synthesis and emission.
type AnalyzeUseCase struct {
	cfg       *config.Config
	detectors []domsvc.Detector
	mem       domsvc.Memory
	scorer    *scoring.Scorer
	synth     *confluence.Synthesizer
	emitter   *Emitter
	log       *applogger.Logger
	metrics   domrepo.Metrics
}

type AnalyzeOption func(*AnalyzeUseCase)

func WithDetectors(ds ...domsvc.Detector) AnalyzeOption {
	return func(a *AnalyzeUseCase) { a.detectors = ds }
}

func WithAnalyzeLogger(l *applogger.Logger) AnalyzeOption {
	return func(a *AnalyzeUseCase) { a.log = l }
}

func WithAnalyzeMetrics(m domrepo.Metrics) AnalyzeOption {
	return func(a *AnalyzeUseCase) { a.metrics = m }
}

// NewAnalyzeUseCase wires the engine. mem and emitter may be nil.
func NewAnalyzeUseCase(cfg *config.Config, mem domsvc.Memory, emitter *Emitter, opts ...AnalyzeOption) *AnalyzeUseCase {
	a := &AnalyzeUseCase{
		cfg:       cfg,
		detectors: detectors.All(cfg.Detection),
		mem:       mem,
		synth:     confluence.New(cfg.Confluence),
		emitter:   emitter,
		log:       applogger.Nop(),
		metrics:   domrepo.NopMetrics{},
	}
	for _, o := range opts {
		o(a)
	}
	a.scorer = scoring.New(mem, cfg, scoring.WithLogger(a.log), scoring.WithMetrics(a.metrics))
	return a
}

type AnalyzeParams struct {
	Symbol string
	Series []models.Series
	// DryRun synthesizes without emitting.
	DryRun bool
}

// pass is the outcome of one (symbol, timeframe) pipeline.
type pass struct {
	tf       models.Timeframe
	result   confluence.TimeframeResult
	skipped  []string
	errs     map[string]string
	degraded bool
	resolved int
}

// Analyze validates every series up front; a malformed series rejects the whole call.
// Detector failures are isolated and reported, never fatal.
func (a *AnalyzeUseCase) Analyze(ctx context.Context, p AnalyzeParams) (*models.AnalysisReport, error) {
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol required", models.ErrValidation)
	}
	if len(p.Series) == 0 {
		return nil, fmt.Errorf("%w: at least one series required", models.ErrValidation)
	}
	seen := make(map[models.Timeframe]struct{}, len(p.Series))
	for i := range p.Series {
		s := &p.Series[i]
		if s.Symbol == "" {
			s.Symbol = p.Symbol
		}
		if s.Symbol != p.Symbol {
			return nil, fmt.Errorf("%w: series %d is %s, expected %s", models.ErrValidation, i, s.Symbol, p.Symbol)
		}
		if _, dup := seen[s.Timeframe]; dup {
			return nil, fmt.Errorf("%w: duplicate timeframe %s", models.ErrValidation, s.Timeframe)
		}
		seen[s.Timeframe] = struct{}{}
	}
	if err := candles.ValidateAll(p.Series); err != nil {
		a.metrics.RecordError("validation")
		return nil, err
	}

	start := time.Now()
	passes := make([]pass, len(p.Series))
	var wg sync.WaitGroup
	for i := range p.Series {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			passes[i] = a.runPass(ctx, p.Series[i])
		}(i)
	}
	wg.Wait()

	report := &models.AnalysisReport{
		Symbol:    p.Symbol,
		Timestamp: time.Now().UTC(),
		Events:    make(map[models.Timeframe][]models.ScoredEvent, len(passes)),
		Skipped:   make(map[models.Timeframe][]string),
		Errors:    make(map[string]string),
	}
	results := make([]confluence.TimeframeResult, 0, len(passes))
	for _, ps := range passes {
		results = append(results, ps.result)
		report.Events[ps.tf] = ps.result.Events
		if len(ps.skipped) > 0 {
			report.Skipped[ps.tf] = ps.skipped
		}
		for k, v := range ps.errs {
			report.Errors[k] = v
		}
		report.Degraded = report.Degraded || ps.degraded
		report.Resolved += ps.resolved
	}

	sig, scores := a.synth.Synthesize(p.Symbol, results)
	report.Signal = sig
	report.Scores = scores

	if sig != nil && !p.DryRun && a.emitter != nil {
		emitted, err := a.emitter.Emit(ctx, sig)
		report.Emitted = emitted
		if err != nil {
			report.Errors["emit"] = err.Error()
			a.log.Error("signal emission failed", applogger.String("symbol", p.Symbol), applogger.Error(err))
		}
	}

	if len(report.Skipped) == 0 {
		report.Skipped = nil
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	a.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	a.log.Debug("analysis complete",
		applogger.String("symbol", p.Symbol),
		applogger.Int("timeframes", len(passes)),
		applogger.Bool("signal", sig != nil),
		applogger.Duration("duration_ms", time.Since(start)))
	return report, nil
}

func (a *AnalyzeUseCase) runPass(ctx context.Context, s models.Series) pass {
	ps := pass{tf: s.Timeframe, errs: make(map[string]string)}
	cs := s.Candles
	atr := features.ATRSeries(cs, a.cfg.Detection.ATRPeriod)

	in := &domsvc.DetectionInput{
		Series:  s,
		ATR:     atr,
		PipSize: a.cfg.Instruments.PipSize(s.Symbol),
	}
	in.Swings, in.SwingErr = swing.Extract(cs, a.cfg.Detection.Swing.Lookback)

	var events []*models.PatternEvent
	for _, d := range a.detectors {
		if err := d.Capable(in); err != nil {
			ps.skipped = append(ps.skipped, fmt.Sprintf("%s: %v", d.Type(), err))
			a.metrics.RecordDetectorSkipped(string(d.Type()))
			continue
		}
		found, err := detectSafely(d, in)
		if err != nil {
			ps.errs[string(s.Timeframe)+"/"+string(d.Type())] = err.Error()
			a.metrics.RecordDetectorFailure(string(d.Type()))
			a.log.Error("detector failed",
				applogger.String("symbol", s.Symbol),
				applogger.String("timeframe", string(s.Timeframe)),
				applogger.String("pattern", string(d.Type())),
				applogger.Error(err))
			continue
		}
		for _, e := range found {
			a.metrics.RecordPattern(string(e.Type), string(e.Timeframe))
		}
		events = append(events, found...)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].DetectedAt.Before(events[j].DetectedAt) })

	scored, degraded := a.scorer.ScoreAll(ctx, events)
	ps.degraded = degraded
	if a.mem != nil {
		if err := a.remember(ctx, events); err != nil {
			ps.degraded = true
			a.log.Warn("memory record degraded", applogger.String("symbol", s.Symbol), applogger.Error(err))
		}
		n, err := a.evaluateOutcomes(ctx, s, events)
		ps.resolved = n
		if err != nil {
			ps.degraded = true
			a.log.Warn("outcome evaluation degraded", applogger.String("symbol", s.Symbol), applogger.Error(err))
		}
	}

	ps.result = confluence.TimeframeResult{Timeframe: s.Timeframe, Events: scored}
	if last, ok := s.Last(); ok {
		ps.result.LastClose = last.Close
		ps.result.AsOf = last.Bucket
		ps.result.ATR = atr[len(atr)-1]
	}
	return ps
}

// detectSafely turns a detector panic into an error so one detector cannot take down the pass.
func detectSafely(d domsvc.Detector, in *domsvc.DetectionInput) (events []*models.PatternEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			events, err = nil, fmt.Errorf("detector %s panicked: %v", d.Type(), r)
		}
	}()
	return d.Detect(in)
}

func (a *AnalyzeUseCase) memCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Memory.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.cfg.Memory.Timeout)
}

// remember records every event as PENDING. Recording is idempotent by event id.
func (a *AnalyzeUseCase) remember(ctx context.Context, events []*models.PatternEvent) error {
	if len(events) == 0 {
		return nil
	}
	mctx, cancel := a.memCtx(ctx)
	defer cancel()
	for _, e := range events {
		if _, err := a.mem.Record(mctx, e); err != nil {
			a.metrics.RecordMemoryDegraded()
			return fmt.Errorf("record %s: %w", e.ID, err)
		}
	}
	return nil
}

// evaluateOutcomes resolves events that have OutcomeHorizonBars of later price history:
// the close move over the horizon, signed by direction, decides SUCCESS or FAILURE.
func (a *AnalyzeUseCase) evaluateOutcomes(ctx context.Context, s models.Series, events []*models.PatternEvent) (int, error) {
	h := a.cfg.Memory.OutcomeHorizonBars
	if h <= 0 || len(events) == 0 {
		return 0, nil
	}
	pip := a.cfg.Instruments.PipSize(s.Symbol)
	mctx, cancel := a.memCtx(ctx)
	defer cancel()

	resolved := 0
	for _, e := range events {
		bar, ok := e.MetaFloat(models.MetaBarIndex)
		if !ok {
			continue
		}
		i := int(bar)
		if i < 0 || i+h >= len(s.Candles) {
			continue
		}
		pips := e.Direction.Sign() * (s.Candles[i+h].Close - s.Candles[i].Close) / pip
		outcome := models.OutcomeFailure
		if pips > 0 {
			outcome = models.OutcomeSuccess
		}
		err := a.mem.Resolve(mctx, e.ID, outcome, pips)
		switch {
		case err == nil:
			resolved++
		case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrRecordNotFound):
		default:
			return resolved, fmt.Errorf("resolve %s: %w", e.ID, err)
		}
	}
	return resolved, nil
}
