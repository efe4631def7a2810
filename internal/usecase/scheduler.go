package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	applogger "PatternMemory/pkg/logger"
)

// Scheduler periodically analyzes the latest stored candles of every configured symbol.
// Symbols run independently; one failing symbol does not hold back the others.
type Scheduler struct {
	store      domrepo.CandleStore
	analyze    *AnalyzeUseCase
	symbols    []string
	timeframes []models.Timeframe
	candles    int
	interval   time.Duration
	log        *applogger.Logger
}

func NewScheduler(store domrepo.CandleStore, analyze *AnalyzeUseCase, symbols []string, timeframes []models.Timeframe,
	candles int, interval time.Duration, log *applogger.Logger) *Scheduler {
	if log == nil {
		log = applogger.Nop()
	}
	return &Scheduler{
		store:      store,
		analyze:    analyze,
		symbols:    symbols,
		timeframes: timeframes,
		candles:    candles,
		interval:   interval,
		log:        log,
	}
}

// Run ticks until ctx ends. The first round starts immediately.
func (s *Scheduler) Run(ctx context.Context) {
	s.RunOnce(ctx)
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce analyzes every symbol concurrently and waits for all of them.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]*models.AnalysisReport {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]*models.AnalysisReport, len(s.symbols))
	)
	for _, sym := range s.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			report, err := s.AnalyzeStored(ctx, sym, s.candles)
			if err != nil {
				s.log.Error("scheduled analysis failed", applogger.String("symbol", sym), applogger.Error(err))
				return
			}
			mu.Lock()
			out[sym] = report
			mu.Unlock()
		}(sym)
	}
	wg.Wait()
	return out
}

// AnalyzeStored loads the latest n candles per timeframe and analyzes them.
func (s *Scheduler) AnalyzeStored(ctx context.Context, symbol string, n int) (*models.AnalysisReport, error) {
	if n <= 0 {
		n = s.candles
	}
	p := AnalyzeParams{Symbol: symbol}
	for _, tf := range s.timeframes {
		cs, err := s.store.GetLatestNCandles(ctx, symbol, n, tf)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", symbol, tf, err)
		}
		p.Series = append(p.Series, models.Series{Symbol: symbol, Timeframe: tf, Candles: cs})
	}
	return s.analyze.Analyze(ctx, p)
}
