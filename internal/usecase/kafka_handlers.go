package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PatternMemory/internal/domain/models"
	domrepo "PatternMemory/internal/domain/repository"
	domsvc "PatternMemory/internal/domain/service"
	pkgkafka "PatternMemory/pkg/kafka"
	applogger "PatternMemory/pkg/logger"
)

// CandleBatch is the wire form of one symbol's candles across timeframes.
type CandleBatch struct {
	Symbol string                     `json:"symbol"`
	Series map[string][]models.Candle `json:"series"`
	DryRun bool                       `json:"dry_run,omitempty"`
}

// Params converts the batch into analysis input, ordered by timeframe rank.
func (b CandleBatch) Params() (AnalyzeParams, error) {
	p := AnalyzeParams{Symbol: b.Symbol, DryRun: b.DryRun}
	for _, tf := range timeframeKeys(b.Series) {
		parsed, err := models.ParseTimeframe(tf)
		if err != nil {
			return p, fmt.Errorf("%w: %v", models.ErrValidation, err)
		}
		p.Series = append(p.Series, models.Series{Symbol: b.Symbol, Timeframe: parsed, Candles: b.Series[tf]})
	}
	return p, nil
}

// KafkaCandlesHandler runs an analysis for every candle batch on the candles topic.
type KafkaCandlesHandler struct {
	topic   string
	analyze *AnalyzeUseCase
	log     *applogger.Logger
	metrics domrepo.Metrics
}

func NewKafkaCandlesHandler(topic string, analyze *AnalyzeUseCase, log *applogger.Logger, metrics domrepo.Metrics) *KafkaCandlesHandler {
	log, metrics = orNop(log, metrics)
	return &KafkaCandlesHandler{topic: topic, analyze: analyze, log: log, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// Handle drops malformed batches instead of returning an error, since a retry cannot fix them.
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	var batch CandleBatch
	if err := json.Unmarshal(b, &batch); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		h.log.Warn("dropping undecodable candle batch", applogger.Error(err))
		return nil
	}
	p, err := batch.Params()
	if err != nil {
		h.metrics.RecordError("consumer_validation")
		h.log.Warn("dropping candle batch", applogger.String("symbol", batch.Symbol), applogger.Error(err))
		return nil
	}

	start := time.Now()
	report, err := h.analyze.Analyze(ctx, p)
	h.metrics.RecordLatency("consume_analyze", time.Since(start).Seconds())
	if errors.Is(err, models.ErrValidation) {
		h.log.Warn("rejected candle batch", applogger.String("symbol", batch.Symbol), applogger.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if report.Errors["emit"] != "" {
		return fmt.Errorf("emit: %s", report.Errors["emit"])
	}
	return nil
}

// OutcomeReport is an externally observed outcome of a recorded event.
type OutcomeReport struct {
	ID      string  `json:"id"`
	Outcome string  `json:"outcome"`
	Pips    float64 `json:"pips"`
}

// KafkaOutcomesHandler resolves memory records from the outcomes topic.
type KafkaOutcomesHandler struct {
	topic   string
	mem     domsvc.Memory
	log     *applogger.Logger
	metrics domrepo.Metrics
}

func NewKafkaOutcomesHandler(topic string, mem domsvc.Memory, log *applogger.Logger, metrics domrepo.Metrics) *KafkaOutcomesHandler {
	log, metrics = orNop(log, metrics)
	return &KafkaOutcomesHandler{topic: topic, mem: mem, log: log, metrics: metrics}
}

func orNop(log *applogger.Logger, metrics domrepo.Metrics) (*applogger.Logger, domrepo.Metrics) {
	if log == nil {
		log = applogger.Nop()
	}
	if metrics == nil {
		metrics = domrepo.NopMetrics{}
	}
	return log, metrics
}

func (h *KafkaOutcomesHandler) Topic() string { return h.topic }

func (h *KafkaOutcomesHandler) Handle(ctx context.Context, b []byte) error {
	var m OutcomeReport
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return nil
	}
	outcome, err := models.ParseOutcome(m.Outcome)
	if err != nil {
		h.log.Warn("dropping outcome report", applogger.String("id", m.ID), applogger.Error(err))
		return nil
	}
	err = h.mem.Resolve(ctx, m.ID, outcome, m.Pips)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrAlreadyResolved), errors.Is(err, models.ErrRecordNotFound):
		h.log.Debug("outcome report ignored", applogger.String("id", m.ID), applogger.Error(err))
		return nil
	default:
		h.metrics.RecordError("consumer_resolve")
		return err
	}
}

var (
	_ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaOutcomesHandler)(nil)
)
