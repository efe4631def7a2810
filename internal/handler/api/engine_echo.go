package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"PatternMemory/internal/domain/models"
	domsvc "PatternMemory/internal/domain/service"
	icache "PatternMemory/internal/service/cache"
	"PatternMemory/internal/usecase"
	xhttp "PatternMemory/pkg/http"
	applogger "PatternMemory/pkg/logger"
	"PatternMemory/pkg/util"
)

// MemoryStore is the part of the memory store the API reads and mutates.
type MemoryStore interface {
	domsvc.Memory
	Get(id string) (models.MemoryRecord, bool)
	Stats() models.MemoryStats
	Tolerance(symbol string) float64
}

// StoredAnalyzer analyzes candles already held in the candle store.
type StoredAnalyzer interface {
	AnalyzeStored(ctx context.Context, symbol string, n int) (*models.AnalysisReport, error)
}

// SnapshotSaver forces a memory snapshot.
type SnapshotSaver interface {
	Save(ctx context.Context) error
}

const statsTTL = 5 * time.Second

// EngineHandler serves analysis and memory endpoints under /api/v1.
type EngineHandler struct {
	log      *applogger.Logger
	analyze  *usecase.AnalyzeUseCase
	mem      MemoryStore
	stored   StoredAnalyzer
	snapshot SnapshotSaver
	cache    *icache.TTLCache
	limit    echo.MiddlewareFunc
}

type EngineOption func(*EngineHandler)

// WithStoredAnalyzer enables GET /analyze/stored.
func WithStoredAnalyzer(s StoredAnalyzer) EngineOption {
	return func(h *EngineHandler) { h.stored = s }
}

// WithSnapshotSaver enables POST /memory/snapshot.
func WithSnapshotSaver(s SnapshotSaver) EngineOption {
	return func(h *EngineHandler) { h.snapshot = s }
}

// WithRateLimit guards the write endpoints.
func WithRateLimit(mw echo.MiddlewareFunc) EngineOption {
	return func(h *EngineHandler) { h.limit = mw }
}

func NewEngineHandler(log *applogger.Logger, analyze *usecase.AnalyzeUseCase, mem MemoryStore, opts ...EngineOption) *EngineHandler {
	if log == nil {
		log = applogger.Nop()
	}
	h := &EngineHandler{log: log, analyze: analyze, mem: mem, cache: icache.NewTTLCache()}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *EngineHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")
	var guarded []echo.MiddlewareFunc
	if h.limit != nil {
		guarded = append(guarded, h.limit)
	}
	g.POST("/analyze", h.Analyze, guarded...)
	g.GET("/analyze/stored", h.AnalyzeStored, guarded...)
	g.GET("/memory/similar", h.Similar)
	g.GET("/memory/records/:id", h.Record)
	g.GET("/memory/stats", h.Stats)
	g.POST("/memory/resolve", h.Resolve, guarded...)
	g.POST("/memory/snapshot", h.Snapshot, guarded...)
}

func (h *EngineHandler) Analyze(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	p, err := usecase.CandleBatch{Symbol: symbol, Series: req.Series, DryRun: req.DryRun}.Params()
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	report, err := h.analyze.Analyze(c.Request().Context(), p)
	if err != nil {
		h.log.Warn("analyze rejected", applogger.String("symbol", symbol), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *EngineHandler) AnalyzeStored(c echo.Context) error {
	if h.stored == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("candle store not configured"))
	}
	req := &models.StoredAnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.stored.AnalyzeStored(c.Request().Context(), util.NormalizeSymbol(req.Symbol), req.N)
	if err != nil {
		h.log.Error("stored analyze failed", applogger.String("symbol", req.Symbol), applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *EngineHandler) Similar(c echo.Context) error {
	req := &models.SimilarRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	tol := req.Tolerance
	if tol == 0 {
		tol = h.mem.Tolerance(symbol)
	}
	agg, err := h.mem.QuerySimilar(c.Request().Context(), models.SimilarQuery{
		Type:      models.PatternType(req.Type),
		Symbol:    symbol,
		Timeframe: models.Timeframe(req.TF),
		Direction: models.Direction(req.Direction),
		Level:     req.Level,
		Tolerance: tol,
	})
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.SuccessResponse(c, agg)
}

func (h *EngineHandler) Record(c echo.Context) error {
	id := c.Param("id")
	rec, ok := h.mem.Get(id)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("memory record %s not found", id))
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *EngineHandler) Stats(c echo.Context) error {
	if v, ok := h.cache.Get("stats"); ok {
		return xhttp.SuccessResponse(c, v)
	}
	s := h.mem.Stats()
	h.cache.Set("stats", s, statsTTL)
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.SuccessResponse(c, s)
}

func (h *EngineHandler) Resolve(c echo.Context) error {
	req := &models.ResolveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	outcome, err := models.ParseOutcome(req.Outcome)
	if err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	if err := h.mem.Resolve(c.Request().Context(), req.ID, outcome, req.Pips); err != nil {
		return xhttp.AppErrorResponse(c, appError(err))
	}
	rec, _ := h.mem.Get(req.ID)
	return xhttp.SuccessResponse(c, rec)
}

func (h *EngineHandler) Snapshot(c echo.Context) error {
	if h.snapshot == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("snapshots disabled"))
	}
	if err := h.snapshot.Save(c.Request().Context()); err != nil {
		h.log.Error("manual snapshot failed", applogger.Error(err))
		return xhttp.AppErrorResponse(c, appError(err))
	}
	return xhttp.DataResponse(c, http.StatusAccepted, h.mem.Stats())
}
