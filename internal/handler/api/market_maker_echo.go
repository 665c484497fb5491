package api

import (
	"errors"
	"io"
	"time"

	models "QuoteFlow/internal/domain/models"
	domrepo "QuoteFlow/internal/domain/repository"
	"QuoteFlow/internal/service/codec"
	"QuoteFlow/internal/usecase"
	xhttp "QuoteFlow/pkg/http"
	xlogger "QuoteFlow/pkg/logger"

	"github.com/labstack/echo/v4"
)

const maxEventBody = 1 << 20

// FeedStatusSource reports market data connectivity.
type FeedStatusSource interface {
	Status() usecase.FeedStatus
}

// LedgerView is the ledger with its mark-to-market PnL at the current mid.
type LedgerView struct {
	models.LedgerState
	Mark       float64 `json:"mark"`
	Unrealized float64 `json:"unrealized_pnl"`
	KillSwitch bool    `json:"kill_switch"`
	StopLoss   bool    `json:"stop_loss"`
}

// HealthView is the /healthz body.
type HealthView struct {
	Status  string              `json:"status"`
	Feed    *usecase.FeedStatus `json:"feed,omitempty"`
	Journal string              `json:"journal,omitempty"`
	Queue   int                 `json:"queue_depth"`
}

// QueueDepth is implemented by the event pipeline.
type QueueDepth interface {
	Depth() int
}

// MarketMakerEchoHandler exposes the market maker over Echo.
type MarketMakerEchoHandler struct {
	logger  *xlogger.Logger
	mm      *usecase.MarketMaker
	cycle   *usecase.QuoteCycle
	events  usecase.EventSubmitter
	journal domrepo.Journal
	feed    FeedStatusSource
	now     func() time.Time
}

// NewMarketMakerEchoHandler builds the handler. journal and feed may be nil when disabled.
func NewMarketMakerEchoHandler(
	logger *xlogger.Logger,
	mm *usecase.MarketMaker,
	cycle *usecase.QuoteCycle,
	events usecase.EventSubmitter,
	journal domrepo.Journal,
	feed FeedStatusSource,
) *MarketMakerEchoHandler {
	return &MarketMakerEchoHandler{
		logger:  logger.With(xlogger.String("component", "api")),
		mm:      mm,
		cycle:   cycle,
		events:  events,
		journal: journal,
		feed:    feed,
		now:     time.Now,
	}
}

func (h *MarketMakerEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/snapshot", h.Snapshot)
	g.GET("/quotes", h.Quotes)
	g.GET("/quotes/published", h.Published)
	g.GET("/ledger", h.Ledger)
	g.POST("/fills", h.Fill)
	g.POST("/events", h.Events)
	g.GET("/journal", h.Journal)
	g.POST("/killswitch", h.KillSwitch)
}

func (h *MarketMakerEchoHandler) Snapshot(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.mm.CurrentSnapshot())
}

// Quotes proposes and risk-checks quotes on the current snapshot without publishing them.
func (h *MarketMakerEchoHandler) Quotes(c echo.Context) error {
	set, _, err := h.mm.NextQuotes()
	if err != nil {
		h.logger.Error("next quotes", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	return xhttp.SuccessResponse(c, codec.NewQuoteMessage(h.mm.Symbol(), set, h.now()))
}

func (h *MarketMakerEchoHandler) Published(c echo.Context) error {
	set, ok := h.cycle.LastPublished()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no quotes published yet"))
	}
	return xhttp.SuccessResponse(c, codec.NewQuoteMessage(h.mm.Symbol(), set, h.now()))
}

func (h *MarketMakerEchoHandler) Ledger(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, h.ledgerView(h.mm.Ledger()))
}

func (h *MarketMakerEchoHandler) ledgerView(l models.LedgerState) LedgerView {
	mark := h.mm.CurrentSnapshot().Mid
	v := LedgerView{
		LedgerState: l,
		Mark:        mark,
		KillSwitch:  h.mm.Risk().KillSwitch(),
		StopLoss:    h.mm.Risk().StopLoss(mark),
	}
	if mark > 0 {
		v.Unrealized = l.Unrealized(mark)
	}
	return v
}

func (h *MarketMakerEchoHandler) Fill(c echo.Context) error {
	req := &models.FillRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	side, err := models.ParseSide(req.Side)
	if err != nil {
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	st, err := h.cycle.ApplyFill(c.Request().Context(), models.Fill{
		Side:       side,
		Price:      req.Price,
		Size:       req.Size,
		Timestamp:  h.now().UTC(),
		ProposalID: req.ProposalID,
	})
	if err != nil {
		h.logger.Warn("fill rejected", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	return xhttp.SuccessResponse(c, h.ledgerView(st))
}

// Events accepts one envelope or an array and queues them for the pipeline.
// Events queued before a failure stay queued.
func (h *MarketMakerEchoHandler) Events(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBody))
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("read body").WithError(err))
	}
	events, err := codec.DecodeEvents(body)
	if err != nil {
		return xhttp.AppErrorResponse(c, mapError(err))
	}
	ctx := c.Request().Context()
	for i, ev := range events {
		if err := h.events.Submit(ctx, ev); err != nil {
			return xhttp.AppErrorResponse(c, mapError(err).WithParam("accepted", i))
		}
	}
	return xhttp.AcceptedResponse(c, map[string]int{"accepted": len(events)})
}

func (h *MarketMakerEchoHandler) Journal(c echo.Context) error {
	if h.journal == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("journal disabled"))
	}
	req := &models.JournalRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	switch req.Kind {
	case "snapshot":
		rows, err := h.journal.RecentSnapshots(ctx, h.mm.Symbol(), req.Limit)
		if err != nil {
			h.logger.Error("journal snapshots", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("journal query failed").WithError(err))
		}
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	default:
		rows, err := h.journal.RecentDecisions(ctx, h.mm.Symbol(), req.Limit)
		if err != nil {
			h.logger.Error("journal decisions", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("journal query failed").WithError(err))
		}
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	}
}

func (h *MarketMakerEchoHandler) KillSwitch(c echo.Context) error {
	req := &models.KillSwitchRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	h.mm.Risk().SetKillSwitch(req.Enabled)
	h.logger.Warn("kill switch changed", xlogger.Bool("enabled", req.Enabled))
	return xhttp.SuccessResponse(c, h.ledgerView(h.mm.Ledger()))
}

// Health is 200 while the feed is connected and the journal answers, 503 otherwise.
func (h *MarketMakerEchoHandler) Health(c echo.Context) error {
	v := HealthView{Status: "ok"}
	if q, ok := h.events.(QueueDepth); ok {
		v.Queue = q.Depth()
	}
	if h.feed != nil {
		st := h.feed.Status()
		v.Feed = &st
		if !st.Connected {
			v.Status = "degraded"
		}
	}
	if h.journal != nil {
		v.Journal = "ok"
		if err := h.journal.Health(c.Request().Context()); err != nil {
			v.Journal = err.Error()
			v.Status = "degraded"
		}
	}
	if v.Status != "ok" {
		return xhttp.ServiceUnavailableResponse(c, v)
	}
	return xhttp.SuccessResponse(c, v)
}

func mapError(err error) *xhttp.AppError {
	var in *models.InputError
	switch {
	case errors.As(err, &in):
		return xhttp.MalformedError(in.Field, in.Error()).WithError(err)
	case errors.Is(err, models.ErrMalformedInput):
		return xhttp.MalformedError("", err.Error()).WithError(err)
	case errors.Is(err, models.ErrQueueFull):
		return xhttp.UnavailableError("event queue full").WithError(err)
	case errors.Is(err, models.ErrDisconnected):
		return xhttp.UnavailableError("market data disconnected").WithError(err)
	case errors.Is(err, models.ErrInvariantViolation):
		return xhttp.InvariantError(err.Error()).WithError(err)
	}
	return xhttp.InternalError("internal error").WithError(err)
}
