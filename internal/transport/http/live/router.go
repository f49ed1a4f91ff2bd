package livehttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autotrade/internal/analysis/signal"
	"autotrade/internal/analysis/visual"
	"autotrade/internal/bot"
	brcfg "autotrade/internal/config"
	"autotrade/internal/execlog"
	"autotrade/internal/gate"
	"autotrade/internal/logger"
	"autotrade/internal/market"
	"autotrade/internal/order"
	"autotrade/internal/risk"
	"autotrade/internal/scanner"
	"autotrade/internal/store/gormstore"
	"autotrade/internal/store/journal"

	"github.com/gin-gonic/gin"
)

type Controller interface {
	Status() bot.Status
	Apply(cmd bot.Command) error
}

type Orders interface {
	Active() []order.TrackedOrder
	History(n int) []order.TrackedOrder
	ResolvePartial(ctx context.Context, id string, action order.Action) (order.Resolution, error)
}

type GateView interface {
	Stats() gate.Stats
	History(n int) []gate.Result
}

type RiskView interface {
	State() risk.RiskState
}

type ScannerView interface {
	Snapshot() []scanner.SymbolPriority
	TierCounts() map[scanner.Tier]int
}

type AttemptLog interface {
	Recent(n int) []execlog.ExecutionAttempt
	Stats() execlog.Stats
}

// OrderHistory 是落库后的订单与执行尝试。
type OrderHistory interface {
	ListOrders(ctx context.Context, symbol string, limit int) ([]order.TrackedOrder, error)
	ListAttempts(ctx context.Context, q gormstore.AttemptQuery) ([]execlog.ExecutionAttempt, error)
}

type BarSource interface {
	GetBars(ctx context.Context, sym, timeframe string, limit int) ([]market.Bar, error)
}

type DecisionJournal interface {
	List(ctx context.Context, q journal.Query) ([]gate.Result, error)
}

const (
	kindInvalidRequest    = "invalid_request"
	kindInvalidTransition = "invalid_transition"
	kindNotFound          = "not_found"
	kindUnavailable       = "unavailable"
	kindInternal          = "internal"
)

// Router 暴露 /api 下的状态与控制接口。
type Router struct {
	cfg ServerConfig
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{cfg: cfg}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/bot/status", r.handleStatus)
	group.POST("/bot/:cmd", r.handleCommand)
	group.GET("/orders", r.handleOrders)
	group.POST("/orders/:id/resolve", r.handleResolve)
	group.GET("/attempts", r.handleAttempts)
	group.GET("/gate/stats", r.handleGateStats)
	group.GET("/gate/decisions", r.handleGateDecisions)
	group.GET("/risk", r.handleRisk)
	group.GET("/scanner", r.handleScanner)
	group.GET("/chart", r.handleChart)
}

func fail(c *gin.Context, status int, kind string, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

func queryLimit(c *gin.Context, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query("limit")))
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.cfg.Bot.Status())
}

func (r *Router) handleCommand(c *gin.Context) {
	cmd, err := bot.ParseCommand(strings.ToLower(c.Param("cmd")))
	if err != nil {
		fail(c, http.StatusBadRequest, kindInvalidRequest, err)
		return
	}
	if err := r.cfg.Bot.Apply(cmd); err != nil {
		if errors.Is(err, bot.ErrInvalidTransition) {
			fail(c, http.StatusConflict, kindInvalidTransition, err)
			return
		}
		fail(c, http.StatusInternalServerError, kindInternal, err)
		return
	}
	logger.Infof("[api] bot %s ip=%s", cmd, c.ClientIP())
	c.JSON(http.StatusOK, r.cfg.Bot.Status())
}

func (r *Router) handleOrders(c *gin.Context) {
	if r.cfg.Orders == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("order monitor not configured"))
		return
	}
	limit := queryLimit(c, 50, 500)
	if strings.EqualFold(c.Query("source"), "db") {
		if r.cfg.History == nil {
			fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("order store disabled"))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		rows, err := r.cfg.History.ListOrders(ctx, c.Query("symbol"), limit)
		if err != nil {
			logger.Errorf("[api] list orders failed ip=%s err=%v", c.ClientIP(), err)
			fail(c, http.StatusInternalServerError, kindInternal, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"orders": rows})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active": r.cfg.Orders.Active(),
		"recent": r.cfg.Orders.History(limit),
	})
}

type resolveRequest struct {
	Action string `json:"action"`
}

func (r *Router) handleResolve(c *gin.Context) {
	if r.cfg.Orders == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("order monitor not configured"))
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, kindInvalidRequest, err)
		return
	}
	action, err := order.ParseAction(req.Action)
	if err != nil {
		fail(c, http.StatusBadRequest, kindInvalidRequest, err)
		return
	}
	id := c.Param("id")
	res, err := r.cfg.Orders.ResolvePartial(c.Request.Context(), id, action)
	switch {
	case err == nil:
		logger.Infof("[api] resolve %s action=%s remaining=%v ip=%s", id, action, res.Remaining, c.ClientIP())
		c.JSON(http.StatusOK, res)
	case errors.Is(err, order.ErrUnknownOrder):
		fail(c, http.StatusNotFound, kindNotFound, err)
	case errors.Is(err, order.ErrNotPartial), errors.Is(err, order.ErrAlreadyResolved):
		fail(c, http.StatusConflict, kindInvalidRequest, err)
	default:
		// 经纪商返回的错误按执行日志的分类输出。
		logger.Warnf("[api] resolve %s failed: %v", id, err)
		fail(c, http.StatusBadGateway, string(execlog.Classify(err)), err)
	}
}

func (r *Router) handleAttempts(c *gin.Context) {
	limit := queryLimit(c, 50, 500)
	if strings.EqualFold(c.Query("source"), "db") {
		if r.cfg.History == nil {
			fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("attempt store disabled"))
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		rows, err := r.cfg.History.ListAttempts(ctx, gormstore.AttemptQuery{
			Symbol:    c.Query("symbol"),
			ErrorKind: c.Query("kind"),
			Limit:     limit,
		})
		if err != nil {
			logger.Errorf("[api] list attempts failed ip=%s err=%v", c.ClientIP(), err)
			fail(c, http.StatusInternalServerError, kindInternal, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"attempts": rows})
		return
	}
	if r.cfg.Attempts == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("execution log not configured"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempts": r.cfg.Attempts.Recent(limit),
		"stats":    r.cfg.Attempts.Stats(),
	})
}

func (r *Router) handleGateStats(c *gin.Context) {
	if r.cfg.Gate == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("trade gate not configured"))
		return
	}
	c.JSON(http.StatusOK, r.cfg.Gate.Stats())
}

func (r *Router) handleGateDecisions(c *gin.Context) {
	limit := queryLimit(c, 50, 500)
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	decision := strings.ToLower(strings.TrimSpace(c.Query("decision")))
	if r.cfg.Journal != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		rows, err := r.cfg.Journal.List(ctx, journal.Query{Symbol: symbol, Decision: decision, Limit: limit})
		if err != nil {
			logger.Errorf("[api] gate decisions failed ip=%s err=%v", c.ClientIP(), err)
			fail(c, http.StatusInternalServerError, kindInternal, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"decisions": rows, "source": "journal"})
		return
	}
	if r.cfg.Gate == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("trade gate not configured"))
		return
	}
	// 内存环形缓冲区：先取全部再过滤。
	all := r.cfg.Gate.History(0)
	out := make([]gate.Result, 0, limit)
	for _, res := range all {
		if symbol != "" && res.Symbol != symbol {
			continue
		}
		if decision != "" && string(res.Decision) != decision {
			continue
		}
		out = append(out, res)
		if len(out) == limit {
			break
		}
	}
	c.JSON(http.StatusOK, gin.H{"decisions": out, "source": "memory"})
}

func (r *Router) handleRisk(c *gin.Context) {
	if r.cfg.Risk == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("risk governor not configured"))
		return
	}
	c.JSON(http.StatusOK, r.cfg.Risk.State())
}

func (r *Router) handleScanner(c *gin.Context) {
	if r.cfg.Scanner == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("scanner not configured"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbols":     r.cfg.Scanner.Snapshot(),
		"tier_counts": r.cfg.Scanner.TierCounts(),
	})
}

// handleChart 渲染单个标的的 K 线页面；有方向信号时叠加入场/止损/目标。
func (r *Router) handleChart(c *gin.Context) {
	if r.cfg.Bars == nil {
		fail(c, http.StatusServiceUnavailable, kindUnavailable, errors.New("market data not configured"))
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if sym == "" {
		fail(c, http.StatusBadRequest, kindInvalidRequest, errors.New("symbol is required"))
		return
	}
	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if timeframe == "" {
		timeframe = r.cfg.ChartTimeframe
	}
	if !brcfg.IsValidTimeframe(timeframe) {
		fail(c, http.StatusBadRequest, kindInvalidRequest, fmt.Errorf("invalid timeframe %q", timeframe))
		return
	}
	limit := queryLimit(c, 120, 1000)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	bars, err := r.cfg.Bars.GetBars(ctx, sym, timeframe, limit)
	if err != nil {
		logger.Warnf("[api] chart %s bars failed: %v", sym, err)
		fail(c, http.StatusBadGateway, string(execlog.Classify(err)), err)
		return
	}
	in := visual.ChartInput{Symbol: sym, Timeframe: timeframe, Bars: bars, Indicators: r.cfg.ChartSignal.Indicators}
	if sig, err := signal.Analyze(sym, bars, r.cfg.ChartSignal); err == nil {
		in.Signal = &sig
	}
	chart, err := visual.RenderHTML(in)
	if err != nil {
		if errors.Is(err, visual.ErrNoBars) {
			fail(c, http.StatusNotFound, kindNotFound, err)
			return
		}
		fail(c, http.StatusInternalServerError, kindInternal, err)
		return
	}
	c.Header("X-Chart-Description", chart.Description)
	c.Data(http.StatusOK, "text/html; charset=utf-8", chart.HTML)
}
