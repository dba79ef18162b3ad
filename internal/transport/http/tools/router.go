package toolshttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tradeflow/internal/engine"
	"tradeflow/internal/session"
	"tradeflow/internal/store"

	"github.com/gin-gonic/gin"
)

// Tools 路由驱动的工作流接口，由 *engine.Engine 实现。
type Tools interface {
	StartOrResumeAnalysis(ctx context.Context, symbol string, reset bool) (engine.Status, error)
	RecordAnalysisStep(ctx context.Context, symbol, step string, data json.RawMessage) (engine.Status, error)
	ComputeStrategy(ctx context.Context, symbol string, spec engine.StrategySpec) (string, error)
	RequestExecution(ctx context.Context, req engine.ExecutionRequest) engine.Outcome
	GetSessionStatus(ctx context.Context, symbol string) (engine.Status, error)
	StartMonitoring(ctx context.Context, symbol string) (engine.Status, error)
	ResetSession(ctx context.Context, symbol, note string) (engine.Status, error)
	EvictSession(ctx context.Context, symbol string) (engine.Status, error)
	ListSessions(ctx context.Context) []session.Summary
	History(ctx context.Context, symbol string) ([]session.AuditEntry, error)
}

var _ Tools = (*engine.Engine)(nil)

const maxAuditLimit = 1000

type Router struct {
	tools Tools
	audit store.AuditStore
}

func NewRouter(tools Tools, audit store.AuditStore) *Router {
	return &Router{tools: tools, audit: audit}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/sessions", r.handleListSessions)
	group.GET("/sessions/:symbol", r.handleSessionStatus)
	group.DELETE("/sessions/:symbol", r.handleEvict)
	group.GET("/sessions/:symbol/history", r.handleHistory)
	group.POST("/sessions/:symbol/analysis", r.handleStartAnalysis)
	group.POST("/sessions/:symbol/steps/:step", r.handleRecordStep)
	group.POST("/sessions/:symbol/strategies", r.handleComputeStrategy)
	group.POST("/sessions/:symbol/monitoring", r.handleStartMonitoring)
	group.POST("/sessions/:symbol/reset", r.handleReset)
	group.POST("/executions", r.handleExecution)
	group.GET("/audit", r.handleAudit)
}

type errorBody struct {
	Code    engine.Code `json:"code"`
	Message string      `json:"message"`
	Remedy  string      `json:"remedy,omitempty"`
}

type analysisRequest struct {
	Reset bool `json:"reset"`
}

type stepRequest struct {
	Data json.RawMessage `json:"data"`
}

type strategyRequest struct {
	Spec *engine.StrategySpec `json:"spec"`
}

type resetRequest struct {
	Note string `json:"note"`
}

func (r *Router) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": engine.CodeOK, "sessions": r.tools.ListSessions(c.Request.Context())})
}

func (r *Router) handleSessionStatus(c *gin.Context) {
	st, err := r.tools.GetSessionStatus(c.Request.Context(), c.Param("symbol"))
	r.respondStatus(c, st, err)
}

func (r *Router) handleHistory(c *gin.Context) {
	entries, err := r.tools.History(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": engine.CodeOK, "entries": entries})
}

func (r *Router) handleStartAnalysis(c *gin.Context) {
	var req analysisRequest
	if !bindOptional(c, &req) {
		return
	}
	st, err := r.tools.StartOrResumeAnalysis(c.Request.Context(), c.Param("symbol"), req.Reset)
	r.respondStatus(c, st, err)
}

func (r *Router) handleRecordStep(c *gin.Context) {
	var req stepRequest
	if !bindOptional(c, &req) {
		return
	}
	st, err := r.tools.RecordAnalysisStep(c.Request.Context(), c.Param("symbol"), c.Param("step"), req.Data)
	r.respondStatus(c, st, err)
}

func (r *Router) handleComputeStrategy(c *gin.Context) {
	var req strategyRequest
	if !bindOptional(c, &req) {
		return
	}
	if req.Spec == nil {
		writeBody(c, errorBody{Code: engine.CodeInvalidInput, Message: "spec is required", Remedy: "send {\"spec\": {...}}"})
		return
	}
	id, err := r.tools.ComputeStrategy(c.Request.Context(), c.Param("symbol"), *req.Spec)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": engine.CodeOK, "strategy_id": id})
}

func (r *Router) handleStartMonitoring(c *gin.Context) {
	st, err := r.tools.StartMonitoring(c.Request.Context(), c.Param("symbol"))
	r.respondStatus(c, st, err)
}

func (r *Router) handleReset(c *gin.Context) {
	var req resetRequest
	if !bindOptional(c, &req) {
		return
	}
	st, err := r.tools.ResetSession(c.Request.Context(), c.Param("symbol"), req.Note)
	r.respondStatus(c, st, err)
}

func (r *Router) handleEvict(c *gin.Context) {
	st, err := r.tools.EvictSession(c.Request.Context(), c.Param("symbol"))
	r.respondStatus(c, st, err)
}

func (r *Router) handleExecution(c *gin.Context) {
	var req engine.ExecutionRequest
	if !bindOptional(c, &req) {
		return
	}
	out := r.tools.RequestExecution(c.Request.Context(), req)
	c.JSON(StatusFor(out.Code), out)
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.audit == nil {
		writeBody(c, errorBody{
			Code:    engine.CodeNotFound,
			Message: "audit store is not enabled",
			Remedy:  "set store.driver to sqlite or jsonl",
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	entries, err := r.audit.List(c.Request.Context(), strings.TrimSpace(c.Query("symbol")), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": engine.CodeOK, "entries": entries})
}

func (r *Router) respondStatus(c *gin.Context, st engine.Status, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": engine.CodeOK, "session": st})
}

// bindOptional 仅在请求带 body 时解析 JSON，出错时直接写回错误响应，
// 返回值表示 handler 是否继续。
func bindOptional(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		writeBody(c, errorBody{Code: engine.CodeInvalidInput, Message: "malformed JSON body: " + err.Error(), Remedy: "send a valid JSON object"})
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	var e *engine.Error
	if errors.As(err, &e) {
		writeBody(c, errorBody{Code: e.Code, Message: e.Message, Remedy: e.Remedy})
		return
	}
	writeBody(c, errorBody{Code: engine.CodeInternal, Message: err.Error(), Remedy: "see server logs"})
}

func writeBody(c *gin.Context, body errorBody) {
	c.JSON(StatusFor(body.Code), body)
}

// StatusFor 将结果码映射为 HTTP 状态码。
func StatusFor(code engine.Code) int {
	switch code {
	case engine.CodeOK:
		return http.StatusOK
	case engine.CodeInvalidInput:
		return http.StatusBadRequest
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodeIllegalTransition, engine.CodeStepOutOfOrder,
		engine.CodeAlreadyConsumed, engine.CodeExpired:
		return http.StatusConflict
	case engine.CodeConfirmationRequired:
		return http.StatusPreconditionFailed
	case engine.CodeRiskViolation:
		return http.StatusUnprocessableEntity
	case engine.CodeVenueTimeout:
		return http.StatusGatewayTimeout
	case engine.CodeVenueRejected:
		return http.StatusBadGateway
	case engine.CodeVenueUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
