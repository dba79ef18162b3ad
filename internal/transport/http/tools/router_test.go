package toolshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tradeflow/internal/engine"
	"tradeflow/internal/session"
	"tradeflow/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTools struct {
	mock.Mock
}

func (m *MockTools) StartOrResumeAnalysis(ctx context.Context, symbol string, reset bool) (engine.Status, error) {
	args := m.Called(ctx, symbol, reset)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) RecordAnalysisStep(ctx context.Context, symbol, step string, data json.RawMessage) (engine.Status, error) {
	args := m.Called(ctx, symbol, step, data)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) ComputeStrategy(ctx context.Context, symbol string, spec engine.StrategySpec) (string, error) {
	args := m.Called(ctx, symbol, spec)
	return args.String(0), args.Error(1)
}

func (m *MockTools) RequestExecution(ctx context.Context, req engine.ExecutionRequest) engine.Outcome {
	args := m.Called(ctx, req)
	return args.Get(0).(engine.Outcome)
}

func (m *MockTools) GetSessionStatus(ctx context.Context, symbol string) (engine.Status, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) StartMonitoring(ctx context.Context, symbol string) (engine.Status, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) ResetSession(ctx context.Context, symbol, note string) (engine.Status, error) {
	args := m.Called(ctx, symbol, note)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) EvictSession(ctx context.Context, symbol string) (engine.Status, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(engine.Status), args.Error(1)
}

func (m *MockTools) ListSessions(ctx context.Context) []session.Summary {
	args := m.Called(ctx)
	return args.Get(0).([]session.Summary)
}

func (m *MockTools) History(ctx context.Context, symbol string) ([]session.AuditEntry, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).([]session.AuditEntry), args.Error(1)
}

func newTestServer(t *testing.T, tools Tools, audit store.AuditStore) http.Handler {
	t.Helper()
	srv, err := NewServer(ServerConfig{Tools: tools, Audit: audit})
	require.NoError(t, err)
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, new(MockTools), nil)
	rec, body := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStartAnalysisPassesReset(t *testing.T) {
	tools := new(MockTools)
	tools.On("StartOrResumeAnalysis", mock.Anything, "spy", true).
		Return(engine.Status{Symbol: "SPY", Phase: session.PhaseAnalyzing}, nil)
	h := newTestServer(t, tools, nil)

	rec, body := do(t, h, http.MethodPost, "/api/sessions/spy/analysis", `{"reset":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["code"])
	sess := body["session"].(map[string]any)
	assert.Equal(t, "ANALYZING", sess["phase"])
	tools.AssertExpectations(t)
}

func TestStartAnalysisWithoutBody(t *testing.T) {
	tools := new(MockTools)
	tools.On("StartOrResumeAnalysis", mock.Anything, "QQQ", false).Return(engine.Status{Symbol: "QQQ"}, nil)
	h := newTestServer(t, tools, nil)

	rec, _ := do(t, h, http.MethodPost, "/api/sessions/QQQ/analysis", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	tools.AssertExpectations(t)
}

func TestRecordStepErrorMapping(t *testing.T) {
	tools := new(MockTools)
	tools.On("RecordAnalysisStep", mock.Anything, "SPY", "direction", json.RawMessage(`{"bias":"bullish"}`)).
		Return(engine.Status{}, &engine.Error{Code: engine.CodeStepOutOfOrder, Message: "expected volatility", Remedy: "record volatility first"})
	h := newTestServer(t, tools, nil)

	rec, body := do(t, h, http.MethodPost, "/api/sessions/SPY/steps/direction", `{"data":{"bias":"bullish"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "STEP_OUT_OF_ORDER", body["code"])
	assert.Equal(t, "record volatility first", body["remedy"])
}

func TestEvictSession(t *testing.T) {
	tools := new(MockTools)
	tools.On("EvictSession", mock.Anything, "SPY").Return(engine.Status{Symbol: "SPY", Phase: session.PhaseClosed}, nil)
	tools.On("EvictSession", mock.Anything, "QQQ").
		Return(engine.Status{}, &engine.Error{Code: engine.CodeIllegalTransition, Message: "cannot evict ANALYZING session QQQ"})
	h := newTestServer(t, tools, nil)

	rec, body := do(t, h, http.MethodDelete, "/api/sessions/SPY", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["code"])

	rec, body = do(t, h, http.MethodDelete, "/api/sessions/QQQ", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ILLEGAL_TRANSITION", body["code"])
	tools.AssertExpectations(t)
}

func TestMalformedBodyIsInvalidInput(t *testing.T) {
	h := newTestServer(t, new(MockTools), nil)
	rec, body := do(t, h, http.MethodPost, "/api/executions", `{"strategy_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.NotEmpty(t, body["remedy"])
}

func TestComputeStrategyRequiresSpec(t *testing.T) {
	h := newTestServer(t, new(MockTools), nil)
	rec, body := do(t, h, http.MethodPost, "/api/sessions/SPY/strategies", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])
}

func TestComputeStrategyReturnsID(t *testing.T) {
	tools := new(MockTools)
	tools.On("ComputeStrategy", mock.Anything, "SPY", mock.AnythingOfType("strategy.Definition")).Return("strat-1", nil)
	h := newTestServer(t, tools, nil)

	rec, body := do(t, h, http.MethodPost, "/api/sessions/SPY/strategies", `{"spec":{"structure":"bull_call_spread"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "strat-1", body["strategy_id"])
}

func TestExecutionOutcomeStatus(t *testing.T) {
	tools := new(MockTools)
	tools.On("RequestExecution", mock.Anything, mock.MatchedBy(func(req engine.ExecutionRequest) bool {
		return req.StrategyID == "s1" && req.ConfirmToken == ""
	})).Return(engine.Outcome{Code: engine.CodeConfirmationRequired, Message: "immediate order", Remedy: "confirm"})
	h := newTestServer(t, tools, nil)

	rec, body := do(t, h, http.MethodPost, "/api/executions", `{"strategy_id":"s1","params":{"order_type":"MKT"}}`)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "CONFIRMATION_REQUIRED", body["code"])
	assert.Equal(t, "confirm", body["remedy"])
}

func TestAuditRequiresStore(t *testing.T) {
	h := newTestServer(t, new(MockTools), nil)
	rec, body := do(t, h, http.MethodGet, "/api/audit?symbol=SPY", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

type fakeAudit struct {
	store.Nop
	symbol string
	limit  int
}

func (f *fakeAudit) List(_ context.Context, symbol string, limit int) ([]session.AuditEntry, error) {
	f.symbol, f.limit = symbol, limit
	return []session.AuditEntry{{Seq: 7, Symbol: "SPY"}}, nil
}

func TestAuditListsFromStore(t *testing.T) {
	audit := &fakeAudit{}
	h := newTestServer(t, new(MockTools), audit)
	rec, body := do(t, h, http.MethodGet, "/api/audit?symbol=SPY&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SPY", audit.symbol)
	assert.Equal(t, 5, audit.limit)
	assert.Len(t, body["entries"], 1)
}

func TestStatusFor(t *testing.T) {
	cases := map[engine.Code]int{
		engine.CodeOK:                   200,
		engine.CodeInvalidInput:         400,
		engine.CodeNotFound:             404,
		engine.CodeIllegalTransition:    409,
		engine.CodeAlreadyConsumed:      409,
		engine.CodeConfirmationRequired: 412,
		engine.CodeRiskViolation:        422,
		engine.CodeVenueRejected:        502,
		engine.CodeVenueUnavailable:     503,
		engine.CodeVenueTimeout:         504,
		engine.CodeInternal:             500,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusFor(code), string(code))
	}
}

func TestNewServerRequiresTools(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}
