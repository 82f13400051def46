package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/p2pmatching/internal/matching/application"
	"github.com/wyfcoding/p2pmatching/internal/matching/domain"
	"github.com/wyfcoding/p2pmatching/internal/matching/infrastructure/notifier"
	"github.com/wyfcoding/p2pmatching/internal/matching/infrastructure/pricing"
)

// memoryPool 进程内池存储，接口层测试用
type memoryPool struct {
	mu      sync.Mutex
	entries map[domain.PoolKey]map[string]*domain.Participant
}

func newMemoryPool() *memoryPool {
	return &memoryPool{entries: make(map[domain.PoolKey]map[string]*domain.Participant)}
}

func (f *memoryPool) Save(_ context.Context, p *domain.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain.PoolKey{Pair: p.CurrencyPair, Side: p.Side}
	if f.entries[key] == nil {
		f.entries[key] = make(map[string]*domain.Participant)
	}
	snapshot := *p
	f.entries[key][p.UserID] = &snapshot
	return nil
}

func (f *memoryPool) Delete(_ context.Context, pair string, side domain.Side, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries[domain.PoolKey{Pair: pair, Side: side}], userID)
	return nil
}

func (f *memoryPool) List(_ context.Context, pair string, side domain.Side) ([]*domain.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Participant, 0)
	for _, p := range f.entries[domain.PoolKey{Pair: pair, Side: side}] {
		snapshot := *p
		out = append(out, &snapshot)
	}
	return out, nil
}

func (f *memoryPool) PoolKeys(_ context.Context) ([]domain.PoolKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]domain.PoolKey, 0, len(f.entries))
	for key := range f.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := application.NewMatchingManager(
		newMemoryPool(),
		notifier.NewMockNotifier(),
		pricing.NewStaticPriceOracle(map[string]string{"EUR/USD": "1.08"}),
		application.ManagerConfig{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	handler := NewMatchingHandler(manager, application.NewMatchingQueryService(manager))

	r := gin.New()
	handler.RegisterRoutes(r.Group(""))
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func joinBody(userID, side string) map[string]any {
	return map[string]any{
		"user_id":       userID,
		"connection_id": "conn-" + userID,
		"side":          side,
		"currency_pair": "EUR/USD",
		"amount":        "100",
		"trust_score":   0.9,
	}
}

// joinPair 先后入池一对互补参与者并返回提案的 match_id
func joinPair(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", joinBody("bob", "SELL"))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", joinBody("alice", "BUY"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "match_id")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	matchID := findStringField(body, "match_id")
	require.NotEmpty(t, matchID)
	return matchID
}

// findStringField 在嵌套 JSON 对象中递归查找首个同名字符串字段
func findStringField(v any, field string) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	if s, ok := obj[field].(string); ok {
		return s
	}
	for _, nested := range obj {
		if s := findStringField(nested, field); s != "" {
			return s
		}
	}
	return ""
}

func TestJoinPoolEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", joinBody("alice", "BUY"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "participant_key")
}

func TestJoinPoolEndpoint_BadRequest(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/matching/pool/join", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := joinBody("alice", "HOLD")
	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMatchLifecycleEndpoints(t *testing.T) {
	r := newTestRouter(t)
	matchID := joinPair(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/v1/matching/matches/"+matchID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.ProposalStatusProposed))

	// 非当事方确认
	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/matches/"+matchID+"/accept", map[string]any{"user_id": "mallory"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/matches/"+matchID+"/accept", map[string]any{"user_id": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 终态提案的重复确认
	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/matches/"+matchID+"/accept", map[string]any{"user_id": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRejectEndpoint(t *testing.T) {
	r := newTestRouter(t)
	matchID := joinPair(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/matches/"+matchID+"/reject", map[string]any{"user_id": "bob"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(domain.ProposalStatusRejected))

	// user_id 缺失
	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/matches/"+matchID+"/reject", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMatchEndpoint_NotFound(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/v1/matching/matches/MTC-unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", joinBody("alice", "BUY"))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/heartbeat", map[string]any{
		"user_id": "alice", "currency_pair": "EUR/USD", "side": "BUY",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/heartbeat", map[string]any{
		"user_id": "alice", "currency_pair": "EUR/USD", "side": "HOLD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPoolStatsEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/join", joinBody("alice", "BUY"))
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/matching/pool/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_waiting")
}

func TestLeavePoolEndpoint(t *testing.T) {
	r := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/matching/pool/leave", map[string]any{
		"user_id": "ghost", "currency_pair": "EUR/USD", "side": "BUY",
	})
	assert.Equal(t, http.StatusOK, w.Code, "leaving when absent is idempotent")
}
