package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewear/internal/config"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/ratelimit"
	"rewear/internal/shared/storage"
)

// promauto 向全局 Registry 注册指标，整个测试进程只构造一次 Handler
func newRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Env:       config.EnvTest,
		JWTSecret: "test-secret",
		Auth: config.AuthConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
			ResetTTL:   10 * time.Minute,
		},
		Points: config.PointsConfig{WelcomeBonus: 100, UploadReward: 5},
		Swaps:  config.SwapsConfig{TTL: 7 * 24 * time.Hour, SweepInterval: time.Minute},
	}
	store := storage.NewMemStore()
	lg := ledger.New(store, store)
	limiter := ratelimit.NewMemoryLimiter(time.Minute, 1000)
	return NewHandler(cfg, store, lg, nil, limiter).Router()
}

func TestRouter(t *testing.T) {
	router := newRouter(t)

	do := func(method, target string, body interface{}) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, target, &buf)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("健康检查", func(t *testing.T) {
		rec := do("GET", "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("指标端点", func(t *testing.T) {
		rec := do("GET", "/metrics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("OpenAPI 文档", func(t *testing.T) {
		rec := do("GET", "/api/openapi.yaml", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "ReWear API")
	})

	t.Run("公开路由无需令牌", func(t *testing.T) {
		rec := do("GET", "/api/items", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("受保护路由需要令牌", func(t *testing.T) {
		rec := do("GET", "/api/auth/me", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("CORS 预检", func(t *testing.T) {
		rec := do("OPTIONS", "/api/items", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("安全响应头", func(t *testing.T) {
		rec := do("GET", "/api/items", nil)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	})

	t.Run("注册登录全链路", func(t *testing.T) {
		rec := do("POST", "/api/auth/register", map[string]string{
			"email":    "flow@example.com",
			"username": "flowuser",
			"password": "password123",
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			AccessToken string `json:"access_token"`
			User        struct {
				Points int `json:"points"`
			} `json:"user"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, 100, resp.User.Points)

		// 带令牌访问受保护路由
		req := httptest.NewRequest("GET", "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
		rec2 := httptest.NewRecorder()
		router.ServeHTTP(rec2, req)
		assert.Equal(t, http.StatusOK, rec2.Code)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/items/itm-1a2b3c", "/api/items/{id}"},
		{"/api/items/itm-1a2b3c/favorite", "/api/items/{id}/favorite"},
		{"/api/items/categories", "/api/items/categories"},
		{"/api/swaps/my-swaps", "/api/swaps/my-swaps"},
		{"/api/swaps/swp-abc123/complete", "/api/swaps/{id}/complete"},
		{"/api/users/usr-xyz/points", "/api/users/{id}/points"},
		{"/api/admin/transactions/txn-42/reverse", "/api/admin/transactions/{id}/reverse"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), tt.in)
	}
}
