package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	lg := ledger.New(store, store)
	cfg := Config{JWTSecret: "test-secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour}
	return NewHandler(store, lg, cfg, 100, 10*time.Minute), store
}

func doJSON(t *testing.T, h http.HandlerFunc, method, target string, body interface{}, user *AuthUser) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != nil {
		req = req.WithContext(WithAuthUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func registerUser(t *testing.T, h *Handler, username, email string) authResponse {
	t.Helper()
	rec := doJSON(t, h.Register, "POST", "/api/auth/register", registerRequest{
		Username: username,
		Email:    email,
		Password: "password123",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRegister(t *testing.T) {
	h, store := newTestHandler(t)

	resp := registerUser(t, h, "alice_01", "alice@example.com")
	require.NotNil(t, resp.User)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	// 欢迎积分通过账本发放
	assert.Equal(t, 100, resp.User.Points)
	txs, total, err := store.ListTransactions(context.Background(), storage.TransactionFilter{UserID: resp.User.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, model.TxRegistration, txs[0].Type)
	assert.Equal(t, 100, txs[0].BalanceAfter)
}

func TestRegisterValidation(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name string
		req  registerRequest
	}{
		{"缺少字段", registerRequest{Username: "bob_1"}},
		{"用户名太短", registerRequest{Username: "ab", Email: "b@example.com", Password: "password123"}},
		{"用户名非法字符", registerRequest{Username: "bob name", Email: "b@example.com", Password: "password123"}},
		{"邮箱非法", registerRequest{Username: "bob_1", Email: "not-an-email", Password: "password123"}},
		{"密码太短", registerRequest{Username: "bob_1", Email: "b@example.com", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.Register, "POST", "/api/auth/register", tt.req, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "alice_01", "alice@example.com")

	rec := doJSON(t, h.Register, "POST", "/api/auth/register", registerRequest{
		Username: "other_name", Email: "ALICE@example.com", Password: "password123",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h.Register, "POST", "/api/auth/register", registerRequest{
		Username: "alice_01", Email: "new@example.com", Password: "password123",
	}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin(t *testing.T) {
	h, store := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")

	rec := doJSON(t, h.Login, "POST", "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got authResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, resp.User.ID, got.User.ID)
	assert.NotEmpty(t, got.AccessToken)

	// last_login 已更新
	user, err := store.GetUser(context.Background(), resp.User.ID)
	require.NoError(t, err)
	assert.NotNil(t, user.LastLogin)
}

func TestLoginWrongPassword(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "alice_01", "alice@example.com")

	rec := doJSON(t, h.Login, "POST", "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "wrongpassword",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginDeactivatedAccount(t *testing.T) {
	h, store := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")

	user, err := store.GetUser(context.Background(), resp.User.ID)
	require.NoError(t, err)
	user.IsActive = false
	require.NoError(t, store.UpdateUser(context.Background(), user))

	rec := doJSON(t, h.Login, "POST", "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "password123",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefresh(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")

	rec := doJSON(t, h.Refresh, "POST", "/api/auth/refresh", refreshRequest{RefreshToken: resp.RefreshToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got["access_token"])

	// access token 不能当 refresh token 用
	rec = doJSON(t, h.Refresh, "POST", "/api/auth/refresh", refreshRequest{RefreshToken: resp.AccessToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeRequiresAuth(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, h.Me, "GET", "/api/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")
	user := &AuthUser{ID: resp.User.ID, Email: resp.User.Email, Role: "user"}

	bio := "vintage lover"
	first := "Alice"
	rec := doJSON(t, h.UpdateMe, "PUT", "/api/auth/me", updateProfileRequest{
		FirstName: &first,
		Bio:       &bio,
		Location:  &model.Location{City: "Lisbon", Country: "PT"},
	}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Alice", got.FirstName)
	assert.Equal(t, "vintage lover", got.Bio)
	require.NotNil(t, got.Location)
	assert.Equal(t, "Lisbon", got.Location.City)
}

func TestUpdatePassword(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")
	user := &AuthUser{ID: resp.User.ID, Email: resp.User.Email, Role: "user"}

	rec := doJSON(t, h.UpdatePassword, "PUT", "/api/auth/updatepassword", updatePasswordRequest{
		CurrentPassword: "wrongpassword", NewPassword: "newpassword1",
	}, user)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h.UpdatePassword, "PUT", "/api/auth/updatepassword", updatePasswordRequest{
		CurrentPassword: "password123", NewPassword: "newpassword1",
	}, user)
	require.Equal(t, http.StatusOK, rec.Code)

	// 新密码可登录
	rec = doJSON(t, h.Login, "POST", "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "newpassword1",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "alice_01", "alice@example.com")

	rec := doJSON(t, h.ForgotPassword, "POST", "/api/auth/forgotpassword", forgotPasswordRequest{
		Email: "alice@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	token := got["reset_token"]
	require.NotEmpty(t, token)

	// 通过 mux 走路径参数
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(resetPasswordRequest{Password: "resetpass99"}))
	req := httptest.NewRequest("PUT", "/api/auth/resetpassword/"+token, &buf)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	// 令牌一次性
	buf.Reset()
	require.NoError(t, json.NewEncoder(&buf).Encode(resetPasswordRequest{Password: "another999"}))
	req = httptest.NewRequest("PUT", "/api/auth/resetpassword/"+token, &buf)
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// 新密码生效
	rec = doJSON(t, h.Login, "POST", "/api/auth/login", loginRequest{
		Email: "alice@example.com", Password: "resetpass99",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	h, _ := newTestHandler(t)

	// 不存在的邮箱返回同样的提示，不泄露注册状态
	rec := doJSON(t, h.ForgotPassword, "POST", "/api/auth/forgotpassword", forgotPasswordRequest{
		Email: "ghost@example.com",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Empty(t, got["reset_token"])
}

func TestCheckUsernameAndEmail(t *testing.T) {
	h, _ := newTestHandler(t)
	registerUser(t, h, "alice_01", "alice@example.com")

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	check := func(target string) map[string]bool {
		req := httptest.NewRequest("GET", target, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		var got map[string]bool
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
		return got
	}

	assert.False(t, check("/api/auth/check-username/alice_01")["available"])
	assert.True(t, check("/api/auth/check-username/brand_new")["available"])
	assert.False(t, check("/api/auth/check-email/alice@example.com")["available"])
	assert.True(t, check("/api/auth/check-email/free@example.com")["available"])
}

func TestDeactivate(t *testing.T) {
	h, store := newTestHandler(t)
	resp := registerUser(t, h, "alice_01", "alice@example.com")
	user := &AuthUser{ID: resp.User.ID, Email: resp.User.Email, Role: "user"}

	rec := doJSON(t, h.Deactivate, "DELETE", "/api/auth/deactivate", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetUser(context.Background(), resp.User.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestTokenRoundTrip(t *testing.T) {
	cfg := Config{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: time.Hour}

	token, err := GenerateAccessToken(cfg, "usr-1", "a@example.com", "admin")
	require.NoError(t, err)

	claims, err := ParseToken(cfg, token)
	require.NoError(t, err)
	assert.Equal(t, "usr-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "access", claims.Type)

	// 错误密钥解析失败
	_, err = ParseToken(Config{JWTSecret: "other"}, token)
	assert.Error(t, err)
}

func TestMiddlewarePublicRoutes(t *testing.T) {
	cfg := Config{JWTSecret: "secret", AccessTokenTTL: time.Hour}
	mw := Middleware(cfg)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"注册公开", "POST", "/api/auth/register", "", http.StatusOK},
		{"物品列表公开", "GET", "/api/items", "", http.StatusOK},
		{"物品详情公开", "GET", "/api/items/itm-1", "", http.StatusOK},
		{"my-items 需要认证", "GET", "/api/items/my-items", "", http.StatusUnauthorized},
		{"健康检查公开", "GET", "/health", "", http.StatusOK},
		{"创建物品需要认证", "POST", "/api/items", "", http.StatusUnauthorized},
		{"交换列表需要认证", "GET", "/api/swaps/my-swaps", "", http.StatusUnauthorized},
		{"积分流水需要认证", "GET", "/api/users/u1/points", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rr := httptest.NewRecorder()
			mw(next).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestMiddlewareValidToken(t *testing.T) {
	cfg := Config{JWTSecret: "secret", AccessTokenTTL: time.Hour}
	token, err := GenerateAccessToken(cfg, "usr-1", "a@example.com", "user")
	require.NoError(t, err)

	var seen *AuthUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("POST", "/api/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	Middleware(cfg)(next).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "usr-1", seen.ID)
}

func TestMiddlewareTokenOnPublicRoute(t *testing.T) {
	cfg := Config{JWTSecret: "secret", AccessTokenTTL: time.Hour}
	token, err := GenerateAccessToken(cfg, "usr-owner", "o@example.com", "user")
	require.NoError(t, err)

	var seen *AuthUser
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAuthUser(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	mw := Middleware(cfg)

	t.Run("有效令牌在公开路由注入身份", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest("GET", "/api/items/itm-1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		mw(next).ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "usr-owner", seen.ID)
	})

	t.Run("无效令牌在公开路由按匿名处理", func(t *testing.T) {
		seen = nil
		req := httptest.NewRequest("GET", "/api/items/itm-1", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rr := httptest.NewRecorder()
		mw(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, seen)
	})

	t.Run("无效令牌在受保护路由仍拒绝", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/items", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rr := httptest.NewRecorder()
		mw(next).ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestAdminOnly(t *testing.T) {
	handler := AdminOnly(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	req = req.WithContext(WithAuthUser(req.Context(), &AuthUser{ID: "u1", Role: "user"}))
	rr := httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest("GET", "/api/admin/dashboard", nil)
	req = req.WithContext(WithAuthUser(req.Context(), &AuthUser{ID: "u2", Role: "admin"}))
	rr = httptest.NewRecorder()
	handler(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
