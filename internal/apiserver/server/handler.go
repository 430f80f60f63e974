package server

import (
	"net/http"

	"rewear/api"
	"rewear/internal/apiserver/admin"
	"rewear/internal/apiserver/auth"
	"rewear/internal/apiserver/item"
	"rewear/internal/apiserver/swap"
	"rewear/internal/apiserver/user"
	"rewear/internal/shared/ratelimit"
)

// Router 返回配置好的 HTTP 路由
//
// 路由规则：
//
// 健康检查:
//   - GET /health - 服务健康检查
//   - GET /metrics - Prometheus 指标
//
// 认证 (Auth):
//   - POST /api/auth/register / login / refresh / logout / forgotpassword
//   - GET  /api/auth/me, check-username/{username}, check-email/{email}
//   - PUT  /api/auth/me, updatepassword, resetpassword/{token}
//   - DELETE /api/auth/deactivate
//
// 物品 (Item):
//   - GET/POST /api/items 及 {id} 下的详情、收藏、举报、图片上传
//
// 交换 (Swap):
//   - POST /api/swaps 发起，{id}/respond、complete、cancel、rate
//
// 用户 (User):
//   - GET /api/users 公开列表、{id} 资料、items/swaps/points/stats 子资源
//
// 管理后台 (Admin):
//   - /api/admin/* 看板、分析、用户管理、物品审核、账本冲正
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("GET /health", h.Health)

	// Prometheus 指标端点
	mux.Handle("GET /metrics", MetricsHandler())

	// OpenAPI 文档
	mux.HandleFunc("GET /api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(api.Spec)
	})

	authCfg := auth.Config{
		JWTSecret:       h.cfg.JWTSecret,
		AccessTokenTTL:  h.cfg.Auth.AccessTTL,
		RefreshTokenTTL: h.cfg.Auth.RefreshTTL,
	}

	// Auth 接口
	authHandler := auth.NewHandler(h.store, h.ledger, authCfg, h.cfg.Points.WelcomeBonus, h.cfg.Auth.ResetTTL)
	authHandler.RegisterRoutes(mux)

	// Item 接口
	itemHandler := item.NewHandler(h.store, h.store, h.images)
	itemHandler.RegisterRoutes(mux)

	// Swap 接口
	swapHandler := swap.NewHandler(h.store, h.store, h.store, h.ledger, h.cfg.Swaps.TTL)
	swapHandler.RegisterRoutes(mux)

	// User 接口
	userHandler := user.NewHandler(h.store, h.store, h.store, h.ledger)
	userHandler.RegisterRoutes(mux)

	// Admin 接口
	adminHandler := admin.NewHandler(h.store, h.ledger, h.images, h.cfg.Points.UploadReward)
	adminHandler.RegisterRoutes(mux)

	// 中间件链：metrics -> auth -> ratelimit -> cors+安全头
	apiHandler := h.metrics.MetricsMiddleware(mux)
	authedHandler := auth.Middleware(authCfg)(apiHandler)
	limitedHandler := ratelimit.Middleware(h.limiter)(authedHandler)
	return corsMiddleware(limitedHandler)
}

// corsMiddleware 添加 CORS 和安全响应头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
