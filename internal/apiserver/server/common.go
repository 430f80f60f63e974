// Package server 路由配置与核心基础设施
//
// 文件组织：
//   - common.go: Handler 定义、健康检查与通用工具函数
//   - handler.go: 路由装配与中间件链
//   - metrics.go: Prometheus 指标
package server

import (
	"encoding/json"
	"net/http"

	"rewear/internal/config"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/objstore"
	"rewear/internal/shared/ratelimit"
	"rewear/internal/shared/storage"
)

// Handler API 处理器
//
// Handler 是所有 HTTP API 的入口，负责：
//   - 将请求分发到各领域独立包（auth/item/swap/user/admin）
//   - 管理存储层、账本与对象存储连接
//   - 装配认证、限流、CORS 和指标中间件
type Handler struct {
	cfg    *config.Config
	store  storage.Store
	ledger *ledger.Ledger

	images  *objstore.Client  // 对象存储，可为 nil（降级为禁用图片上传）
	limiter ratelimit.Limiter // 限流器，可为 nil（不限流）

	metrics *Metrics
}

// NewHandler 创建 Handler 实例
//
// images 与 limiter 允许为 nil：对象存储或 Redis 不可用时
// 服务仍然启动，只是对应能力降级。
func NewHandler(cfg *config.Config, store storage.Store, lg *ledger.Ledger, images *objstore.Client, limiter ratelimit.Limiter) *Handler {
	return &Handler{
		cfg:     cfg,
		store:   store,
		ledger:  lg,
		images:  images,
		limiter: limiter,
		metrics: NewMetrics("rewear"),
	}
}

// GetMetrics 返回指标实例
func (h *Handler) GetMetrics() *Metrics {
	return h.metrics
}

// writeJSON 将数据以 JSON 格式写入 HTTP 响应
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Health 健康检查接口
//
// 路由: GET /health
//
// 用于负载均衡器和监控系统检查服务状态。
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
