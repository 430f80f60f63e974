// Package ratelimit 提供 /api/ 的按 IP 固定窗口限流
//
// 生产环境用 Redis 计数器（多实例共享窗口），
// 未配置 Redis 时退化为进程内计数器。
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter 限流器：Allow 返回该 key 在当前窗口内是否放行
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// ============================================================================
// Redis 固定窗口
// ============================================================================

// RedisLimiter 基于 Redis INCR+EXPIRE 的固定窗口限流器
type RedisLimiter struct {
	rdb    *redis.Client
	window time.Duration
	max    int
}

// NewRedisLimiter 创建 Redis 限流器
func NewRedisLimiter(rdb *redis.Client, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, window: window, max: max}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	n, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		// 新窗口，设置过期
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(l.max), nil
}

// ============================================================================
// 进程内固定窗口（Redis 不可用时的退化实现）
// ============================================================================

// MemoryLimiter 进程内固定窗口限流器
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	window  time.Duration
	max     int
}

type bucket struct {
	start time.Time
	count int
}

// NewMemoryLimiter 创建进程内限流器
func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
	}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		l.buckets[key] = &bucket{start: now, count: 1}
		// 顺手清理过期桶，避免 map 无限增长
		if len(l.buckets) > 10000 {
			for k, v := range l.buckets {
				if now.Sub(v.start) >= l.window {
					delete(l.buckets, k)
				}
			}
		}
		return true, nil
	}
	b.count++
	return b.count <= l.max, nil
}

// ============================================================================
// HTTP 中间件
// ============================================================================

// Middleware 对 /api/ 下的请求按客户端 IP 限流，超限返回 429。
// 限流器出错时放行（fail open），不把限流故障放大成服务故障。
func Middleware(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), clientIP(r))
			if err != nil {
				log.Printf("[ratelimit] limiter error: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"too many requests, please try again later"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP 提取客户端 IP，优先取反向代理头
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
