package auth

import (
	"log"
	"net/http"
	"strings"
)

// 免认证路由白名单（前缀匹配）
var publicPrefixes = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/refresh",
	"/api/auth/forgotpassword",
	"/api/auth/resetpassword/",
	"/api/auth/check-username/",
	"/api/auth/check-email/",
	"/health",
	"/metrics",
	"/api/openapi.yaml",
}

// 免认证路由精确匹配
var publicExact = map[string]bool{
	"GET /api/items":            true,
	"GET /api/items/categories": true,
	"GET /api/users":            true,
	"GET /api/users/search":     true,
}

func isPublicRoute(method, path string) bool {
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if publicExact[method+" "+path] {
		return true
	}
	// 物品详情和相似推荐公开可读，my-items/favorites 除外
	if method == "GET" && strings.HasPrefix(path, "/api/items/") {
		rest := strings.TrimPrefix(path, "/api/items/")
		if rest != "my-items" && rest != "favorites" {
			return true
		}
	}
	// 公开用户资料：/api/users/{id}、/{id}/items、/{id}/stats
	if method == "GET" && strings.HasPrefix(path, "/api/users/") &&
		!strings.HasSuffix(path, "/swaps") && !strings.HasSuffix(path, "/points") {
		return true
	}
	return false
}

// Middleware 创建 JWT 认证中间件
//
// 公开路由也会尝试解析携带的令牌：物品详情、用户资料等接口
// 对物主/管理员有增强视图，匿名访客与解析失败统一走公开视图。
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			public := isPublicRoute(r.Method, r.URL.Path)

			// 提取 Bearer Token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				if public {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, `{"error":"invalid authorization header"}`, http.StatusUnauthorized)
				return
			}

			// 解析 JWT
			claims, err := ParseToken(cfg, parts[1])
			if err != nil || claims.Type != "access" {
				if public {
					// 公开路由上解析失败按匿名访客处理
					next.ServeHTTP(w, r)
					return
				}
				if err != nil {
					log.Printf("[auth] token parse error: %v", err)
					http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
					return
				}
				http.Error(w, `{"error":"invalid token type"}`, http.StatusUnauthorized)
				return
			}

			// 注入 auth user 到 context
			user := &AuthUser{
				ID:    claims.Subject,
				Email: claims.Email,
				Role:  claims.Role,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthUser(r.Context(), user)))
		})
	}
}

// AdminOnly 管理员专属路由中间件
func AdminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := GetAuthUser(r.Context())
		if user == nil || user.Role != UserRoleAdmin {
			http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// UserRoleAdmin 管理员角色常量（避免 model 包循环引用）
const UserRoleAdmin = "admin"
