// Package user 用户公开资料与个人数据的 HTTP 处理器
package user

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"rewear/internal/apiserver/auth"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

// Handler 用户 HTTP 处理器
type Handler struct {
	users  storage.UserStore
	items  storage.ItemStore
	swaps  storage.SwapStore
	ledger *ledger.Ledger
}

// NewHandler 创建用户处理器
func NewHandler(users storage.UserStore, items storage.ItemStore, swaps storage.SwapStore, lg *ledger.Ledger) *Handler {
	return &Handler{users: users, items: items, swaps: swaps, ledger: lg}
}

// RegisterRoutes 注册用户相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", h.List)
	mux.HandleFunc("GET /api/users/search", h.Search)
	mux.HandleFunc("GET /api/users/{id}", h.Get)
	mux.HandleFunc("GET /api/users/{id}/items", h.Items)
	mux.HandleFunc("GET /api/users/{id}/swaps", h.Swaps)
	mux.HandleFunc("GET /api/users/{id}/points", h.Points)
	mux.HandleFunc("GET /api/users/{id}/stats", h.Stats)
}

// ============================================================================
// Handlers
// ============================================================================

// List 活跃用户列表（公开，只返回公开资料视图）
//
// 路由: GET /api/users?page=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, total, err := h.users.ListUsers(r.Context(), storage.UserFilter{
		ActiveOnly: true,
		Page:       parseInt(q.Get("page"), 1),
		Limit:      clampLimit(parseInt(q.Get("limit"), 20)),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": publicProfiles(users),
		"total": total,
	})
}

// Search 按用户名/姓名搜索（公开）
//
// 路由: GET /api/users/search?q=
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	term := q.Get("q")
	if term == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	users, total, err := h.users.ListUsers(r.Context(), storage.UserFilter{
		Search:     term,
		ActiveOnly: true,
		Page:       parseInt(q.Get("page"), 1),
		Limit:      clampLimit(parseInt(q.Get("limit"), 20)),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": publicProfiles(users),
		"total": total,
	})
}

// Get 公开资料（本人或管理员看到完整记录）
//
// 路由: GET /api/users/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	viewer := auth.GetAuthUser(r.Context())
	if viewer != nil && (viewer.ID == user.ID || viewer.IsAdmin()) {
		writeJSON(w, http.StatusOK, user)
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

// Items 用户的物品（他人只能看到 available 的）
//
// 路由: GET /api/users/{id}/items
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	viewer := auth.GetAuthUser(r.Context())

	q := r.URL.Query()
	filter := storage.ItemFilter{
		OwnerID: userID,
		Page:    parseInt(q.Get("page"), 1),
		Limit:   clampLimit(parseInt(q.Get("limit"), 20)),
	}
	if viewer == nil || (viewer.ID != userID && !viewer.IsAdmin()) {
		filter.Status = model.ItemStatusAvailable
	}

	items, total, err := h.items.ListItems(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

// Swaps 用户参与的交换（仅本人或管理员）
//
// 路由: GET /api/users/{id}/swaps
func (h *Handler) Swaps(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	viewer := auth.GetAuthUser(r.Context())
	if viewer == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if viewer.ID != userID && !viewer.IsAdmin() {
		writeError(w, http.StatusForbidden, "cannot view another user's swaps")
		return
	}

	q := r.URL.Query()
	swaps, total, err := h.swaps.ListSwaps(r.Context(), storage.SwapFilter{
		UserID: userID,
		Status: model.SwapStatus(q.Get("status")),
		Page:   parseInt(q.Get("page"), 1),
		Limit:  clampLimit(parseInt(q.Get("limit"), 20)),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list swaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"swaps": swaps, "total": total})
}

// Points 余额与账本历史（仅本人或管理员）
//
// 路由: GET /api/users/{id}/points?type=&from=&to=
func (h *Handler) Points(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	viewer := auth.GetAuthUser(r.Context())
	if viewer == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if viewer.ID != userID && !viewer.IsAdmin() {
		writeError(w, http.StatusForbidden, "cannot view another user's points")
		return
	}

	user, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	q := r.URL.Query()
	filter := storage.TransactionFilter{
		UserID: userID,
		Type:   model.TransactionType(q.Get("type")),
		Page:   parseInt(q.Get("page"), 1),
		Limit:  clampLimit(parseInt(q.Get("limit"), 20)),
	}
	if from := parseDate(q.Get("from")); from != nil {
		filter.From = from
	}
	if to := parseDate(q.Get("to")); to != nil {
		filter.To = to
	}

	txs, total, err := h.ledger.History(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":      user.Points,
		"transactions": txs,
		"total":        total,
	})
}

// profileStats 用户主页统计
type profileStats struct {
	ItemsListed    int                `json:"items_listed"`
	ItemsAvailable int                `json:"items_available"`
	ItemsSwapped   int                `json:"items_swapped"`
	SwapsCompleted int                `json:"swaps_completed"`
	Points         *model.PointsStats `json:"points,omitempty"`
}

// Stats 用户主页统计（公开，积分部分仅本人或管理员可见）
//
// 路由: GET /api/users/{id}/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if _, err := h.users.GetUser(r.Context(), userID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	var stats profileStats
	_, listed, err := h.items.ListItems(r.Context(), storage.ItemFilter{OwnerID: userID, Limit: 1, Page: 1})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	stats.ItemsListed = listed

	for status, dst := range map[model.ItemStatus]*int{
		model.ItemStatusAvailable: &stats.ItemsAvailable,
		model.ItemStatusSwapped:   &stats.ItemsSwapped,
	} {
		_, n, err := h.items.ListItems(r.Context(), storage.ItemFilter{OwnerID: userID, Status: status, Limit: 1, Page: 1})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load stats")
			return
		}
		*dst = n
	}

	_, completed, err := h.swaps.ListSwaps(r.Context(), storage.SwapFilter{
		UserID: userID, Status: model.SwapStatusCompleted, Limit: 1, Page: 1,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	stats.SwapsCompleted = completed

	viewer := auth.GetAuthUser(r.Context())
	if viewer != nil && (viewer.ID == userID || viewer.IsAdmin()) {
		ps, err := h.ledger.Stats(r.Context(), userID)
		if err == nil {
			stats.Points = ps
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// ============================================================================
// 工具函数
// ============================================================================

func publicProfiles(users []*model.User) []*model.PublicProfile {
	out := make([]*model.PublicProfile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		if t, err = time.Parse("2006-01-02", s); err != nil {
			return nil
		}
	}
	return &t
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
