// Package admin 管理后台 HTTP 处理器
//
// 所有路由都包在 auth.AdminOnly 里，普通用户拿到 403。
package admin

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"rewear/internal/apiserver/auth"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/objstore"
	"rewear/internal/shared/storage"
)

// Handler 管理后台处理器
type Handler struct {
	store        storage.Store
	ledger       *ledger.Ledger
	images       *objstore.Client // 可为 nil
	uploadReward int
}

// NewHandler 创建管理后台处理器
func NewHandler(store storage.Store, lg *ledger.Ledger, images *objstore.Client, uploadReward int) *Handler {
	return &Handler{store: store, ledger: lg, images: images, uploadReward: uploadReward}
}

// RegisterRoutes 注册管理后台路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/dashboard", auth.AdminOnly(h.Dashboard))
	mux.HandleFunc("GET /api/admin/analytics", auth.AdminOnly(h.Analytics))
	mux.HandleFunc("GET /api/admin/activity", auth.AdminOnly(h.Activity))
	mux.HandleFunc("GET /api/admin/users", auth.AdminOnly(h.Users))
	mux.HandleFunc("PUT /api/admin/users/{id}/status", auth.AdminOnly(h.SetUserStatus))
	mux.HandleFunc("POST /api/admin/users/{id}/points", auth.AdminOnly(h.AdjustPoints))
	mux.HandleFunc("GET /api/admin/items", auth.AdminOnly(h.Items))
	mux.HandleFunc("PUT /api/admin/items/{id}/moderate", auth.AdminOnly(h.ModerateItem))
	mux.HandleFunc("PUT /api/admin/items/{id}/feature", auth.AdminOnly(h.FeatureItem))
	mux.HandleFunc("DELETE /api/admin/items/{id}", auth.AdminOnly(h.DeleteItem))
	mux.HandleFunc("POST /api/admin/transactions/{id}/reverse", auth.AdminOnly(h.ReverseTransaction))
}

// ============================================================================
// 看板与分析
// ============================================================================

// Dashboard 平台总览
//
// 路由: GET /api/admin/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userStats, err := h.store.UserStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load user stats")
		return
	}
	itemStats, err := h.store.ItemStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load item stats")
		return
	}
	swapStats, err := h.store.SwapStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load swap stats")
		return
	}

	weekAgo := time.Now().AddDate(0, 0, -7)
	newUsers, _ := h.store.CountUsersSince(ctx, weekAgo)
	newItems, _ := h.store.CountItemsSince(ctx, weekAgo)
	newSwaps, _ := h.store.CountSwapsSince(ctx, weekAgo)
	pendingItems, _ := h.store.CountItemsByStatus(ctx, model.ItemStatusPendingApproval)
	reportedItems, _ := h.store.CountReportedItems(ctx)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": userStats,
		"items": itemStats,
		"swaps": swapStats,
		"last_7_days": map[string]int{
			"new_users": newUsers,
			"new_items": newItems,
			"new_swaps": newSwaps,
		},
		"moderation_queue": map[string]int{
			"pending_items":  pendingItems,
			"reported_items": reportedItems,
		},
	})
}

// Analytics 按天的增长曲线与类别分布
//
// 路由: GET /api/admin/analytics?days=30
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	days := parseInt(r.URL.Query().Get("days"), 30)
	if days < 1 {
		days = 1
	}
	if days > 365 {
		days = 365
	}
	since := time.Now().AddDate(0, 0, -days)

	signups, err := h.store.DailySignups(ctx, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	uploads, err := h.store.DailyUploads(ctx, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	swaps, err := h.store.DailySwaps(ctx, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}
	categories, err := h.store.CategoryStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load analytics")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"days":           days,
		"daily_signups":  signups,
		"daily_uploads":  uploads,
		"daily_swaps":    swaps,
		"category_stats": categories,
	})
}

// Activity 最近动态（用户、物品、交换、账本）
//
// 路由: GET /api/admin/activity?limit=20
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := clampLimit(parseInt(r.URL.Query().Get("limit"), 20))

	users, _, err := h.store.ListUsers(ctx, storage.UserFilter{Page: 1, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	items, _, err := h.store.ListItems(ctx, storage.ItemFilter{Sort: "newest", Page: 1, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	swaps, _, err := h.store.ListSwaps(ctx, storage.SwapFilter{Page: 1, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}
	txs, err := h.store.ListRecentTransactions(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load activity")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recent_users":        users,
		"recent_items":        items,
		"recent_swaps":        swaps,
		"recent_transactions": txs,
	})
}

// ============================================================================
// 用户管理
// ============================================================================

// Users 全量用户列表（含停用用户和敏感字段之外的完整记录）
//
// 路由: GET /api/admin/users?search=&page=&limit=
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	users, total, err := h.store.ListUsers(r.Context(), storage.UserFilter{
		Search: q.Get("search"),
		Page:   parseInt(q.Get("page"), 1),
		Limit:  clampLimit(parseInt(q.Get("limit"), 20)),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "total": total})
}

type setStatusRequest struct {
	Active bool `json:"active"`
}

// SetUserStatus 启用/停用用户
//
// 路由: PUT /api/admin/users/{id}/status
func (h *Handler) SetUserStatus(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetAuthUser(r.Context())
	targetID := r.PathValue("id")

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	// 管理员不能停用自己，防止把最后一个管理员锁在门外
	if !req.Active && actor != nil && actor.ID == targetID {
		writeError(w, http.StatusBadRequest, "cannot deactivate your own account")
		return
	}

	user, err := h.store.GetUser(r.Context(), targetID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	user.IsActive = req.Active
	user.UpdatedAt = time.Now()
	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	log.Printf("[admin] user %s active=%v by %s", targetID, req.Active, actor.ID)
	writeJSON(w, http.StatusOK, user)
}

type adjustPointsRequest struct {
	Amount int    `json:"amount"` // 有符号：正为奖励、负为扣减
	Reason string `json:"reason"`
}

// AdjustPoints 手工调整用户积分
//
// 路由: POST /api/admin/users/{id}/points
func (h *Handler) AdjustPoints(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetAuthUser(r.Context())
	targetID := r.PathValue("id")

	var req adjustPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be non-zero")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	txType := model.TxAwarded
	if req.Amount < 0 {
		txType = model.TxDeducted
	}
	tx, err := h.ledger.Record(r.Context(), ledger.Entry{
		UserID:    targetID,
		Type:      txType,
		Amount:    req.Amount,
		Reason:    req.Reason,
		Reference: &model.Reference{Kind: model.RefUser, ID: targetID},
		Metadata:  &model.TransactionMetadata{AdminID: actor.ID},
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "user not found")
		case errors.Is(err, ledger.ErrInsufficientPoints):
			writeError(w, http.StatusBadRequest, "deduction would make balance negative")
		default:
			log.Printf("[admin] adjust points for %s: %v", targetID, err)
			writeError(w, http.StatusInternalServerError, "failed to adjust points")
		}
		return
	}

	log.Printf("[admin] %s adjusted points of %s by %d", actor.ID, targetID, req.Amount)
	writeJSON(w, http.StatusOK, tx)
}

// ============================================================================
// 物品审核
// ============================================================================

// Items 审核视角的物品列表（默认待审核队列）
//
// 路由: GET /api/admin/items?status=&reported=
func (h *Handler) Items(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ItemFilter{
		Status:   model.ItemStatus(q.Get("status")),
		Reported: q.Get("reported") == "true",
		Sort:     "oldest",
		Page:     parseInt(q.Get("page"), 1),
		Limit:    clampLimit(parseInt(q.Get("limit"), 20)),
	}
	if filter.Status == "" && !filter.Reported {
		filter.Status = model.ItemStatusPendingApproval
	}

	items, total, err := h.store.ListItems(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

type moderateRequest struct {
	Action string `json:"action"` // "approve" | "reject"
	Notes  string `json:"notes"`
}

// ModerateItem 审核物品：通过后发放挂牌奖励积分
//
// 路由: PUT /api/admin/items/{id}/moderate
func (h *Handler) ModerateItem(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetAuthUser(r.Context())
	itemID := r.PathValue("id")

	var req moderateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "approve" && req.Action != "reject" {
		writeError(w, http.StatusBadRequest, "action must be approve or reject")
		return
	}

	item, err := h.store.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	target := model.ItemStatusAvailable
	if req.Action == "reject" {
		target = model.ItemStatusRejected
	}
	// 条件转移保证同一物品不会被审核两次（也就不会重复发奖励）
	if err := h.store.TransitionItemStatus(r.Context(), itemID,
		model.ItemStatusPendingApproval, target); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "item is not pending approval")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to moderate item")
		}
		return
	}

	now := time.Now()
	item.Status = target
	item.ModerationNotes = req.Notes
	item.ModeratedBy = actor.ID
	item.ModeratedAt = &now
	item.UpdatedAt = now
	if err := h.store.UpdateItem(r.Context(), item); err != nil {
		log.Printf("[admin] save moderation fields for %s: %v", itemID, err)
	}

	if req.Action == "approve" && h.uploadReward > 0 {
		_, err := h.ledger.Record(r.Context(), ledger.Entry{
			UserID:    item.OwnerID,
			Type:      model.TxEarned,
			Amount:    h.uploadReward,
			Reason:    "Item listing approved",
			Reference: &model.Reference{Kind: model.RefItem, ID: item.ID},
			Metadata:  &model.TransactionMetadata{AdminID: actor.ID},
		})
		if err != nil {
			// 奖励发放失败不回滚审核结果，记录下来人工补发
			log.Printf("[admin] upload reward for %s (item %s): %v", item.OwnerID, item.ID, err)
		}
	}

	log.Printf("[admin] item %s %sd by %s", itemID, req.Action, actor.ID)
	writeJSON(w, http.StatusOK, item)
}

type featureRequest struct {
	Featured bool       `json:"featured"`
	Until    *time.Time `json:"until"`
}

// FeatureItem 设置/取消首页推荐
//
// 路由: PUT /api/admin/items/{id}/feature
func (h *Handler) FeatureItem(w http.ResponseWriter, r *http.Request) {
	var req featureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := h.store.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if req.Featured && item.Status != model.ItemStatusAvailable {
		writeError(w, http.StatusBadRequest, "only available items can be featured")
		return
	}

	item.Featured = req.Featured
	item.FeaturedUntil = req.Until
	if !req.Featured {
		item.FeaturedUntil = nil
	}
	item.UpdatedAt = time.Now()
	if err := h.store.UpdateItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem 管理员下架并删除物品
//
// 路由: DELETE /api/admin/items/{id}
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetAuthUser(r.Context())
	itemID := r.PathValue("id")

	item, err := h.store.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	open, err := h.store.HasOpenSwapForItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if open {
		writeError(w, http.StatusConflict, "item has an open swap, resolve it first")
		return
	}

	if err := h.store.DeleteItem(r.Context(), itemID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}
	if h.images != nil {
		for _, img := range item.Images {
			if err := h.images.Delete(r.Context(), img.Key); err != nil {
				log.Printf("[admin] delete image %s: %v", img.Key, err)
			}
		}
	}

	log.Printf("[admin] item %s deleted by %s", itemID, actor.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// 账本冲正
// ============================================================================

type reverseRequest struct {
	Reason string `json:"reason"`
}

// ReverseTransaction 冲正一笔账本交易
//
// 路由: POST /api/admin/transactions/{id}/reverse
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	actor := auth.GetAuthUser(r.Context())
	txID := r.PathValue("id")

	var req reverseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, "reason is required")
		return
	}

	comp, err := h.ledger.Reverse(r.Context(), txID, req.Reason, actor.ID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, ledger.ErrAlreadyReversed):
			writeError(w, http.StatusConflict, "transaction already reversed")
		case errors.Is(err, ledger.ErrInsufficientPoints):
			writeError(w, http.StatusBadRequest, "reversal would make balance negative")
		default:
			log.Printf("[admin] reverse %s: %v", txID, err)
			writeError(w, http.StatusInternalServerError, "failed to reverse transaction")
		}
		return
	}

	log.Printf("[admin] transaction %s reversed by %s", txID, actor.ID)
	writeJSON(w, http.StatusOK, comp)
}

// ============================================================================
// 工具函数
// ============================================================================

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
