// Package swap 交换请求 HTTP 处理器
//
// 状态变更都通过 storage 的条件更新完成，
// 并发的重复操作会拿到 storage.ErrConflict 而不是把状态改两次。
package swap

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"rewear/internal/apiserver/auth"
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

// Handler 交换 HTTP 处理器
type Handler struct {
	swaps  storage.SwapStore
	items  storage.ItemStore
	users  storage.UserStore
	ledger *ledger.Ledger
	ttl    time.Duration
}

// NewHandler 创建交换处理器
func NewHandler(swaps storage.SwapStore, items storage.ItemStore, users storage.UserStore, lg *ledger.Ledger, ttl time.Duration) *Handler {
	return &Handler{swaps: swaps, items: items, users: users, ledger: lg, ttl: ttl}
}

// RegisterRoutes 注册交换相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/swaps", h.Create)
	mux.HandleFunc("GET /api/swaps", auth.AdminOnly(h.List))
	mux.HandleFunc("GET /api/swaps/my-swaps", h.MySwaps)
	mux.HandleFunc("GET /api/swaps/stats", auth.AdminOnly(h.Stats))
	mux.HandleFunc("GET /api/swaps/{id}", h.Get)
	mux.HandleFunc("PUT /api/swaps/{id}/respond", h.Respond)
	mux.HandleFunc("PUT /api/swaps/{id}/complete", h.Complete)
	mux.HandleFunc("PUT /api/swaps/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/swaps/{id}/rate", h.Rate)
}

// ============================================================================
// 请求类型
// ============================================================================

type createSwapRequest struct {
	Type            model.SwapType `json:"type"`
	RequestedItemID string         `json:"requested_item_id"`
	OfferedItemID   string         `json:"offered_item_id"`
	PointsOffered   int            `json:"points_offered"`
	Message         string         `json:"message"`
}

type respondRequest struct {
	Action          string `json:"action"` // "accept" | "reject"
	RejectionReason string `json:"rejection_reason"`
}

type rateRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

// ============================================================================
// Handlers
// ============================================================================

// Create 发起交换请求
//
// 路由: POST /api/swaps
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "type must be item_swap or points_redemption")
		return
	}
	if req.RequestedItemID == "" {
		writeError(w, http.StatusBadRequest, "requested_item_id is required")
		return
	}

	requested, err := h.items.GetItem(r.Context(), req.RequestedItemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "requested item not found")
		return
	}
	if requested.OwnerID == user.ID {
		writeError(w, http.StatusBadRequest, "cannot request your own item")
		return
	}
	if requested.Status != model.ItemStatusAvailable {
		writeError(w, http.StatusConflict, "requested item is not available")
		return
	}

	var offered *model.Item
	switch req.Type {
	case model.SwapTypeItemSwap:
		if req.OfferedItemID == "" {
			writeError(w, http.StatusBadRequest, "offered_item_id is required for item_swap")
			return
		}
		if req.OfferedItemID == req.RequestedItemID {
			writeError(w, http.StatusBadRequest, "offered and requested items must differ")
			return
		}
		offered, err = h.items.GetItem(r.Context(), req.OfferedItemID)
		if err != nil {
			writeError(w, http.StatusNotFound, "offered item not found")
			return
		}
		if offered.OwnerID != user.ID {
			writeError(w, http.StatusForbidden, "you can only offer your own items")
			return
		}
		if offered.Status != model.ItemStatusAvailable {
			writeError(w, http.StatusConflict, "offered item is not available")
			return
		}

	case model.SwapTypePointsRedemption:
		if req.PointsOffered < 1 {
			writeError(w, http.StatusBadRequest, "points_offered must be at least 1")
			return
		}
		initiator, err := h.users.GetUser(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if initiator.Points < req.PointsOffered {
			writeError(w, http.StatusBadRequest, "insufficient points balance")
			return
		}
	}

	// 任一涉及的物品已有进行中的交换则拒绝
	for _, itemID := range itemIDsOf(req) {
		open, err := h.swaps.HasOpenSwapForItem(r.Context(), itemID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if open {
			writeError(w, http.StatusConflict, "item already has a pending swap")
			return
		}
	}

	// 条件更新锁定物品，第二个并发请求会在这里拿到冲突
	if err := h.items.TransitionItemStatus(r.Context(), requested.ID,
		model.ItemStatusAvailable, model.ItemStatusRequested); err != nil {
		writeConflictOr500(w, err, "requested item is not available")
		return
	}
	if offered != nil {
		if err := h.items.TransitionItemStatus(r.Context(), offered.ID,
			model.ItemStatusAvailable, model.ItemStatusRequested); err != nil {
			// 回滚已锁定的物品
			if rbErr := h.items.TransitionItemStatus(r.Context(), requested.ID,
				model.ItemStatusRequested, model.ItemStatusAvailable); rbErr != nil {
				log.Printf("[swap.create] rollback failed for %s: %v", requested.ID, rbErr)
			}
			writeConflictOr500(w, err, "offered item is not available")
			return
		}
	}

	now := time.Now()
	swap := &model.Swap{
		ID:              generateID("swp"),
		Type:            req.Type,
		InitiatorID:     user.ID,
		RecipientID:     requested.OwnerID,
		RequestedItemID: requested.ID,
		Message:         req.Message,
		Status:          model.SwapStatusPending,
		Timeline:        model.SwapTimeline{RequestedAt: now},
		ExpiresAt:       now.Add(h.ttl),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if offered != nil {
		swap.OfferedItemID = offered.ID
	}
	if req.Type == model.SwapTypePointsRedemption {
		swap.PointsOffered = req.PointsOffered
	}

	if err := h.swaps.CreateSwap(r.Context(), swap); err != nil {
		log.Printf("[swap.create] CreateSwap error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create swap")
		return
	}

	log.Printf("[swap] created %s (%s) %s -> %s", swap.ID, swap.Type, swap.InitiatorID, swap.RecipientID)
	writeJSON(w, http.StatusCreated, swap)
}

// List 全量交换列表（管理员）
//
// 路由: GET /api/swaps?status=&type=&page=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.SwapFilter{
		Status: model.SwapStatus(q.Get("status")),
		Type:   model.SwapType(q.Get("type")),
		Page:   parseInt(q.Get("page"), 1),
		Limit:  clampLimit(parseInt(q.Get("limit"), 20)),
	}
	swaps, total, err := h.swaps.ListSwaps(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list swaps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"swaps": swaps, "total": total, "page": filter.Page, "limit": filter.Limit,
	})
}

// MySwaps 当前用户参与的交换
//
// 路由: GET /api/swaps/my-swaps?status=
func (h *Handler) MySwaps(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	swaps, total, err := h.swaps.ListSwaps(r.Context(), storage.SwapFilter{
		UserID: user.ID,
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

// Stats 平台交换统计（管理员）
//
// 路由: GET /api/swaps/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.swaps.SwapStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Get 交换详情（参与方或管理员）
//
// 路由: GET /api/swaps/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	swap, err := h.swaps.GetSwap(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if !swap.IsParticipant(user.ID) && !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "not a participant of this swap")
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

// Respond 接收方接受或拒绝（仅 pending）
//
// 路由: PUT /api/swaps/{id}/respond
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Action != "accept" && req.Action != "reject" {
		writeError(w, http.StatusBadRequest, "action must be accept or reject")
		return
	}

	swap, err := h.swaps.GetSwap(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if swap.RecipientID != user.ID {
		writeError(w, http.StatusForbidden, "only the recipient can respond")
		return
	}

	now := time.Now()
	if req.Action == "accept" {
		if err := h.swaps.TransitionSwap(r.Context(), swap.ID,
			model.SwapStatusPending, model.SwapStatusAccepted, now); err != nil {
			writeConflictOr500(w, err, "swap is no longer pending")
			return
		}
		log.Printf("[swap] %s accepted by %s", swap.ID, user.ID)
	} else {
		if err := h.swaps.TransitionSwap(r.Context(), swap.ID,
			model.SwapStatusPending, model.SwapStatusRejected, now); err != nil {
			writeConflictOr500(w, err, "swap is no longer pending")
			return
		}
		swap.RejectionReason = req.RejectionReason
		if err := h.swaps.UpdateSwap(r.Context(), swap); err != nil {
			log.Printf("[swap.respond] save rejection reason: %v", err)
		}
		h.releaseItems(r, swap)
		log.Printf("[swap] %s rejected by %s", swap.ID, user.ID)
	}

	updated, err := h.swaps.GetSwap(r.Context(), swap.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Complete 完成交换（仅 accepted，双方任一均可确认）
//
// 积分兑换在这里把积分从发起方转给接收方，两笔账本记录共享 swap 引用。
//
// 路由: PUT /api/swaps/{id}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	swap, err := h.swaps.GetSwap(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if !swap.IsParticipant(user.ID) {
		writeError(w, http.StatusForbidden, "not a participant of this swap")
		return
	}

	// 兑换类先确认余额仍然够扣
	if swap.Type == model.SwapTypePointsRedemption {
		initiator, err := h.users.GetUser(r.Context(), swap.InitiatorID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if initiator.Points < swap.PointsOffered {
			writeError(w, http.StatusConflict, "initiator no longer has enough points")
			return
		}
	}

	// 条件转移挡住并发的二次 complete
	now := time.Now()
	if err := h.swaps.TransitionSwap(r.Context(), swap.ID,
		model.SwapStatusAccepted, model.SwapStatusCompleted, now); err != nil {
		writeConflictOr500(w, err, "swap is not in accepted state")
		return
	}

	for _, itemID := range swap.ItemIDs() {
		if err := h.items.SetItemStatus(r.Context(), itemID, model.ItemStatusSwapped); err != nil {
			log.Printf("[swap.complete] set item %s swapped: %v", itemID, err)
		}
	}

	if swap.Type == model.SwapTypePointsRedemption {
		ref := &model.Reference{Kind: model.RefSwap, ID: swap.ID}
		if _, err := h.ledger.Record(r.Context(), ledger.Entry{
			UserID:    swap.InitiatorID,
			Type:      model.TxSwap,
			Amount:    -swap.PointsOffered,
			Reason:    "Points redemption for swap",
			Reference: ref,
		}); err != nil {
			log.Printf("[swap.complete] debit initiator %s: %v", swap.InitiatorID, err)
			writeError(w, http.StatusInternalServerError, "failed to transfer points")
			return
		}
		if _, err := h.ledger.Record(r.Context(), ledger.Entry{
			UserID:    swap.RecipientID,
			Type:      model.TxSwap,
			Amount:    swap.PointsOffered,
			Reason:    "Points received from swap",
			Reference: ref,
		}); err != nil {
			log.Printf("[swap.complete] credit recipient %s: %v", swap.RecipientID, err)
			writeError(w, http.StatusInternalServerError, "failed to transfer points")
			return
		}
	}

	log.Printf("[swap] %s completed by %s", swap.ID, user.ID)
	updated, err := h.swaps.GetSwap(r.Context(), swap.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Cancel 取消交换（发起方或管理员，pending/accepted）
//
// 路由: PUT /api/swaps/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	swap, err := h.swaps.GetSwap(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if swap.InitiatorID != user.ID && !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "only the initiator can cancel")
		return
	}
	if !swap.Status.CanTransitionTo(model.SwapStatusCancelled) {
		writeError(w, http.StatusConflict, "swap cannot be cancelled in its current status")
		return
	}

	if err := h.swaps.TransitionSwap(r.Context(), swap.ID,
		swap.Status, model.SwapStatusCancelled, time.Now()); err != nil {
		writeConflictOr500(w, err, "swap status changed, retry")
		return
	}
	h.releaseItems(r, swap)

	log.Printf("[swap] %s cancelled by %s", swap.ID, user.ID)
	updated, err := h.swaps.GetSwap(r.Context(), swap.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Rate 完成后的互评
//
// 路由: POST /api/swaps/{id}/rate
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Score < 1 || req.Score > 5 {
		writeError(w, http.StatusBadRequest, "score must be between 1 and 5")
		return
	}

	swap, err := h.swaps.GetSwap(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "swap not found")
		return
	}
	if !swap.IsParticipant(user.ID) {
		writeError(w, http.StatusForbidden, "not a participant of this swap")
		return
	}
	if swap.Status != model.SwapStatusCompleted {
		writeError(w, http.StatusConflict, "only completed swaps can be rated")
		return
	}

	rating := &model.Rating{Score: req.Score, Comment: req.Comment, RatedAt: time.Now()}
	if swap.InitiatorID == user.ID {
		if swap.InitiatorRating != nil {
			writeError(w, http.StatusConflict, "you have already rated this swap")
			return
		}
		swap.InitiatorRating = rating
	} else {
		if swap.RecipientRating != nil {
			writeError(w, http.StatusConflict, "you have already rated this swap")
			return
		}
		swap.RecipientRating = rating
	}

	if err := h.swaps.UpdateSwap(r.Context(), swap); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save rating")
		return
	}
	writeJSON(w, http.StatusOK, swap)
}

// ============================================================================
// 工具函数
// ============================================================================

// releaseItems 把交换占用的物品放回可交换状态
func (h *Handler) releaseItems(r *http.Request, swap *model.Swap) {
	for _, itemID := range swap.ItemIDs() {
		err := h.items.TransitionItemStatus(r.Context(), itemID,
			model.ItemStatusRequested, model.ItemStatusAvailable)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			log.Printf("[swap] release item %s: %v", itemID, err)
		}
	}
}

func itemIDsOf(req createSwapRequest) []string {
	ids := []string{req.RequestedItemID}
	if req.Type == model.SwapTypeItemSwap && req.OfferedItemID != "" {
		ids = append(ids, req.OfferedItemID)
	}
	return ids
}

func writeConflictOr500(w http.ResponseWriter, err error, conflictMsg string) {
	switch {
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, conflictMsg)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
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

func generateID(prefix string) string {
	b := make([]byte, 6)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}
