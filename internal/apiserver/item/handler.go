// Package item 物品挂牌 HTTP 处理器
package item

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rewear/internal/apiserver/auth"
	"rewear/internal/shared/model"
	"rewear/internal/shared/objstore"
	"rewear/internal/shared/storage"
)

// 单次图片上传上限
const maxImageSize = 5 << 20

// Handler 物品 HTTP 处理器
type Handler struct {
	items  storage.ItemStore
	swaps  storage.SwapStore
	images *objstore.Client // 可为 nil（未配置对象存储）
}

// NewHandler 创建物品处理器
func NewHandler(items storage.ItemStore, swaps storage.SwapStore, images *objstore.Client) *Handler {
	return &Handler{items: items, swaps: swaps, images: images}
}

// RegisterRoutes 注册物品相关路由
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/items", h.List)
	mux.HandleFunc("GET /api/items/categories", h.Categories)
	mux.HandleFunc("GET /api/items/favorites", h.Favorites)
	mux.HandleFunc("GET /api/items/my-items", h.MyItems)
	mux.HandleFunc("GET /api/items/{id}", h.Get)
	mux.HandleFunc("GET /api/items/{id}/similar", h.Similar)
	mux.HandleFunc("POST /api/items", h.Create)
	mux.HandleFunc("PUT /api/items/{id}", h.Update)
	mux.HandleFunc("PUT /api/items/{id}/withdraw", h.Withdraw)
	mux.HandleFunc("DELETE /api/items/{id}", h.Delete)
	mux.HandleFunc("POST /api/items/{id}/favorite", h.ToggleFavorite)
	mux.HandleFunc("POST /api/items/{id}/report", h.Report)
	mux.HandleFunc("POST /api/items/{id}/images", h.UploadImage)
}

// ============================================================================
// 请求/响应类型
// ============================================================================

type createItemRequest struct {
	Title        string              `json:"title"`
	Description  string              `json:"description"`
	Category     model.ItemCategory  `json:"category"`
	Type         string              `json:"type"`
	Size         model.ItemSize      `json:"size"`
	Condition    model.ItemCondition `json:"condition"`
	Brand        string              `json:"brand"`
	Color        string              `json:"color"`
	Material     string              `json:"material"`
	Tags         []string            `json:"tags"`
	Images       []model.Image       `json:"images"`
	Measurements *model.Measurements `json:"measurements"`
}

type updateItemRequest struct {
	Title        *string              `json:"title"`
	Description  *string              `json:"description"`
	Category     *model.ItemCategory  `json:"category"`
	Type         *string              `json:"type"`
	Size         *model.ItemSize      `json:"size"`
	Condition    *model.ItemCondition `json:"condition"`
	Brand        *string              `json:"brand"`
	Color        *string              `json:"color"`
	Material     *string              `json:"material"`
	Tags         []string             `json:"tags"`
	Measurements *model.Measurements  `json:"measurements"`
}

type reportRequest struct {
	Reason      model.ReportReason `json:"reason"`
	Description string             `json:"description"`
}

type listResponse struct {
	Items []*model.Item `json:"items"`
	Total int           `json:"total"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
}

// ============================================================================
// Handlers
// ============================================================================

// List 浏览可交换物品（公开）
//
// 路由: GET /api/items?search=&category=&size=&condition=&minPoints=&maxPoints=&sort=&page=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ItemFilter{
		Status:    model.ItemStatusAvailable,
		Search:    q.Get("search"),
		Category:  model.ItemCategory(q.Get("category")),
		Size:      model.ItemSize(q.Get("size")),
		Condition: model.ItemCondition(q.Get("condition")),
		MinPoints: parseInt(q.Get("minPoints"), 0),
		MaxPoints: parseInt(q.Get("maxPoints"), 0),
		Sort:      q.Get("sort"),
		Page:      parseInt(q.Get("page"), 1),
		Limit:     clampLimit(parseInt(q.Get("limit"), 20)),
	}
	if filter.Category != "" && !filter.Category.Valid() {
		writeError(w, http.StatusBadRequest, "invalid category")
		return
	}

	items, total, err := h.items.ListItems(r.Context(), filter)
	if err != nil {
		log.Printf("[item.list] ListItems error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Total: total, Page: filter.Page, Limit: filter.Limit})
}

// Categories 所有类别及统计
//
// 路由: GET /api/items/categories
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	stats, err := h.items.CategoryStats(r.Context())
	if err != nil {
		log.Printf("[item.categories] CategoryStats error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": model.Categories,
		"stats":      stats,
	})
}

// Favorites 当前用户收藏的物品
//
// 路由: GET /api/items/favorites?page=&limit=
func (h *Handler) Favorites(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	q := r.URL.Query()
	items, total, err := h.items.ListItems(r.Context(), storage.ItemFilter{
		FavoritedBy: user.ID,
		Page:        parseInt(q.Get("page"), 1),
		Limit:       clampLimit(parseInt(q.Get("limit"), 20)),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list favorites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

// MyItems 当前用户的全部挂牌（含待审核/已下架）
//
// 路由: GET /api/items/my-items
func (h *Handler) MyItems(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	items, total, err := h.items.ListItems(r.Context(), storage.ItemFilter{OwnerID: user.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items, "total": total})
}

// Get 物品详情
//
// 路由: GET /api/items/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	user := auth.GetAuthUser(r.Context())

	// 审核中/被拒绝的物品只有所有者和管理员可见
	if item.Status == model.ItemStatusPendingApproval || item.Status == model.ItemStatusRejected {
		if user == nil || (user.ID != item.OwnerID && !user.IsAdmin()) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
	}

	// 非所有者浏览计入浏览量
	if user == nil || user.ID != item.OwnerID {
		if err := h.items.IncrementItemViews(r.Context(), item.ID); err == nil {
			item.Views++
		}
	}
	writeJSON(w, http.StatusOK, item)
}

// Similar 同类可交换物品推荐
//
// 路由: GET /api/items/{id}/similar
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	candidates, _, err := h.items.ListItems(r.Context(), storage.ItemFilter{
		Status:   model.ItemStatusAvailable,
		Category: item.Category,
		Limit:    12,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to find similar items")
		return
	}

	similar := make([]*model.Item, 0, 6)
	for _, c := range candidates {
		if c.ID == item.ID || c.OwnerID == item.OwnerID {
			continue
		}
		similar = append(similar, c)
		if len(similar) == 6 {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": similar})
}

// Create 挂牌新物品，初始状态为待审核
//
// 路由: POST /api/items
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := validateItemFields(req.Title, req.Description, req.Category, req.Size, req.Condition); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	now := time.Now()
	item := &model.Item{
		ID:           generateID("itm"),
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Category:     req.Category,
		Type:         req.Type,
		Size:         req.Size,
		Condition:    req.Condition,
		Brand:        req.Brand,
		Color:        req.Color,
		Material:     req.Material,
		Tags:         req.Tags,
		Images:       req.Images,
		Measurements: req.Measurements,
		OwnerID:      user.ID,
		Status:       model.ItemStatusPendingApproval,
		PointsValue:  model.ComputePointsValue(req.Condition, req.Category),
		Favorites:    []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.items.CreateItem(r.Context(), item); err != nil {
		log.Printf("[item.create] CreateItem error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create item")
		return
	}

	log.Printf("[item] created %s (%s) by %s, %d points", item.ID, item.Title, user.ID, item.PointsValue)
	writeJSON(w, http.StatusCreated, item)
}

// Update 修改挂牌信息（仅所有者，上架前或在架期间）
//
// 路由: PUT /api/items/{id}
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.OwnerID != user.ID {
		writeError(w, http.StatusForbidden, "only the owner can update this item")
		return
	}
	if item.Status != model.ItemStatusPendingApproval && item.Status != model.ItemStatusAvailable {
		writeError(w, http.StatusConflict, "item cannot be updated in its current status")
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title != nil {
		item.Title = strings.TrimSpace(*req.Title)
	}
	if req.Description != nil {
		item.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		item.Category = *req.Category
	}
	if req.Type != nil {
		item.Type = *req.Type
	}
	if req.Size != nil {
		item.Size = *req.Size
	}
	if req.Condition != nil {
		item.Condition = *req.Condition
	}
	if req.Brand != nil {
		item.Brand = *req.Brand
	}
	if req.Color != nil {
		item.Color = *req.Color
	}
	if req.Material != nil {
		item.Material = *req.Material
	}
	if req.Tags != nil {
		item.Tags = req.Tags
	}
	if req.Measurements != nil {
		item.Measurements = req.Measurements
	}

	if msg := validateItemFields(item.Title, item.Description, item.Category, item.Size, item.Condition); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	// 成色或类别变化时重算积分价值
	if req.Condition != nil || req.Category != nil {
		item.PointsValue = model.ComputePointsValue(item.Condition, item.Category)
	}

	if err := h.items.UpdateItem(r.Context(), item); err != nil {
		log.Printf("[item.update] UpdateItem error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// Withdraw 所有者主动下架在架物品
//
// 路由: PUT /api/items/{id}/withdraw
//
// 只允许 available -> withdrawn 的转移：被交换占用（requested）
// 或待审核的物品走不了这条路，返回 409。
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.OwnerID != user.ID {
		writeError(w, http.StatusForbidden, "only the owner can withdraw this item")
		return
	}

	err = h.items.TransitionItemStatus(r.Context(), item.ID,
		model.ItemStatusAvailable, model.ItemStatusWithdrawn)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusConflict, "item cannot be withdrawn in its current status")
			return
		}
		log.Printf("[item.withdraw] TransitionItemStatus error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to withdraw item")
		return
	}

	item.Status = model.ItemStatusWithdrawn
	log.Printf("[item] withdrawn %s by %s", item.ID, user.ID)
	writeJSON(w, http.StatusOK, item)
}

// Delete 下架并删除挂牌（所有者或管理员）
//
// 路由: DELETE /api/items/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.OwnerID != user.ID && !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "only the owner can delete this item")
		return
	}

	// 有进行中的交换时不允许删除
	open, err := h.swaps.HasOpenSwapForItem(r.Context(), item.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check swaps")
		return
	}
	if open {
		writeError(w, http.StatusConflict, "item has an active swap request")
		return
	}

	if err := h.items.DeleteItem(r.Context(), item.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete item")
		return
	}

	// 图片清理尽力而为
	if h.images != nil {
		for _, img := range item.Images {
			if img.Key == "" {
				continue
			}
			if err := h.images.Delete(r.Context(), img.Key); err != nil {
				log.Printf("[item.delete] delete image %s: %v", img.Key, err)
			}
		}
	}

	log.Printf("[item] deleted %s by %s", item.ID, user.ID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// ToggleFavorite 收藏/取消收藏
//
// 路由: POST /api/items/{id}/favorite
func (h *Handler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	favorited := false
	if item.IsFavoritedBy(user.ID) {
		next := item.Favorites[:0]
		for _, id := range item.Favorites {
			if id != user.ID {
				next = append(next, id)
			}
		}
		item.Favorites = next
	} else {
		item.Favorites = append(item.Favorites, user.ID)
		favorited = true
	}

	if err := h.items.UpdateItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update favorites")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"favorited": favorited,
		"favorites": item.FavoritesCount(),
	})
}

// Report 举报物品，一个用户只能举报一次
//
// 路由: POST /api/items/{id}/report
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Reason.Valid() {
		writeError(w, http.StatusBadRequest, "invalid report reason")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.OwnerID == user.ID {
		writeError(w, http.StatusBadRequest, "cannot report your own item")
		return
	}
	if item.HasReportFrom(user.ID) {
		writeError(w, http.StatusConflict, "you have already reported this item")
		return
	}

	item.Reports = append(item.Reports, model.ItemReport{
		UserID:      user.ID,
		Reason:      req.Reason,
		Description: req.Description,
		ReportedAt:  time.Now(),
	})
	if err := h.items.UpdateItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to report item")
		return
	}

	log.Printf("[item] %s reported by %s: %s", item.ID, user.ID, req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"message": "report submitted"})
}

// UploadImage 上传物品图片到对象存储
//
// 路由: POST /api/items/{id}/images (multipart/form-data, field "image")
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	user := auth.GetAuthUser(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if h.images == nil {
		writeError(w, http.StatusServiceUnavailable, "image storage not configured")
		return
	}

	item, err := h.items.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.OwnerID != user.ID {
		writeError(w, http.StatusForbidden, "only the owner can upload images")
		return
	}

	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer file.Close()

	if header.Size > maxImageSize {
		writeError(w, http.StatusBadRequest, "image exceeds 5MB limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "only image uploads are allowed")
		return
	}

	key := fmt.Sprintf("items/%s/%s%s", item.ID, generateID("img"), extOf(header.Filename))
	url, err := h.images.Upload(r.Context(), key, io.LimitReader(file, maxImageSize), header.Size, contentType)
	if err != nil {
		log.Printf("[item.upload] Upload error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to upload image")
		return
	}

	item.Images = append(item.Images, model.Image{Key: key, URL: url})
	if err := h.items.UpdateItem(r.Context(), item); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save image")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"key": key, "url": url, "images": item.Images})
}

// ============================================================================
// 工具函数
// ============================================================================

func validateItemFields(title, description string, category model.ItemCategory, size model.ItemSize, condition model.ItemCondition) string {
	if strings.TrimSpace(title) == "" {
		return "title is required"
	}
	if len(title) > 100 {
		return "title must be at most 100 characters"
	}
	if strings.TrimSpace(description) == "" {
		return "description is required"
	}
	if len(description) > 1000 {
		return "description must be at most 1000 characters"
	}
	if !category.Valid() {
		return "invalid category"
	}
	if !size.Valid() {
		return "invalid size"
	}
	if !condition.Valid() {
		return "invalid condition"
	}
	return ""
}

func extOf(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[i:]
	}
	return ""
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
