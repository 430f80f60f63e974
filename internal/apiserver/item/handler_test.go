package item

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

	"rewear/internal/apiserver/auth"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

func newTestHandler(t *testing.T) (*http.ServeMux, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	h := NewHandler(store, store, nil)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, store
}

func do(t *testing.T, mux *http.ServeMux, method, target string, body interface{}, user *auth.AuthUser) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if user != nil {
		req = req.WithContext(auth.WithAuthUser(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func seedItem(t *testing.T, store *storage.MemStore, id, owner string, status model.ItemStatus) *model.Item {
	t.Helper()
	item := &model.Item{
		ID:          id,
		Title:       "Wool Coat",
		Description: "Warm winter coat",
		Category:    model.CategoryOuterwear,
		Size:        "M",
		Condition:   model.ConditionGood,
		OwnerID:     owner,
		Status:      status,
		PointsValue: model.ComputePointsValue(model.ConditionGood, model.CategoryOuterwear),
		Favorites:   []string{},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

var alice = &auth.AuthUser{ID: "usr-alice", Email: "alice@example.com", Role: "user"}
var bob = &auth.AuthUser{ID: "usr-bob", Email: "bob@example.com", Role: "user"}
var admin = &auth.AuthUser{ID: "usr-admin", Email: "admin@example.com", Role: "admin"}

func TestCreateItem(t *testing.T) {
	mux, store := newTestHandler(t)

	rec := do(t, mux, "POST", "/api/items", createItemRequest{
		Title:       "Evening Gown",
		Description: "Barely worn formal dress",
		Category:    model.CategoryFormal,
		Size:        "S",
		Condition:   model.ConditionExcellent,
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got model.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.ItemStatusPendingApproval, got.Status)
	assert.Equal(t, alice.ID, got.OwnerID)
	// excellent(15) + formal(5)
	assert.Equal(t, 20, got.PointsValue)

	stored, err := store.GetItem(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ID, stored.ID)
}

func TestCreateItemValidation(t *testing.T) {
	mux, _ := newTestHandler(t)

	tests := []struct {
		name string
		req  createItemRequest
	}{
		{"缺标题", createItemRequest{Description: "d", Category: model.CategoryTops, Size: "M", Condition: model.ConditionGood}},
		{"类别非法", createItemRequest{Title: "t", Description: "d", Category: "hats", Size: "M", Condition: model.ConditionGood}},
		{"尺码非法", createItemRequest{Title: "t", Description: "d", Category: model.CategoryTops, Size: "6XL", Condition: model.ConditionGood}},
		{"成色非法", createItemRequest{Title: "t", Description: "d", Category: model.CategoryTops, Size: "M", Condition: "worn"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, "POST", "/api/items", tt.req, alice)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	// 未认证
	rec := do(t, mux, "POST", "/api/items", createItemRequest{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListOnlyAvailable(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-2", alice.ID, model.ItemStatusPendingApproval)
	seedItem(t, store, "itm-3", bob.ID, model.ItemStatusSwapped)

	rec := do(t, mux, "GET", "/api/items", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Total)
	assert.Equal(t, "itm-1", got.Items[0].ID)
}

func TestListFilters(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	dress := seedItem(t, store, "itm-2", bob.ID, model.ItemStatusAvailable)
	dress.Category = model.CategoryDresses
	dress.PointsValue = 20
	require.NoError(t, store.UpdateItem(context.Background(), dress))

	rec := do(t, mux, "GET", "/api/items?category=dresses", nil, nil)
	var got listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Total)
	assert.Equal(t, "itm-2", got.Items[0].ID)

	rec = do(t, mux, "GET", "/api/items?minPoints=18", nil, nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.Total)

	rec = do(t, mux, "GET", "/api/items?category=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItemVisibility(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusPendingApproval)

	// 陌生人和未登录者看不到待审核物品
	rec := do(t, mux, "GET", "/api/items/itm-1", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, mux, "GET", "/api/items/itm-1", nil, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// 所有者和管理员可见
	rec = do(t, mux, "GET", "/api/items/itm-1", nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, mux, "GET", "/api/items/itm-1", nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetItemIncrementsViews(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	// 非所有者浏览 +1
	do(t, mux, "GET", "/api/items/itm-1", nil, bob)
	item, err := store.GetItem(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Equal(t, 1, item.Views)

	// 所有者浏览不计数
	do(t, mux, "GET", "/api/items/itm-1", nil, alice)
	item, _ = store.GetItem(context.Background(), "itm-1")
	assert.Equal(t, 1, item.Views)
}

func TestUpdateItem(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	// 非所有者禁止修改
	title := "New Title"
	rec := do(t, mux, "PUT", "/api/items/itm-1", updateItemRequest{Title: &title}, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 成色变化时重算积分价值
	cond := model.ConditionNewWithTags
	rec = do(t, mux, "PUT", "/api/items/itm-1", updateItemRequest{Title: &title, Condition: &cond}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	item, err := store.GetItem(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Equal(t, "New Title", item.Title)
	// new_with_tags(20) + outerwear(3)
	assert.Equal(t, 23, item.PointsValue)
}

func TestUpdateItemBlockedStatuses(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusRequested)

	title := "nope"
	rec := do(t, mux, "PUT", "/api/items/itm-1", updateItemRequest{Title: &title}, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteItemWithOpenSwap(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusRequested)
	require.NoError(t, store.CreateSwap(context.Background(), &model.Swap{
		ID:              "swp-1",
		Type:            model.SwapTypePointsRedemption,
		InitiatorID:     bob.ID,
		RecipientID:     alice.ID,
		RequestedItemID: "itm-1",
		PointsOffered:   10,
		Status:          model.SwapStatusPending,
		CreatedAt:       time.Now(),
	}))

	rec := do(t, mux, "DELETE", "/api/items/itm-1", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 交换结束后可删除
	require.NoError(t, store.TransitionSwap(context.Background(), "swp-1",
		model.SwapStatusPending, model.SwapStatusCancelled, time.Now()))
	rec = do(t, mux, "DELETE", "/api/items/itm-1", nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteItemPermissions(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "DELETE", "/api/items/itm-1", nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// 管理员可删
	rec = do(t, mux, "DELETE", "/api/items/itm-1", nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestToggleFavorite(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "POST", "/api/items/itm-1/favorite", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["favorited"])

	item, _ := store.GetItem(context.Background(), "itm-1")
	assert.True(t, item.IsFavoritedBy(bob.ID))

	// 再次调用取消收藏
	rec = do(t, mux, "POST", "/api/items/itm-1/favorite", nil, bob)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["favorited"])

	item, _ = store.GetItem(context.Background(), "itm-1")
	assert.False(t, item.IsFavoritedBy(bob.ID))
}

func TestFavoritesList(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-2", alice.ID, model.ItemStatusAvailable)

	do(t, mux, "POST", "/api/items/itm-2/favorite", nil, bob)

	rec := do(t, mux, "GET", "/api/items/favorites", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Items []*model.Item `json:"items"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, 1, got.Total)
	assert.Equal(t, "itm-2", got.Items[0].ID)

	// 过滤下推到存储层，不做全量扫描
	items, total, err := store.ListItems(context.Background(), storage.ItemFilter{FavoritedBy: bob.ID})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "itm-2", items[0].ID)
}

func TestWithdrawItem(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-2", alice.ID, model.ItemStatusRequested)

	// 非所有者不能下架
	rec := do(t, mux, "PUT", "/api/items/itm-1/withdraw", nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, "PUT", "/api/items/itm-1/withdraw", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item, err := store.GetItem(context.Background(), "itm-1")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusWithdrawn, item.Status)

	// 已下架的不能重复下架
	rec = do(t, mux, "PUT", "/api/items/itm-1/withdraw", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 被交换占用的不能下架
	rec = do(t, mux, "PUT", "/api/items/itm-2/withdraw", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReportItem(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	// 不能举报自己的物品
	rec := do(t, mux, "POST", "/api/items/itm-1/report", reportRequest{Reason: model.ReportSpam}, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, "POST", "/api/items/itm-1/report", reportRequest{Reason: model.ReportSpam, Description: "duplicate listing"}, bob)
	require.Equal(t, http.StatusOK, rec.Code)

	// 同一用户不能重复举报
	rec = do(t, mux, "POST", "/api/items/itm-1/report", reportRequest{Reason: model.ReportFake}, bob)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 非法原因
	rec = do(t, mux, "POST", "/api/items/itm-1/report", reportRequest{Reason: "ugly"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	item, _ := store.GetItem(context.Background(), "itm-1")
	require.Len(t, item.Reports, 1)
	assert.Equal(t, model.ReportSpam, item.Reports[0].Reason)
}

func TestSimilarItems(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-2", bob.ID, model.ItemStatusAvailable)      // 同类别，不同所有者
	seedItem(t, store, "itm-3", alice.ID, model.ItemStatusAvailable)   // 同所有者，应排除
	other := seedItem(t, store, "itm-4", bob.ID, model.ItemStatusAvailable) // 不同类别
	other.Category = model.CategoryShoes
	require.NoError(t, store.UpdateItem(context.Background(), other))

	rec := do(t, mux, "GET", "/api/items/itm-1/similar", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Items []*model.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Items, 1)
	assert.Equal(t, "itm-2", got.Items[0].ID)
}

func TestMyItems(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-2", alice.ID, model.ItemStatusPendingApproval)
	seedItem(t, store, "itm-3", bob.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "GET", "/api/items/my-items", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Items []*model.Item `json:"items"`
		Total int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Total)
}

func TestUploadImageWithoutStorage(t *testing.T) {
	mux, store := newTestHandler(t)
	seedItem(t, store, "itm-1", alice.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "POST", "/api/items/itm-1/images", nil, alice)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
