package swap

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
	"rewear/internal/shared/ledger"
	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

func newTestHandler(t *testing.T) (*http.ServeMux, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	lg := ledger.New(store, store)
	h := NewHandler(store, store, store, lg, 7*24*time.Hour)
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

func seedUser(t *testing.T, store *storage.MemStore, id string, points int) {
	t.Helper()
	require.NoError(t, store.CreateUser(context.Background(), &model.User{
		ID:       id,
		Email:    id + "@example.com",
		Username: id,
		Points:   points,
		IsActive: true,
	}))
}

func seedItem(t *testing.T, store *storage.MemStore, id, owner string, status model.ItemStatus) *model.Item {
	t.Helper()
	item := &model.Item{
		ID:          id,
		Title:       "Denim Jacket",
		Description: "Classic blue denim",
		Category:    model.CategoryOuterwear,
		Size:        "M",
		Condition:   model.ConditionGood,
		OwnerID:     owner,
		Status:      status,
		PointsValue: model.ComputePointsValue(model.ConditionGood, model.CategoryOuterwear),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

var alice = &auth.AuthUser{ID: "usr-alice", Email: "alice@example.com", Role: "user"}
var bob = &auth.AuthUser{ID: "usr-bob", Email: "bob@example.com", Role: "user"}
var admin = &auth.AuthUser{ID: "usr-admin", Email: "admin@example.com", Role: "admin"}

// createSwap 走完整 HTTP 路径发起一个 item_swap 并返回它
func createSwap(t *testing.T, mux *http.ServeMux, store *storage.MemStore) *model.Swap {
	t.Helper()
	seedUser(t, store, alice.ID, 0)
	seedUser(t, store, bob.ID, 0)
	seedItem(t, store, "itm-b", bob.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-a", alice.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "POST", "/api/swaps", createSwapRequest{
		Type:            model.SwapTypeItemSwap,
		RequestedItemID: "itm-b",
		OfferedItemID:   "itm-a",
		Message:         "interested in a trade",
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var swap model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swap))
	return &swap
}

func TestCreateItemSwap(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	assert.Equal(t, model.SwapStatusPending, swap.Status)
	assert.Equal(t, alice.ID, swap.InitiatorID)
	assert.Equal(t, bob.ID, swap.RecipientID)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), swap.ExpiresAt, time.Minute)

	// 两件物品都应被锁定
	for _, id := range []string{"itm-a", "itm-b"} {
		item, err := store.GetItem(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.ItemStatusRequested, item.Status)
	}
}

func TestCreateSwapValidation(t *testing.T) {
	mux, store := newTestHandler(t)
	seedUser(t, store, alice.ID, 50)
	seedUser(t, store, bob.ID, 0)
	seedItem(t, store, "itm-bob", bob.ID, model.ItemStatusAvailable)
	seedItem(t, store, "itm-alice", alice.ID, model.ItemStatusAvailable)

	tests := []struct {
		name string
		req  createSwapRequest
		code int
	}{
		{"类型非法", createSwapRequest{Type: "barter", RequestedItemID: "itm-bob"}, http.StatusBadRequest},
		{"缺目标物品", createSwapRequest{Type: model.SwapTypeItemSwap, OfferedItemID: "itm-alice"}, http.StatusBadRequest},
		{"请求自己的物品", createSwapRequest{Type: model.SwapTypeItemSwap, RequestedItemID: "itm-alice", OfferedItemID: "itm-alice"}, http.StatusBadRequest},
		{"item_swap 缺出让物品", createSwapRequest{Type: model.SwapTypeItemSwap, RequestedItemID: "itm-bob"}, http.StatusBadRequest},
		{"出让他人物品", createSwapRequest{Type: model.SwapTypeItemSwap, RequestedItemID: "itm-bob", OfferedItemID: "itm-bob"}, http.StatusBadRequest},
		{"积分小于 1", createSwapRequest{Type: model.SwapTypePointsRedemption, RequestedItemID: "itm-bob", PointsOffered: 0}, http.StatusBadRequest},
		{"余额不足", createSwapRequest{Type: model.SwapTypePointsRedemption, RequestedItemID: "itm-bob", PointsOffered: 100}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, mux, "POST", "/api/swaps", tt.req, alice)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateSwapOnBusyItem(t *testing.T) {
	mux, store := newTestHandler(t)
	createSwap(t, mux, store)
	seedUser(t, store, "usr-carol", 200)
	carol := &auth.AuthUser{ID: "usr-carol", Role: "user"}

	// itm-b 已处于 requested 状态
	rec := do(t, mux, "POST", "/api/swaps", createSwapRequest{
		Type:            model.SwapTypePointsRedemption,
		RequestedItemID: "itm-b",
		PointsOffered:   10,
	}, carol)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondAccept(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.SwapStatusAccepted, got.Status)
	assert.NotNil(t, got.Timeline.RespondedAt)

	// 已接受后再次响应应冲突
	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "reject"}, bob)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRespondReject(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond",
		respondRequest{Action: "reject", RejectionReason: "size mismatch"}, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.SwapStatusRejected, got.Status)
	assert.Equal(t, "size mismatch", got.RejectionReason)

	// 保存拒绝原因不能覆盖状态转移的结果
	stored, err := store.GetSwap(context.Background(), swap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapStatusRejected, stored.Status)
	assert.NotNil(t, stored.Timeline.RespondedAt)

	// 物品回到可交换状态
	for _, id := range []string{"itm-a", "itm-b"} {
		item, err := store.GetItem(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.ItemStatusAvailable, item.Status)
	}
}

func TestRespondPermissions(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	// 发起方不能替接收方响应
	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, alice)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "maybe"}, bob)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompleteItemSwap(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)
	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)

	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/complete", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.SwapStatusCompleted, got.Status)
	assert.NotNil(t, got.Timeline.CompletedAt)

	for _, id := range []string{"itm-a", "itm-b"} {
		item, err := store.GetItem(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.ItemStatusSwapped, item.Status)
	}

	// 重复 complete 应拿到冲突而不是重放
	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/complete", nil, bob)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCompletePointsRedemption(t *testing.T) {
	mux, store := newTestHandler(t)
	ctx := context.Background()
	seedUser(t, store, alice.ID, 60)
	seedUser(t, store, bob.ID, 10)
	seedItem(t, store, "itm-b", bob.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "POST", "/api/swaps", createSwapRequest{
		Type:            model.SwapTypePointsRedemption,
		RequestedItemID: "itm-b",
		PointsOffered:   40,
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var swap model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swap))

	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)
	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/complete", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 积分从发起方转到接收方
	initiator, err := store.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, initiator.Points)
	recipient, err := store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, recipient.Points)

	// 两侧各有一笔 swap 类型的账本记录
	for _, userID := range []string{alice.ID, bob.ID} {
		txs, _, err := store.ListTransactions(ctx, storage.TransactionFilter{UserID: userID, Limit: 10, Page: 1})
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.Equal(t, model.TxSwap, txs[0].Type)
		require.NotNil(t, txs[0].Reference)
		assert.Equal(t, swap.ID, txs[0].Reference.ID)
	}
}

func TestCompleteRedemptionBalanceDrained(t *testing.T) {
	mux, store := newTestHandler(t)
	seedUser(t, store, alice.ID, 40)
	seedUser(t, store, bob.ID, 0)
	seedItem(t, store, "itm-b", bob.ID, model.ItemStatusAvailable)

	rec := do(t, mux, "POST", "/api/swaps", createSwapRequest{
		Type:            model.SwapTypePointsRedemption,
		RequestedItemID: "itm-b",
		PointsOffered:   40,
	}, alice)
	require.Equal(t, http.StatusCreated, rec.Code)
	var swap model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &swap))
	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)

	// 发起方在 complete 前把积分花掉了
	lg := ledger.New(store, store)
	_, err := lg.Record(context.Background(), ledger.Entry{
		UserID: alice.ID, Type: model.TxSpent, Amount: -30, Reason: "spent elsewhere",
	})
	require.NoError(t, err)

	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/complete", nil, bob)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 交换保持 accepted，可以被取消
	got, err := store.GetSwap(context.Background(), swap.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SwapStatusAccepted, got.Status)
}

func TestCancel(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	// 接收方不能取消
	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/cancel", nil, bob)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/cancel", nil, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.SwapStatusCancelled, got.Status)
	assert.NotNil(t, got.Timeline.CancelledAt)

	for _, id := range []string{"itm-a", "itm-b"} {
		item, err := store.GetItem(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, model.ItemStatusAvailable, item.Status)
	}

	// 已取消不能再取消
	rec = do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/cancel", nil, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelAccepted(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)
	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)

	// 管理员也可以取消
	rec := do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/cancel", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got model.Swap
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.SwapStatusCancelled, got.Status)
}

func TestRate(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)

	// 未完成不能评分
	rec := do(t, mux, "POST", "/api/swaps/"+swap.ID+"/rate", rateRequest{Score: 5}, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)
	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/complete", nil, alice)

	rec = do(t, mux, "POST", "/api/swaps/"+swap.ID+"/rate", rateRequest{Score: 6}, alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, mux, "POST", "/api/swaps/"+swap.ID+"/rate", rateRequest{Score: 5, Comment: "great swap"}, alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// 同一方不能评两次
	rec = do(t, mux, "POST", "/api/swaps/"+swap.ID+"/rate", rateRequest{Score: 1}, alice)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// 另一方可以评
	rec = do(t, mux, "POST", "/api/swaps/"+swap.ID+"/rate", rateRequest{Score: 4}, bob)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := store.GetSwap(context.Background(), swap.ID)
	require.NoError(t, err)
	require.NotNil(t, got.InitiatorRating)
	require.NotNil(t, got.RecipientRating)
	assert.Equal(t, 5, got.InitiatorRating.Score)
	assert.Equal(t, 4, got.RecipientRating.Score)
}

func TestGetSwapPermissions(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)
	carol := &auth.AuthUser{ID: "usr-carol", Role: "user"}

	rec := do(t, mux, "GET", "/api/swaps/"+swap.ID, nil, carol)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, mux, "GET", "/api/swaps/"+swap.ID, nil, bob)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, "GET", "/api/swaps/"+swap.ID, nil, admin)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, mux, "GET", "/api/swaps/swp-missing", nil, alice)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMySwaps(t *testing.T) {
	mux, store := newTestHandler(t)
	createSwap(t, mux, store)

	for _, u := range []*auth.AuthUser{alice, bob} {
		rec := do(t, mux, "GET", "/api/swaps/my-swaps", nil, u)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Swaps []model.Swap `json:"swaps"`
			Total int64        `json:"total"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1), resp.Total)
	}

	carol := &auth.AuthUser{ID: "usr-carol", Role: "user"}
	rec := do(t, mux, "GET", "/api/swaps/my-swaps", nil, carol)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(0), resp.Total)
}

func TestAdminListAndStats(t *testing.T) {
	mux, store := newTestHandler(t)
	swap := createSwap(t, mux, store)
	do(t, mux, "PUT", "/api/swaps/"+swap.ID+"/respond", respondRequest{Action: "accept"}, bob)

	rec := do(t, mux, "GET", "/api/swaps?status=accepted", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	assert.Equal(t, int64(1), listResp.Total)

	rec = do(t, mux, "GET", "/api/swaps/stats", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.SwapStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalSwaps)
	assert.Equal(t, 1, stats.ByStatus[model.SwapStatusAccepted])
	assert.Equal(t, 1, stats.ByType[model.SwapTypeItemSwap])
}
