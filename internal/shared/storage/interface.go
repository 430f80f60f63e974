// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/（生产）、本包 memstore（测试）
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"time"

	"rewear/internal/shared/model"
)

// ============================================================================
// 查询过滤条件
// ============================================================================

// UserFilter 用户查询过滤条件
type UserFilter struct {
	Search     string // username/first_name/last_name 模糊匹配
	ActiveOnly bool
	Page       int
	Limit      int
}

// ItemFilter 物品查询过滤条件
type ItemFilter struct {
	Search      string // title/description/brand/tags 关键词
	Category    model.ItemCategory
	Size        model.ItemSize
	Condition   model.ItemCondition
	Status      model.ItemStatus
	OwnerID     string
	MinPoints   int
	MaxPoints   int // 0 表示不限
	Featured    *bool
	Reported    bool   // 只返回有举报的物品
	FavoritedBy string // 只返回该用户收藏的物品
	Sort        string
	Page        int
	Limit       int
}

// SwapFilter 交换查询过滤条件
type SwapFilter struct {
	UserID string // 参与方（发起或接收）
	Status model.SwapStatus
	Type   model.SwapType
	Page   int
	Limit  int
}

// TransactionFilter 账本查询过滤条件
type TransactionFilter struct {
	UserID string
	Type   model.TransactionType
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

// ============================================================================
// 按领域拆分的存储接口
// ============================================================================

// UserStore 用户存储接口
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByResetToken(ctx context.Context, tokenHash string) (*model.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*model.User, int, error)
	UpdateUser(ctx context.Context, user *model.User) error
	// UpdateUserPoints 乐观锁余额更新：仅当 version 匹配时写入新余额并递增 version，
	// 未命中返回 ErrConflict（用户不存在返回 ErrNotFound）
	UpdateUserPoints(ctx context.Context, id string, points int, expectedVersion int64) error
	UserStats(ctx context.Context) (*model.UserStats, error)
	CountUsersSince(ctx context.Context, since time.Time) (int, error)
	DailySignups(ctx context.Context, since time.Time) ([]model.DailyCount, error)
}

// ItemStore 物品存储接口
type ItemStore interface {
	CreateItem(ctx context.Context, item *model.Item) error
	GetItem(ctx context.Context, id string) (*model.Item, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*model.Item, int, error)
	UpdateItem(ctx context.Context, item *model.Item) error
	// SetItemStatus 无条件写入物品状态
	SetItemStatus(ctx context.Context, id string, status model.ItemStatus) error
	// TransitionItemStatus 条件更新：仅当当前状态为 from 时转移到 to，未命中返回 ErrConflict
	TransitionItemStatus(ctx context.Context, id string, from, to model.ItemStatus) error
	IncrementItemViews(ctx context.Context, id string) error
	DeleteItem(ctx context.Context, id string) error
	ItemStats(ctx context.Context) (*model.ItemStats, error)
	CategoryStats(ctx context.Context) ([]model.CategoryStat, error)
	CountItemsSince(ctx context.Context, since time.Time) (int, error)
	CountItemsByStatus(ctx context.Context, status model.ItemStatus) (int, error)
	CountReportedItems(ctx context.Context) (int, error)
	DailyUploads(ctx context.Context, since time.Time) ([]model.DailyCount, error)
}

// SwapStore 交换存储接口
type SwapStore interface {
	CreateSwap(ctx context.Context, swap *model.Swap) error
	GetSwap(ctx context.Context, id string) (*model.Swap, error)
	ListSwaps(ctx context.Context, filter SwapFilter) ([]*model.Swap, int, error)
	// UpdateSwap 只写入 message、rejection_reason 和双方评分，
	// 状态与时间线字段必须走 TransitionSwap
	UpdateSwap(ctx context.Context, swap *model.Swap) error
	// TransitionSwap 条件状态转移：仅当当前状态为 from 时写入 to 及对应时间线字段，
	// 未命中返回 ErrConflict
	TransitionSwap(ctx context.Context, id string, from, to model.SwapStatus, at time.Time) error
	// HasOpenSwapForItem 物品是否被 pending/accepted 的交换引用
	HasOpenSwapForItem(ctx context.Context, itemID string) (bool, error)
	// ListExpiredPendingSwaps 已超过有效期的 pending 交换（过期清扫用）
	ListExpiredPendingSwaps(ctx context.Context, now time.Time, limit int) ([]*model.Swap, error)
	SwapStats(ctx context.Context) (*model.SwapStats, error)
	CountSwapsSince(ctx context.Context, since time.Time) (int, error)
	DailySwaps(ctx context.Context, since time.Time) ([]model.DailyCount, error)
}

// PointsStore 积分账本存储接口
type PointsStore interface {
	CreateTransaction(ctx context.Context, tx *model.PointsTransaction) error
	GetTransaction(ctx context.Context, id string) (*model.PointsTransaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]*model.PointsTransaction, int, error)
	// MarkTransactionReversed 将原始记录标记为已冲正
	MarkTransactionReversed(ctx context.Context, id string, by, reason string, at time.Time) error
	PointsStats(ctx context.Context, userID string) (*model.PointsStats, error)
	ListRecentTransactions(ctx context.Context, limit int) ([]*model.PointsTransaction, error)
}

// Store 持久化存储组合接口
type Store interface {
	UserStore
	ItemStore
	SwapStore
	PointsStore
	Close(ctx context.Context) error
}
