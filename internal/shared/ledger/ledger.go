// Package ledger 实现积分账本
//
// 所有积分余额变更必须经过本包：Record 在一次调用里完成
// 余额校验、余额写入（乐观锁）和账本记录插入，
// 保证余额与账本不脱节且余额永不为负。
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

var (
	// ErrZeroAmount 交易金额不允许为 0
	ErrZeroAmount = errors.New("ledger: amount must be non-zero")

	// ErrInsufficientPoints 扣减后余额为负
	ErrInsufficientPoints = errors.New("ledger: insufficient points")

	// ErrAlreadyReversed 交易已被冲正
	ErrAlreadyReversed = errors.New("ledger: transaction already reversed")

	// ErrInvalidType 非法交易类型
	ErrInvalidType = errors.New("ledger: invalid transaction type")
)

// 乐观锁冲突时的重试次数
const casRetries = 3

// Ledger 积分账本服务
type Ledger struct {
	users    storage.UserStore
	points   storage.PointsStore
	observer func(txType model.TransactionType, amount int)
}

// New 创建账本服务
func New(users storage.UserStore, points storage.PointsStore) *Ledger {
	return &Ledger{users: users, points: points}
}

// SetObserver 注册交易落账后的回调，用于上报积分发放指标
//
// 必须在服务开始处理请求前调用，之后不再并发安全。
func (l *Ledger) SetObserver(fn func(txType model.TransactionType, amount int)) {
	l.observer = fn
}

// Entry 一次账本写入请求
type Entry struct {
	UserID    string
	Type      model.TransactionType
	Amount    int // 有符号：正为入账、负为出账
	Reason    string
	Reference *model.Reference
	Metadata  *model.TransactionMetadata
}

// Record 写入一笔账本交易并更新用户余额
//
// 余额更新用 version 字段做乐观锁，冲突时重读重试，
// 连续 casRetries 次失败返回 storage.ErrConflict。
func (l *Ledger) Record(ctx context.Context, e Entry) (*model.PointsTransaction, error) {
	if e.Amount == 0 {
		return nil, ErrZeroAmount
	}
	if !e.Type.Valid() {
		return nil, ErrInvalidType
	}
	if e.Reference != nil && !e.Reference.Kind.Valid() {
		return nil, fmt.Errorf("ledger: invalid reference kind %q", e.Reference.Kind)
	}

	var newBalance int
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		user, err := l.users.GetUser(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		newBalance = user.Points + e.Amount
		if newBalance < 0 {
			return nil, ErrInsufficientPoints
		}

		err = l.users.UpdateUserPoints(ctx, e.UserID, newBalance, user.Version)
		if err == nil {
			lastErr = nil
			break
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}

	tx := &model.PointsTransaction{
		ID:           generateTxID(),
		UserID:       e.UserID,
		Type:         e.Type,
		Amount:       e.Amount,
		Reason:       e.Reason,
		BalanceAfter: newBalance,
		Reference:    e.Reference,
		Metadata:     e.Metadata,
		Status:       model.TxStatusCompleted,
		CreatedAt:    time.Now(),
	}
	if err := l.points.CreateTransaction(ctx, tx); err != nil {
		// 余额已落库而记录插入失败：记日志，让对账发现
		log.Printf("[ledger] balance updated but transaction insert failed: user=%s amount=%d err=%v", e.UserID, e.Amount, err)
		return nil, err
	}
	if l.observer != nil {
		l.observer(tx.Type, tx.Amount)
	}
	return tx, nil
}

// Reverse 冲正一笔交易
//
// 原记录保持不可变，仅标记 reversed；补偿通过一笔反向的
// refund 记录完成，同样受余额下限约束。
func (l *Ledger) Reverse(ctx context.Context, txID, reason, actorID string) (*model.PointsTransaction, error) {
	orig, err := l.points.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig.Status == model.TxStatusReversed {
		return nil, ErrAlreadyReversed
	}

	comp, err := l.Record(ctx, Entry{
		UserID:    orig.UserID,
		Type:      model.TxRefund,
		Amount:    -orig.Amount,
		Reason:    "Reversal: " + reason,
		Reference: &model.Reference{Kind: model.RefTransaction, ID: orig.ID},
		Metadata:  &model.TransactionMetadata{AdminID: actorID},
	})
	if err != nil {
		return nil, err
	}

	if err := l.points.MarkTransactionReversed(ctx, orig.ID, actorID, reason, time.Now()); err != nil {
		return nil, err
	}
	log.Printf("[ledger] reversed transaction %s for user %s (amount %d)", orig.ID, orig.UserID, orig.Amount)
	return comp, nil
}

// History 分页查询账本
func (l *Ledger) History(ctx context.Context, filter storage.TransactionFilter) ([]*model.PointsTransaction, int, error) {
	return l.points.ListTransactions(ctx, filter)
}

// Stats 单用户积分统计
func (l *Ledger) Stats(ctx context.Context, userID string) (*model.PointsStats, error) {
	return l.points.PointsStats(ctx, userID)
}

func generateTxID() string {
	b := make([]byte, 6)
	rand.Read(b)
	return "txn-" + hex.EncodeToString(b)
}
