// Package sweeper 过期交换清扫
//
// pending 的交换超过有效期后由后台任务标记为 expired，
// 并把被占用的物品放回可交换状态。
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"
)

// 每轮最多处理的过期交换数
const batchSize = 100

// Recorder 接收清扫器产出的业务指标
type Recorder interface {
	RecordSwapsExpired(n int)
	SetItemsCount(status string, count int)
	SetSwapsCount(status string, count int)
}

// Sweeper 过期交换清扫器
type Sweeper struct {
	swaps    storage.SwapStore
	items    storage.ItemStore
	interval time.Duration
	recorder Recorder // 可为 nil
}

// New 创建清扫器
func New(swaps storage.SwapStore, items storage.ItemStore, interval time.Duration) *Sweeper {
	return &Sweeper{swaps: swaps, items: items, interval: interval}
}

// SetRecorder 注入指标接收器
func (s *Sweeper) SetRecorder(r Recorder) {
	s.recorder = r
}

// Run 周期执行清扫直到 ctx 取消，启动时先跑一轮
func (s *Sweeper) Run(ctx context.Context) {
	log.Printf("[sweeper] started, interval=%s", s.interval)

	s.sweepCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return
		case <-ticker.C:
			s.sweepCycle(ctx)
		}
	}
}

func (s *Sweeper) sweepCycle(ctx context.Context) {
	if n := s.SweepOnce(ctx); n > 0 {
		log.Printf("[sweeper] expired %d swaps", n)
	}
	s.refreshGauges(ctx)
}

// SweepOnce 清扫一轮，返回成功标记为过期的数量
//
// 状态转移是条件更新，和用户并发的接受/取消互不干扰：
// 谁先写入谁生效，失败的一方拿到 ErrConflict 直接跳过。
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now()
	expired, err := s.swaps.ListExpiredPendingSwaps(ctx, now, batchSize)
	if err != nil {
		log.Printf("[sweeper] list expired swaps: %v", err)
		return 0
	}

	n := 0
	for _, sw := range expired {
		err := s.swaps.TransitionSwap(ctx, sw.ID, model.SwapStatusPending, model.SwapStatusExpired, now)
		if err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				log.Printf("[sweeper] expire swap %s: %v", sw.ID, err)
			}
			continue
		}
		n++

		for _, itemID := range sw.ItemIDs() {
			err := s.items.TransitionItemStatus(ctx, itemID,
				model.ItemStatusRequested, model.ItemStatusAvailable)
			if err != nil && !errors.Is(err, storage.ErrConflict) {
				log.Printf("[sweeper] release item %s: %v", itemID, err)
			}
		}
	}
	if n > 0 && s.recorder != nil {
		s.recorder.RecordSwapsExpired(n)
	}
	return n
}

// refreshGauges 每轮清扫后刷新各状态的物品和交换数量指标
func (s *Sweeper) refreshGauges(ctx context.Context) {
	if s.recorder == nil {
		return
	}
	for _, status := range []model.ItemStatus{
		model.ItemStatusAvailable,
		model.ItemStatusPendingApproval,
		model.ItemStatusRequested,
		model.ItemStatusSwapped,
		model.ItemStatusWithdrawn,
		model.ItemStatusRejected,
	} {
		count, err := s.items.CountItemsByStatus(ctx, status)
		if err != nil {
			log.Printf("[sweeper] count items %s: %v", status, err)
			continue
		}
		s.recorder.SetItemsCount(string(status), count)
	}

	stats, err := s.swaps.SwapStats(ctx)
	if err != nil {
		log.Printf("[sweeper] swap stats: %v", err)
		return
	}
	for status, count := range stats.ByStatus {
		s.recorder.SetSwapsCount(string(status), count)
	}
}
