package mongostore

import (
	"context"
	"time"

	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// SwapStore
// ============================================================================

func (s *Store) CreateSwap(ctx context.Context, swap *model.Swap) error {
	return insertOne(ctx, s.col(ColSwaps), swap)
}

func (s *Store) GetSwap(ctx context.Context, id string) (*model.Swap, error) {
	return findOne[model.Swap](ctx, s.col(ColSwaps), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListSwaps(ctx context.Context, filter storage.SwapFilter) ([]*model.Swap, int, error) {
	q := bson.D{}
	if filter.UserID != "" {
		q = append(q, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "initiator_id", Value: filter.UserID}},
			bson.D{{Key: "recipient_id", Value: filter.UserID}},
		}})
	}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: filter.Status})
	}
	if filter.Type != "" {
		q = append(q, bson.E{Key: "type", Value: filter.Type})
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	return findPage[model.Swap](ctx, s.col(ColSwaps), q, sort, filter.Page, filter.Limit)
}

// UpdateSwap 更新评分、拒绝原因等非状态字段
func (s *Store) UpdateSwap(ctx context.Context, swap *model.Swap) error {
	return updateFields(ctx, s.col(ColSwaps), swap.ID, bson.D{
		{Key: "message", Value: swap.Message},
		{Key: "rejection_reason", Value: swap.RejectionReason},
		{Key: "initiator_rating", Value: swap.InitiatorRating},
		{Key: "recipient_rating", Value: swap.RecipientRating},
		{Key: "updated_at", Value: time.Now()},
	})
}

// TransitionSwap 条件状态转移，并按目标状态落时间线字段
func (s *Store) TransitionSwap(ctx context.Context, id string, from, to model.SwapStatus, at time.Time) error {
	set := bson.D{
		{Key: "status", Value: to},
		{Key: "updated_at", Value: at},
	}
	switch to {
	case model.SwapStatusAccepted, model.SwapStatusRejected:
		set = append(set, bson.E{Key: "timeline.responded_at", Value: at})
	case model.SwapStatusCompleted:
		set = append(set, bson.E{Key: "timeline.completed_at", Value: at})
	case model.SwapStatusCancelled, model.SwapStatusExpired:
		set = append(set, bson.E{Key: "timeline.cancelled_at", Value: at})
	}
	return conditionalUpdate(ctx, s.col(ColSwaps), id,
		bson.D{{Key: "status", Value: from}},
		bson.D{{Key: "$set", Value: set}})
}

func (s *Store) HasOpenSwapForItem(ctx context.Context, itemID string) (bool, error) {
	n, err := s.col(ColSwaps).CountDocuments(ctx, bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			model.SwapStatusPending, model.SwapStatusAccepted,
		}}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "requested_item_id", Value: itemID}},
			bson.D{{Key: "offered_item_id", Value: itemID}},
		}},
	})
	if err != nil {
		return false, wrapError(err)
	}
	return n > 0, nil
}

func (s *Store) ListExpiredPendingSwaps(ctx context.Context, now time.Time, limit int) ([]*model.Swap, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	return findMany[model.Swap](ctx, s.col(ColSwaps), bson.D{
		{Key: "status", Value: model.SwapStatusPending},
		{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}},
	}, opts)
}

func (s *Store) SwapStats(ctx context.Context) (*model.SwapStats, error) {
	type row struct {
		Status model.SwapStatus `bson:"status"`
		Type   model.SwapType   `bson:"type"`
		Count  int              `bson:"count"`
	}
	pipeline := []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "status", Value: "$status"},
				{Key: "type", Value: "$type"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: "status", Value: "$_id.status"},
			{Key: "type", Value: "$_id.type"},
			{Key: "count", Value: 1},
		}}},
	}
	rows, err := aggregate[row](ctx, s.col(ColSwaps), pipeline)
	if err != nil {
		return nil, err
	}
	stats := &model.SwapStats{
		ByStatus: map[model.SwapStatus]int{},
		ByType:   map[model.SwapType]int{},
	}
	for _, r := range rows {
		stats.TotalSwaps += r.Count
		stats.ByStatus[r.Status] += r.Count
		stats.ByType[r.Type] += r.Count
	}
	stats.CompletedSwaps = stats.ByStatus[model.SwapStatusCompleted]
	stats.PendingSwaps = stats.ByStatus[model.SwapStatusPending]
	if stats.TotalSwaps > 0 {
		stats.CompletionRate = float64(stats.CompletedSwaps) / float64(stats.TotalSwaps)
	}
	return stats, nil
}

func (s *Store) CountSwapsSince(ctx context.Context, since time.Time) (int, error) {
	return countSince(ctx, s.col(ColSwaps), since)
}

func (s *Store) DailySwaps(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	return dailyCounts[model.DailyCount](ctx, s.col(ColSwaps), since)
}
