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
// PointsStore
// ============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx *model.PointsTransaction) error {
	return insertOne(ctx, s.col(ColTransactions), tx)
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*model.PointsTransaction, error) {
	return findOne[model.PointsTransaction](ctx, s.col(ColTransactions), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListTransactions(ctx context.Context, filter storage.TransactionFilter) ([]*model.PointsTransaction, int, error) {
	q := bson.D{}
	if filter.UserID != "" {
		q = append(q, bson.E{Key: "user_id", Value: filter.UserID})
	}
	if filter.Type != "" {
		q = append(q, bson.E{Key: "type", Value: filter.Type})
	}
	if filter.From != nil || filter.To != nil {
		rng := bson.D{}
		if filter.From != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: *filter.From})
		}
		if filter.To != nil {
			rng = append(rng, bson.E{Key: "$lte", Value: *filter.To})
		}
		q = append(q, bson.E{Key: "created_at", Value: rng})
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	return findPage[model.PointsTransaction](ctx, s.col(ColTransactions), q, sort, filter.Page, filter.Limit)
}

func (s *Store) MarkTransactionReversed(ctx context.Context, id string, by, reason string, at time.Time) error {
	return updateFields(ctx, s.col(ColTransactions), id, bson.D{
		{Key: "status", Value: model.TxStatusReversed},
		{Key: "reversed_at", Value: at},
		{Key: "reversed_by", Value: by},
		{Key: "reversal_reason", Value: reason},
	})
}

func (s *Store) PointsStats(ctx context.Context, userID string) (*model.PointsStats, error) {
	pipeline := []bson.D{
		{{Key: "$match", Value: bson.D{{Key: "user_id", Value: userID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "earned", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$gt", Value: bson.A{"$amount", 0}}}, "$amount", 0,
				}},
			}}}},
			{Key: "spent", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$lt", Value: bson.A{"$amount", 0}}},
					bson.D{{Key: "$abs", Value: "$amount"}}, 0,
				}},
			}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$amount"}}},
			{Key: "last", Value: bson.D{{Key: "$max", Value: "$created_at"}}},
		}}},
	}
	type row struct {
		Earned int        `bson:"earned"`
		Spent  int        `bson:"spent"`
		Count  int        `bson:"count"`
		Avg    float64    `bson:"avg"`
		Last   *time.Time `bson:"last"`
	}
	rows, err := aggregate[row](ctx, s.col(ColTransactions), pipeline)
	if err != nil {
		return nil, err
	}
	stats := &model.PointsStats{}
	if len(rows) > 0 {
		stats.TotalEarned = rows[0].Earned
		stats.TotalSpent = rows[0].Spent
		stats.TransactionNum = rows[0].Count
		stats.AverageAmount = rows[0].Avg
		stats.LastTransaction = rows[0].Last
	}
	return stats, nil
}

func (s *Store) ListRecentTransactions(ctx context.Context, limit int) ([]*model.PointsTransaction, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	return findMany[model.PointsTransaction](ctx, s.col(ColTransactions), bson.D{}, opts)
}
