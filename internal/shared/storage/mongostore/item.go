package mongostore

import (
	"context"
	"time"

	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// ItemStore
// ============================================================================

func (s *Store) CreateItem(ctx context.Context, item *model.Item) error {
	return insertOne(ctx, s.col(ColItems), item)
}

func (s *Store) GetItem(ctx context.Context, id string) (*model.Item, error) {
	return findOne[model.Item](ctx, s.col(ColItems), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*model.Item, int, error) {
	q := bson.D{}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: filter.Status})
	}
	if filter.Category != "" {
		q = append(q, bson.E{Key: "category", Value: filter.Category})
	}
	if filter.Size != "" {
		q = append(q, bson.E{Key: "size", Value: filter.Size})
	}
	if filter.Condition != "" {
		q = append(q, bson.E{Key: "condition", Value: filter.Condition})
	}
	if filter.OwnerID != "" {
		q = append(q, bson.E{Key: "owner_id", Value: filter.OwnerID})
	}
	if filter.MinPoints > 0 || filter.MaxPoints > 0 {
		rng := bson.D{}
		if filter.MinPoints > 0 {
			rng = append(rng, bson.E{Key: "$gte", Value: filter.MinPoints})
		}
		if filter.MaxPoints > 0 {
			rng = append(rng, bson.E{Key: "$lte", Value: filter.MaxPoints})
		}
		q = append(q, bson.E{Key: "points_value", Value: rng})
	}
	if filter.Featured != nil {
		q = append(q, bson.E{Key: "featured", Value: *filter.Featured})
	}
	if filter.Reported {
		q = append(q, bson.E{Key: "reports.0", Value: bson.D{{Key: "$exists", Value: true}}})
	}
	if filter.FavoritedBy != "" {
		q = append(q, bson.E{Key: "favorites", Value: filter.FavoritedBy})
	}
	if filter.Search != "" {
		regex := bson.D{{Key: "$regex", Value: filter.Search}, {Key: "$options", Value: "i"}}
		q = append(q, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "title", Value: regex}},
			bson.D{{Key: "description", Value: regex}},
			bson.D{{Key: "brand", Value: regex}},
			bson.D{{Key: "tags", Value: regex}},
		}})
	}
	return findPage[model.Item](ctx, s.col(ColItems), q, itemSort(filter.Sort), filter.Page, filter.Limit)
}

func itemSort(key string) bson.D {
	switch key {
	case "oldest":
		return bson.D{{Key: "created_at", Value: 1}}
	case "points_asc":
		return bson.D{{Key: "points_value", Value: 1}}
	case "points_desc":
		return bson.D{{Key: "points_value", Value: -1}}
	case "most_viewed":
		return bson.D{{Key: "views", Value: -1}}
	default:
		return bson.D{{Key: "created_at", Value: -1}}
	}
}

func (s *Store) UpdateItem(ctx context.Context, item *model.Item) error {
	return updateFields(ctx, s.col(ColItems), item.ID, bson.D{
		{Key: "title", Value: item.Title},
		{Key: "description", Value: item.Description},
		{Key: "category", Value: item.Category},
		{Key: "type", Value: item.Type},
		{Key: "size", Value: item.Size},
		{Key: "condition", Value: item.Condition},
		{Key: "brand", Value: item.Brand},
		{Key: "color", Value: item.Color},
		{Key: "material", Value: item.Material},
		{Key: "tags", Value: item.Tags},
		{Key: "images", Value: item.Images},
		{Key: "status", Value: item.Status},
		{Key: "points_value", Value: item.PointsValue},
		{Key: "measurements", Value: item.Measurements},
		{Key: "favorites", Value: item.Favorites},
		{Key: "reports", Value: item.Reports},
		{Key: "moderation_notes", Value: item.ModerationNotes},
		{Key: "moderated_by", Value: item.ModeratedBy},
		{Key: "moderated_at", Value: item.ModeratedAt},
		{Key: "featured", Value: item.Featured},
		{Key: "featured_until", Value: item.FeaturedUntil},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) SetItemStatus(ctx context.Context, id string, status model.ItemStatus) error {
	return updateFields(ctx, s.col(ColItems), id, bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) TransitionItemStatus(ctx context.Context, id string, from, to model.ItemStatus) error {
	return conditionalUpdate(ctx, s.col(ColItems), id,
		bson.D{{Key: "status", Value: from}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: to},
			{Key: "updated_at", Value: time.Now()},
		}}})
}

func (s *Store) IncrementItemViews(ctx context.Context, id string) error {
	res, err := s.col(ColItems).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "views", Value: 1}}}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	return deleteByID(ctx, s.col(ColItems), id)
}

func (s *Store) ItemStats(ctx context.Context) (*model.ItemStats, error) {
	pipeline := []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "available", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$status", model.ItemStatusAvailable}}}, 1, 0,
				}},
			}}}},
			{Key: "swapped", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$status", model.ItemStatusSwapped}}}, 1, 0,
				}},
			}}}},
			{Key: "avg_points", Value: bson.D{{Key: "$avg", Value: "$points_value"}}},
		}}},
	}
	type row struct {
		Total     int     `bson:"total"`
		Available int     `bson:"available"`
		Swapped   int     `bson:"swapped"`
		AvgPoints float64 `bson:"avg_points"`
	}
	rows, err := aggregate[row](ctx, s.col(ColItems), pipeline)
	if err != nil {
		return nil, err
	}
	stats := &model.ItemStats{}
	if len(rows) > 0 {
		stats.TotalItems = rows[0].Total
		stats.AvailableItems = rows[0].Available
		stats.SwappedItems = rows[0].Swapped
		stats.AvgPointsValue = rows[0].AvgPoints
	}
	return stats, nil
}

func (s *Store) CategoryStats(ctx context.Context) ([]model.CategoryStat, error) {
	pipeline := []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$category"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avg_points", Value: bson.D{{Key: "$avg", Value: "$points_value"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
	}
	return aggregate[model.CategoryStat](ctx, s.col(ColItems), pipeline)
}

func (s *Store) CountItemsSince(ctx context.Context, since time.Time) (int, error) {
	return countSince(ctx, s.col(ColItems), since)
}

func (s *Store) CountItemsByStatus(ctx context.Context, status model.ItemStatus) (int, error) {
	n, err := s.col(ColItems).CountDocuments(ctx, bson.D{{Key: "status", Value: status}})
	if err != nil {
		return 0, wrapError(err)
	}
	return int(n), nil
}

func (s *Store) CountReportedItems(ctx context.Context) (int, error) {
	n, err := s.col(ColItems).CountDocuments(ctx, bson.D{
		{Key: "reports.0", Value: bson.D{{Key: "$exists", Value: true}}},
	})
	if err != nil {
		return 0, wrapError(err)
	}
	return int(n), nil
}

func (s *Store) DailyUploads(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	return dailyCounts[model.DailyCount](ctx, s.col(ColItems), since)
}
