package mongostore

import (
	"context"
	"time"

	"rewear/internal/shared/model"
	"rewear/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return insertOne(ctx, s.col(ColUsers), user)
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "email", Value: email}})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "username", Value: username}})
}

func (s *Store) GetUserByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{
		{Key: "password_reset_token", Value: tokenHash},
		{Key: "password_reset_expires", Value: bson.D{{Key: "$gt", Value: time.Now()}}},
	})
}

func (s *Store) ListUsers(ctx context.Context, filter storage.UserFilter) ([]*model.User, int, error) {
	q := bson.D{}
	if filter.ActiveOnly {
		q = append(q, bson.E{Key: "is_active", Value: true})
	}
	if filter.Search != "" {
		regex := bson.D{{Key: "$regex", Value: filter.Search}, {Key: "$options", Value: "i"}}
		q = append(q, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "username", Value: regex}},
			bson.D{{Key: "first_name", Value: regex}},
			bson.D{{Key: "last_name", Value: regex}},
		}})
	}
	sort := bson.D{{Key: "created_at", Value: -1}}
	return findPage[model.User](ctx, s.col(ColUsers), q, sort, filter.Page, filter.Limit)
}

// UpdateUser 更新用户资料
//
// 不覆盖 points/version，这两个字段只能走 UpdateUserPoints
func (s *Store) UpdateUser(ctx context.Context, user *model.User) error {
	return updateFields(ctx, s.col(ColUsers), user.ID, bson.D{
		{Key: "username", Value: user.Username},
		{Key: "email", Value: user.Email},
		{Key: "password_hash", Value: user.PasswordHash},
		{Key: "first_name", Value: user.FirstName},
		{Key: "last_name", Value: user.LastName},
		{Key: "bio", Value: user.Bio},
		{Key: "location", Value: user.Location},
		{Key: "profile_photo", Value: user.ProfilePhoto},
		{Key: "preferences", Value: user.Preferences},
		{Key: "is_active", Value: user.IsActive},
		{Key: "is_admin", Value: user.IsAdmin},
		{Key: "last_login", Value: user.LastLogin},
		{Key: "password_reset_token", Value: user.PasswordResetToken},
		{Key: "password_reset_expires", Value: user.PasswordResetExpires},
		{Key: "updated_at", Value: time.Now()},
	})
}

// UpdateUserPoints 乐观锁余额更新
func (s *Store) UpdateUserPoints(ctx context.Context, id string, points int, expectedVersion int64) error {
	return conditionalUpdate(ctx, s.col(ColUsers), id,
		bson.D{{Key: "version", Value: expectedVersion}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "points", Value: points},
				{Key: "updated_at", Value: time.Now()},
			}},
			{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		})
}

func (s *Store) UserStats(ctx context.Context) (*model.UserStats, error) {
	pipeline := []bson.D{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "active", Value: bson.D{{Key: "$sum", Value: bson.D{
				{Key: "$cond", Value: bson.A{"$is_active", 1, 0}},
			}}}},
			{Key: "total_points", Value: bson.D{{Key: "$sum", Value: "$points"}}},
			{Key: "avg_points", Value: bson.D{{Key: "$avg", Value: "$points"}}},
		}}},
	}
	type row struct {
		Total       int     `bson:"total"`
		Active      int     `bson:"active"`
		TotalPoints int     `bson:"total_points"`
		AvgPoints   float64 `bson:"avg_points"`
	}
	rows, err := aggregate[row](ctx, s.col(ColUsers), pipeline)
	if err != nil {
		return nil, err
	}
	stats := &model.UserStats{}
	if len(rows) > 0 {
		stats.TotalUsers = rows[0].Total
		stats.ActiveUsers = rows[0].Active
		stats.TotalPoints = rows[0].TotalPoints
		stats.AveragePoints = rows[0].AvgPoints
	}
	return stats, nil
}

func (s *Store) CountUsersSince(ctx context.Context, since time.Time) (int, error) {
	return countSince(ctx, s.col(ColUsers), since)
}

func (s *Store) DailySignups(ctx context.Context, since time.Time) ([]model.DailyCount, error) {
	return dailyCounts[model.DailyCount](ctx, s.col(ColUsers), since)
}
