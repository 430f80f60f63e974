package mongostore

import (
	"context"
	"errors"

	"rewear/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// wrapError 将 MongoDB 错误转换为领域错误
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}

// findOne 查找单个文档并解码到 result，不存在时返回 storage.ErrNotFound
func findOne[T any](ctx context.Context, col *mongo.Collection, filter bson.D) (*T, error) {
	var result T
	if err := col.FindOne(ctx, filter).Decode(&result); err != nil {
		return nil, wrapError(err)
	}
	return &result, nil
}

// findMany 查找多个文档
func findMany[T any](ctx context.Context, col *mongo.Collection, filter bson.D, opts ...options.Lister[options.FindOptions]) ([]*T, error) {
	cursor, err := col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var results []*T
	for cursor.Next(ctx) {
		var item T
		if err := cursor.Decode(&item); err != nil {
			return nil, err
		}
		results = append(results, &item)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if results == nil {
		results = []*T{}
	}
	return results, nil
}

// findPage 按过滤条件分页查询并返回总数
func findPage[T any](ctx context.Context, col *mongo.Collection, filter bson.D, sort bson.D, page, limit int) ([]*T, int, error) {
	total, err := col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, wrapError(err)
	}

	opts := options.Find().SetSort(sort)
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		opts = opts.SetSkip(int64((page - 1) * limit)).SetLimit(int64(limit))
	}
	results, err := findMany[T](ctx, col, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return results, int(total), nil
}

// insertOne 插入单个文档
func insertOne(ctx context.Context, col *mongo.Collection, doc interface{}) error {
	_, err := col.InsertOne(ctx, doc)
	return wrapError(err)
}

// deleteByID 按 _id 删除
func deleteByID(ctx context.Context, col *mongo.Collection, id string) error {
	res, err := col.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// updateFields 按 _id 更新指定字段
func updateFields(ctx context.Context, col *mongo.Collection, id string, update bson.D) error {
	res, err := col.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: update}})
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// conditionalUpdate 条件更新：filter 额外包含状态/版本前置条件。
// 未命中时区分「实体不存在」和「前置条件失败」，后者返回 storage.ErrConflict。
func conditionalUpdate(ctx context.Context, col *mongo.Collection, id string, filter bson.D, update bson.D) error {
	fullFilter := append(bson.D{{Key: "_id", Value: id}}, filter...)
	res, err := col.UpdateOne(ctx, fullFilter, update)
	if err != nil {
		return wrapError(err)
	}
	if res.MatchedCount == 0 {
		n, err := col.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
		if err != nil {
			return wrapError(err)
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	}
	return nil
}

// countSince 统计 created_at 在 since 之后的文档数
func countSince(ctx context.Context, col *mongo.Collection, since interface{}) (int, error) {
	n, err := col.CountDocuments(ctx, bson.D{{Key: "created_at", Value: bson.D{{Key: "$gt", Value: since}}}})
	if err != nil {
		return 0, wrapError(err)
	}
	return int(n), nil
}

// dailyCounts 按天聚合 created_at 在 since 之后的文档数
func dailyCounts[T any](ctx context.Context, col *mongo.Collection, since interface{}) ([]T, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "created_at", Value: bson.D{{Key: "$gt", Value: since}}}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{{Key: "$dateToString", Value: bson.D{
				{Key: "format", Value: "%Y-%m-%d"},
				{Key: "date", Value: "$created_at"},
			}}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	return aggregate[T](ctx, col, pipeline)
}

// aggregate 执行聚合管道并解码全部结果
func aggregate[T any](ctx context.Context, col *mongo.Collection, pipeline mongo.Pipeline) ([]T, error) {
	cursor, err := col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	var results []T
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}
