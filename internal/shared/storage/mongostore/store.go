// Package mongostore 实现基于 MongoDB 的 storage.Store
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColUsers        = "users"
	ColItems        = "items"
	ColSwaps        = "swaps"
	ColTransactions = "points_transactions"
)

// Store 实现 storage.Store 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "rewear"
func NewStore(uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	db := client.Database(dbName)
	s := &Store{client: client, db: db}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// users
		{ColUsers, bson.D{{Key: "email", Value: 1}}, true},
		{ColUsers, bson.D{{Key: "username", Value: 1}}, true},
		{ColUsers, bson.D{{Key: "password_reset_token", Value: 1}}, false},
		{ColUsers, bson.D{{Key: "created_at", Value: -1}}, false},

		// items
		{ColItems, bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColItems, bson.D{{Key: "owner_id", Value: 1}}, false},
		{ColItems, bson.D{{Key: "category", Value: 1}}, false},
		{ColItems, bson.D{{Key: "points_value", Value: 1}}, false},
		{ColItems, bson.D{{Key: "featured", Value: 1}}, false},

		// swaps
		{ColSwaps, bson.D{{Key: "initiator_id", Value: 1}}, false},
		{ColSwaps, bson.D{{Key: "recipient_id", Value: 1}}, false},
		{ColSwaps, bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}, false},
		{ColSwaps, bson.D{{Key: "requested_item_id", Value: 1}}, false},
		{ColSwaps, bson.D{{Key: "offered_item_id", Value: 1}}, false},

		// points_transactions
		{ColTransactions, bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}, false},
		{ColTransactions, bson.D{{Key: "type", Value: 1}}, false},
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
