package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// mongoDocument 集合中的文档
type mongoDocument struct {
	ID        string `bson:"_id"`
	GraphName string `bson:"graph_name,omitempty"`
	Status    string `bson:"status"`
	Stamp     int64  `bson:"updated_at"`
	Data      string `bson:"data"`
}

// MongoStore 基于 MongoDB 的检查点存储
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// DialMongo 连接 MongoDB 并创建存储
func DialMongo(ctx context.Context, uri, database, collection string, timeout time.Duration, logger *zap.Logger) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	store := NewMongoStore(client.Database(database).Collection(collection), logger)
	store.client = client
	return store, nil
}

// NewMongoStore 使用已有集合创建存储
func NewMongoStore(collection *mongo.Collection, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		collection: collection,
		logger:     logger.With(zap.String("component", "checkpoint_mongo")),
	}
}

// Save implements Store.
//
// upsert 只匹配时间戳不晚于本次写入的文档；已保存的版本更新时，
// upsert 会尝试插入同一 _id 并因主键冲突失败，此时返回 ErrStale。
func (s *MongoStore) Save(ctx context.Context, executionID string, cp *GraphCheckpoint) error {
	data, stamp, err := encode(executionID, cp)
	if err != nil {
		return err
	}
	doc := mongoDocument{
		ID:        executionID,
		GraphName: cp.GraphName,
		Status:    string(cp.Status),
		Stamp:     stamp,
		Data:      string(data),
	}
	filter := bson.D{
		{Key: "_id", Value: executionID},
		{Key: "updated_at", Value: bson.D{{Key: "$lte", Value: stamp}}},
	}

	_, err = s.collection.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrStale
	}
	if err != nil {
		return ioError("save", executionID, err).WithRetryable(isTransient(err))
	}
	return nil
}

// Load implements Store.
func (s *MongoStore) Load(ctx context.Context, executionID string) (*GraphCheckpoint, error) {
	var doc mongoDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: executionID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound(executionID)
	}
	if err != nil {
		return nil, ioError("load", executionID, err).WithRetryable(isTransient(err))
	}
	return decode([]byte(doc.Data))
}

// Delete implements Store.
func (s *MongoStore) Delete(ctx context.Context, executionID string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: executionID}}); err != nil {
		return ioError("delete", executionID, err).WithRetryable(isTransient(err))
	}
	return nil
}

// List implements Store.
func (s *MongoStore) List(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids, nil
}

// Close 断开连接（仅限由 DialMongo 创建的存储）
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
