package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/BaSui01/agentgraph/internal/database"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// checkpointRecord checkpoint_records 表的行
type checkpointRecord struct {
	ExecutionID string `gorm:"primaryKey;size:191"`
	GraphName   string `gorm:"size:191;index"`
	Status      string `gorm:"size:32"`
	Data        string `gorm:"not null"`
	Stamp       int64  `gorm:"column:stamp;not null"`
}

// TableName 指定表名
func (checkpointRecord) TableName() string {
	return "checkpoint_records"
}

// SQLStore 基于 gorm 的检查点存储，支持 PostgreSQL、MySQL 与 SQLite
type SQLStore struct {
	db     *gorm.DB
	closer io.Closer
	logger *zap.Logger
}

// NewSQLStore 创建 SQL 存储并自动迁移表结构
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoint table: %w", err)
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "checkpoint_sql")),
	}, nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, executionID string, cp *GraphCheckpoint) error {
	data, stamp, err := encode(executionID, cp)
	if err != nil {
		return err
	}
	rec := checkpointRecord{
		ExecutionID: executionID,
		GraphName:   cp.GraphName,
		Status:      string(cp.Status),
		Data:        string(data),
		Stamp:       stamp,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing checkpointRecord
		err := tx.Select("execution_id", "stamp").
			Where("execution_id = ?", executionID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&rec).Error
		}
		if err != nil {
			return err
		}
		if existing.Stamp > stamp {
			return ErrStale
		}
		return tx.Model(&checkpointRecord{}).
			Where("execution_id = ? AND stamp <= ?", executionID, stamp).
			Updates(map[string]any{
				"graph_name": rec.GraphName,
				"status":     rec.Status,
				"data":       rec.Data,
				"stamp":      rec.Stamp,
			}).Error
	})
	if err == nil || errors.Is(err, ErrStale) {
		return err
	}
	return ioError("save", executionID, err).WithRetryable(database.IsRetryable(err))
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, executionID string) (*GraphCheckpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(executionID)
	}
	if err != nil {
		return nil, ioError("load", executionID, err).WithRetryable(database.IsRetryable(err))
	}
	return decode([]byte(rec.Data))
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, executionID string) error {
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return ioError("delete", executionID, err).WithRetryable(database.IsRetryable(err))
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	ids := make([]string, 0)
	err := s.db.WithContext(ctx).
		Model(&checkpointRecord{}).
		Order("execution_id").
		Pluck("execution_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return ids, nil
}

// Close 关闭底层连接池（仅限由 NewStoreFromConfig 创建的存储）
func (s *SQLStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
