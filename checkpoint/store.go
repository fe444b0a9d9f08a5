package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// Store 检查点存储契约。同一执行 ID 只保留最新的快照。
type Store interface {
	// Save 保存快照；早于已保存版本的快照返回 ErrStale
	Save(ctx context.Context, executionID string, cp *GraphCheckpoint) error
	// Load 读取快照；不存在时返回 CHECKPOINT_NOT_FOUND 错误
	Load(ctx context.Context, executionID string) (*GraphCheckpoint, error)
	// Delete 删除快照；不存在时不报错
	Delete(ctx context.Context, executionID string) error
	// List 按字典序返回全部执行 ID
	List(ctx context.Context) ([]string, error)
}

type storedEntry struct {
	data  []byte
	stamp int64
}

// MemoryStore 内存存储，适合测试与单进程运行
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]storedEntry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]storedEntry)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, executionID string, cp *GraphCheckpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, stamp, err := encode(executionID, cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[executionID]; ok && cur.stamp > stamp {
		return ErrStale
	}
	s.entries[executionID] = storedEntry{data: data, stamp: stamp}
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, executionID string) (*GraphCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	cur, ok := s.entries[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound(executionID)
	}
	return decode(cur.data)
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, executionID)
	s.mu.Unlock()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}
