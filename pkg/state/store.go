// Package state 提供对话快照的存储功能
package state

import (
	"sort"
	"sync"
	"time"
)

// Store 快照存储接口
// 每个会话只保留最近一次写入的快照（last-write-wins）
type Store interface {
	// Put 保存或替换会话的快照
	Put(id string, snapshot Snapshot)

	// Get 获取会话最近一次保存的快照，不存在时 ok 为 false
	Get(id string) (snapshot Snapshot, ok bool)

	// Delete 删除会话快照
	Delete(id string) bool
}

type memoryEntry struct {
	snapshot  Snapshot
	updatedAt time.Time
}

// MemoryStore 基于内存的快照存储
// 线程安全；写入和读取都会复制快照，调用方持有的值不会影响存储内容
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建内存快照存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Put 保存快照
func (s *MemoryStore) Put(id string, snapshot Snapshot) {
	entry := &memoryEntry{snapshot: snapshot.Clone()}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.updatedAt = s.now()
	s.entries[id] = entry
}

// Get 获取快照
func (s *MemoryStore) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return Snapshot{}, false
	}
	return entry.snapshot.Clone(), true
}

// Delete 删除快照
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		return true
	}
	return false
}

// List 列出所有会话 ID（按字典序）
func (s *MemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len 返回快照数量
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// EvictIdle 清理超过 maxIdle 未更新的快照，返回清理数量
// keep 返回 true 的会话不会被清理（例如仍有待执行的唤醒任务）
func (s *MemoryStore) EvictIdle(maxIdle time.Duration, keep func(id string) bool) int {
	if maxIdle <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	expireTime := s.now().Add(-maxIdle)
	for id, entry := range s.entries {
		if !entry.updatedAt.Before(expireTime) {
			continue
		}
		if keep != nil && keep(id) {
			continue
		}
		delete(s.entries, id)
		count++
	}
	return count
}
