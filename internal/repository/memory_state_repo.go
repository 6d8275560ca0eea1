package repository

import (
	"context"
	"sync"
)

// MemoryStateRepo はプロセス内メモリに状態を保持するリポジトリ。
// テストと永続化不要な実行で使用する。
type MemoryStateRepo struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStateRepo はMemoryStateRepoを生成する。
func NewMemoryStateRepo() *MemoryStateRepo {
	return &MemoryStateRepo{data: make(map[string][]byte)}
}

// Get は指定キーの値のコピーを返す。
func (r *MemoryStateRepo) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.data[key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set は指定キーに値を保存する。
func (r *MemoryStateRepo) Set(ctx context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	r.mu.Lock()
	r.data[key] = v
	r.mu.Unlock()
	return nil
}

// Delete は指定キーを削除する。
func (r *MemoryStateRepo) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	delete(r.data, key)
	r.mu.Unlock()
	return nil
}

// Keys は保存されているキーの数を返す。テスト用。
func (r *MemoryStateRepo) Keys() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// compile-time interface check
var _ StateRepository = (*MemoryStateRepo)(nil)
