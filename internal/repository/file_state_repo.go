package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// validKey はファイル名として安全なキーの形式。
var validKey = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// FileStateRepo はディレクトリ配下に1キー1ファイルで状態を保存するリポジトリ。
// 書き込みは一時ファイルへの書き出しとrenameで行い、途中で中断しても壊れた値を残さない。
type FileStateRepo struct {
	dir string
	mu  sync.Mutex
}

// NewFileStateRepo はFileStateRepoを生成する。ディレクトリが存在しない場合は作成する。
func NewFileStateRepo(dir string) (*FileStateRepo, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateRepo{dir: dir}, nil
}

func (r *FileStateRepo) path(key string) (string, error) {
	if !validKey.MatchString(key) {
		return "", fmt.Errorf("invalid state key: %q", key)
	}
	return filepath.Join(r.dir, key+".json"), nil
}

// Get は指定キーのファイル内容を返す。ファイルが存在しない場合はnilを返す。
func (r *FileStateRepo) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := r.path(key)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state %q: %w", key, err)
	}
	return data, nil
}

// Set は指定キーのファイルを原子的に置き換える。
func (r *FileStateRepo) Set(ctx context.Context, key string, value []byte) error {
	p, err := r.path(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(r.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write state %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close state %q: %w", key, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state %q: %w", key, err)
	}
	return nil
}

// Delete は指定キーのファイルを削除する。
func (r *FileStateRepo) Delete(ctx context.Context, key string) error {
	p, err := r.path(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete state %q: %w", key, err)
	}
	return nil
}

// compile-time interface check
var _ StateRepository = (*FileStateRepo)(nil)
