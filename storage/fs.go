package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// FilesystemStore 把 blob 写到本地目录，布局与 ObjectPath 一致。
// 单机部署和开发环境使用。
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) *FilesystemStore {
	return &FilesystemStore{root: root}
}

func (s *FilesystemStore) Put(ctx context.Context, objectPath string, data []byte) error {
	full := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0o644)
}

func (s *FilesystemStore) Delete(ctx context.Context, objectPath string) error {
	full := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FilesystemStore) Open(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.root, filepath.FromSlash(objectPath)))
}
