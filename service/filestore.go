package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStorer is the object-store boundary holding raw uploaded bytes. The
// core only needs save/load/delete by key.
type FileStorer interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DiskStore keeps uploads under a local directory.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{root: root}, nil
}

func (d *DiskStore) Save(_ context.Context, key string, data []byte) error {
	return os.WriteFile(filepath.Join(d.root, key), data, 0644)
}

func (d *DiskStore) Load(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.root, key))
}

func (d *DiskStore) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(d.root, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
