package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tomoboard-server/core"
	"tomoboard-server/stores/blob"

	"github.com/sirupsen/logrus"
)

const tmpSuffix = ".tmp"

// Bucket keeps each object in its own file below basePath.
type Bucket struct {
	basePath string
}

func NewBucket(basePath string) (*Bucket, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}
	return &Bucket{basePath: abs}, nil
}

// NewStore returns a whiteboard store kept as JSON files below basePath.
func NewStore(basePath string) (core.Store, error) {
	bucket, err := NewBucket(basePath)
	if err != nil {
		return nil, err
	}
	return blob.NewStore(bucket), nil
}

func (b *Bucket) path(key string) (string, error) {
	p := filepath.Join(b.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(p, b.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q: access denied", key)
	}
	return p, nil
}

func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.ErrObjectNotFound
	}
	return data, err
}

// Put writes through a temp file and rename so readers never see a partial object.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*"+tmpSuffix)
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		logrus.WithField("file_path", p).WithError(err).Error("Failed to write object")
		return err
	}
	return nil
}

func (b *Bucket) Delete(ctx context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (b *Bucket) List(ctx context.Context, prefix string) ([]string, error) {
	root := b.basePath
	if i := strings.LastIndex(prefix, "/"); i >= 0 {
		root = filepath.Join(b.basePath, filepath.FromSlash(prefix[:i]))
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, tmpSuffix) {
			return nil
		}
		rel, err := filepath.Rel(b.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
