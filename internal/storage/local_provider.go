package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider keeps objects on the local filesystem. It backs cmd/local and
// tests; it is not intended for production deployments.
type LocalProvider struct {
	dir string
}

var _ Provider = (*LocalProvider)(nil)

func NewLocalProvider(dir string) *LocalProvider {
	return &LocalProvider{dir: dir}
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	return os.MkdirAll(filepath.Join(p.dir, bucket), os.ModePerm)
}

func (p *LocalProvider) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(p.dir, bucket, key))
}

func (p *LocalProvider) DownloadObject(ctx context.Context, bucket, key, filename string) error {
	src, err := os.Open(filepath.Join(p.dir, bucket, key))
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return err
	}

	dst, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	return nil
}

func (p *LocalProvider) GetObjectStream(bucket, key string) (io.Reader, error) {
	data, err := p.GetObject(context.Background(), bucket, key)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path := filepath.Join(p.dir, bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return err
	}

	return nil
}

func (p *LocalProvider) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(p.dir, bucket)

	var objects []Object
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{Name: name, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return objects, nil
}

func (p *LocalProvider) DownloadDir(ctx context.Context, bucket, prefix, dest string) error {
	objects, err := p.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		return fmt.Errorf("no objects found under %s/%s", bucket, prefix)
	}

	for _, obj := range objects {
		rel := strings.TrimPrefix(strings.TrimPrefix(obj.Name, prefix), "/")
		if rel == "" {
			continue
		}
		if err := p.DownloadObject(ctx, bucket, obj.Name, filepath.Join(dest, rel)); err != nil {
			return err
		}
	}

	return nil
}
