package fiomark

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// FsStore publishes artifacts below a local directory, one folder per bucket.
type FsStore struct {
	cfg *FsStoreConfig
}

type FsStoreConfig struct {
	RootPath string
}

func NewFsStore(storeConfig *FsStoreConfig) *FsStore {
	return &FsStore{
		cfg: storeConfig,
	}
}

func (c *FsStore) bucketPath(bucketName string) string {
	return filepath.Join(c.cfg.RootPath, bucketName)
}

func (c *FsStore) objectPath(bucketName string, key string) string {
	return filepath.Join(c.bucketPath(bucketName), filepath.FromSlash(key))
}

func (c *FsStore) CreateBucket(_ context.Context, bucketName string) (Timing, error) {
	start := time.Now()
	err := os.MkdirAll(c.bucketPath(bucketName), os.ModePerm)
	return Timing{Total: time.Since(start)}, errors.Wrapf(err, "creating folder %s", bucketName)
}

func (c *FsStore) PutObject(_ context.Context, bucketName string, key string, reader *bytes.Reader, _ string) (Timing, error) {
	start := time.Now()
	path := c.objectPath(bucketName, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return Timing{}, errors.Wrapf(err, "creating folder for %s", key)
	}
	writer, err := os.Create(path)
	if err != nil {
		return Timing{}, errors.Wrapf(err, "creating %s", path)
	}
	defer writer.Close()

	if _, err = reader.WriteTo(writer); err != nil {
		return Timing{}, errors.Wrapf(err, "writing %s", path)
	}
	return Timing{Total: time.Since(start)}, nil
}

func (c *FsStore) GetObject(_ context.Context, bucketName string, key string) (Timing, io.ReadCloser, error) {
	start := time.Now()
	readCloser, err := os.Open(c.objectPath(bucketName, key))
	if err != nil {
		return Timing{}, nil, errors.Wrapf(err, "opening %s", key)
	}
	return Timing{Total: time.Since(start)}, readCloser, nil
}

func (c *FsStore) DeleteObject(_ context.Context, bucketName string, key string) (Timing, error) {
	start := time.Now()
	err := os.Remove(c.objectPath(bucketName, key))
	if os.IsNotExist(err) {
		err = nil
	}
	return Timing{Total: time.Since(start)}, errors.Wrapf(err, "removing %s", key)
}
