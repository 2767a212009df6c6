package stores

import (
	"context"
	"fmt"
	"io"

	"tomoboard-server/config"
	"tomoboard-server/core"
	"tomoboard-server/stores/aws"
	"tomoboard-server/stores/filesystem"
	"tomoboard-server/stores/memory"
	"tomoboard-server/stores/postgres"
	"tomoboard-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// GetStore opens the backend named by cfg.StorageType. The returned close
// func releases connections and is never nil.
func GetStore(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	var (
		store   core.Store
		closeFn = func() {}
		err     error
	)

	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	switch cfg.StorageType {
	case "filesystem":
		storageField["basePath"] = cfg.LocalStoragePath
		store, err = filesystem.NewStore(cfg.LocalStoragePath)
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		store, err = sqlite.NewStore(cfg.DataSourceName)
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL must be set for postgres storage")
		}
		pool, perr := postgres.NewPool(ctx, cfg.DatabaseURL)
		if perr != nil {
			return nil, nil, perr
		}
		store, closeFn = postgres.NewStore(pool), pool.Close
	case "s3":
		if cfg.S3BucketName == "" {
			return nil, nil, fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage")
		}
		storageField["bucketName"] = cfg.S3BucketName
		store, err = aws.NewStore(ctx, cfg.S3BucketName)
	case "memory", "":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.StorageType, err)
	}
	if closer, ok := store.(io.Closer); ok {
		closeFn = func() {
			if err := closer.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close storage")
			}
		}
	}

	logrus.WithFields(storageField).Info("Use storage")
	return store, closeFn, nil
}
