package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"ChunkFM/cache"
	"ChunkFM/config"
	"ChunkFM/logger"

	"github.com/minio/minio-go/v7"
)

const assetCacheTTL = 30 * time.Minute

// ObjectStore 是注册表需要的最小对象存储接口
// 生产环境由 minioStore 包装 *minio.Client 实现，测试用内存实现
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
	Stat(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
}

// minioStore 基于 MinIO 的对象存储实现
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 包装 MinIO 客户端为 ObjectStore
func NewMinioStore(client *minio.Client, bucket string) ObjectStore {
	return &minioStore{client: client, bucket: bucket}
}

func (s *minioStore) Put(ctx context.Context, name string, data []byte, contentType string) error {
	opts := minio.PutObjectOptions{
		ContentType:      contentType,
		DisableMultipart: true,
	}
	_, err := s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), opts)
	return err
}

func (s *minioStore) Stat(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *minioStore) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (s *minioStore) Remove(ctx context.Context, name string) error {
	return s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
}

// Registry 以名字注册可播放资产
// 写入对象存储，同时在 Redis 中维护热缓存，读取时缓存优先、MinIO 兜底
type Registry struct {
	cfg   *config.Config
	store ObjectStore
}

// NewRegistry 创建资产注册表
func NewRegistry(cfg *config.Config, store ObjectStore) *Registry {
	return &Registry{cfg: cfg, store: store}
}

// RegisterNamedAsset 注册命名资产，已存在时覆盖
func (r *Registry) RegisterNamedAsset(ctx context.Context, name string, data []byte, contentType string) error {
	if err := r.store.Put(ctx, name, data, contentType); err != nil {
		return fmt.Errorf("注册资产失败 %s: %w", name, err)
	}

	// Redis 缓存失败不阻断注册，读取时由 MinIO 兜底
	if cache.RedisClient != nil {
		if err := cache.SetChunkCache(cache.AssetCacheKey(name), data, assetCacheTTL); err != nil {
			logger.Warn("资产写入Redis缓存失败",
				logger.String("asset", name),
				logger.ErrorField(err))
		}
	}

	logger.Debug("资产注册成功",
		logger.String("asset", name),
		logger.Int("size", len(data)))

	return nil
}

// HasAsset 检查资产是否已注册
func (r *Registry) HasAsset(ctx context.Context, name string) (bool, error) {
	return r.store.Stat(ctx, name)
}

// RemoveAssetByName 删除命名资产
func (r *Registry) RemoveAssetByName(ctx context.Context, name string) error {
	if err := r.store.Remove(ctx, name); err != nil {
		return fmt.Errorf("删除资产失败 %s: %w", name, err)
	}
	if cache.RedisClient != nil {
		_ = cache.DeleteChunkPattern(cache.AssetCacheKey(name))
	}
	return nil
}

// FetchAsset 获取资产内容，缓存优先
func (r *Registry) FetchAsset(ctx context.Context, name string) ([]byte, error) {
	if cache.RedisClient != nil {
		if data, _ := cache.GetChunkCache(cache.AssetCacheKey(name)); data != nil {
			return data, nil
		}
	}

	data, err := r.store.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("获取资产失败 %s: %w", name, err)
	}

	// 回填缓存
	if cache.RedisClient != nil {
		_ = cache.SetChunkCache(cache.AssetCacheKey(name), data, assetCacheTTL)
	}

	return data, nil
}
