package cache

import (
	"context"
	"fmt"
	"time"

	"ChunkFM/logger"
)

// AssetCacheKey 生成已注册资产的缓存键
func AssetCacheKey(assetName string) string {
	return fmt.Sprintf("asset:%s", assetName)
}

// SetChunkCache 设置分片缓存
func SetChunkCache(key string, data []byte, expiration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := RedisClient.Set(ctx, key, data, expiration).Err(); err != nil {
		logger.Error("设置分片缓存失败",
			logger.String("key", key),
			logger.Int("dataSize", len(data)),
			logger.ErrorField(err))
		return err
	}

	logger.Debug("分片缓存设置成功",
		logger.String("key", key),
		logger.Int("dataSize", len(data)),
		logger.Duration("expiration", expiration))

	return nil
}

// GetChunkCache 获取分片缓存
// 缓存未命中返回 (nil, nil)，调用方继续回源 MinIO
func GetChunkCache(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 最多重试2次
	maxRetries := 2
	retryDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		data, err := RedisClient.Get(ctx, key).Bytes()
		if err != nil {
			// redis nil 错误（键不存在），返回nil但不返回错误
			if err.Error() == "redis: nil" {
				logger.Debug("分片缓存不存在", logger.String("key", key))
				return nil, nil
			}

			// 其他错误且不是最后一次尝试，继续重试
			if attempt < maxRetries-1 {
				logger.Warn("获取分片缓存失败，准备重试",
					logger.String("key", key),
					logger.Int("attempt", attempt+1),
					logger.ErrorField(err))

				time.Sleep(retryDelay)
				retryDelay *= 2 // 指数退避
				continue
			}

			// 最终失败也不阻断调用方，由 MinIO 兜底
			logger.Error("获取分片缓存最终失败，将回源MinIO",
				logger.String("key", key),
				logger.Int("totalAttempts", maxRetries),
				logger.ErrorField(err))
			return nil, nil
		}

		logger.Debug("分片缓存命中",
			logger.String("key", key),
			logger.Int("dataSize", len(data)))

		return data, nil
	}

	return nil, nil
}

// DeleteChunkPattern 批量删除匹配模式的分片缓存
func DeleteChunkPattern(pattern string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	keys, err := RedisClient.Keys(ctx, pattern).Result()
	if err != nil {
		logger.Error("查找缓存键失败",
			logger.String("pattern", pattern),
			logger.ErrorField(err))
		return err
	}

	if len(keys) == 0 {
		return nil
	}

	if err := RedisClient.Del(ctx, keys...).Err(); err != nil {
		logger.Error("批量删除分片缓存失败",
			logger.String("pattern", pattern),
			logger.Int("keysCount", len(keys)),
			logger.ErrorField(err))
		return err
	}

	logger.Info("批量删除分片缓存成功",
		logger.String("pattern", pattern),
		logger.Int("deletedCount", len(keys)))

	return nil
}
