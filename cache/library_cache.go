package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ChunkFM/model"

	"github.com/go-redis/redis/v8"
)

const libraryEntryTTL = 24 * time.Hour

// libraryEntryKey 生成曲目登记项的缓存键
func libraryEntryKey(trackID string) string {
	return fmt.Sprintf("library:%s", trackID)
}

// SetLibraryEntry 缓存曲目登记项，减少重复采集时的数据库查询
func SetLibraryEntry(ctx context.Context, entry *model.LibraryEntry) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal library entry: %w", err)
	}

	return RedisClient.Set(ctx, libraryEntryKey(entry.TrackID), data, libraryEntryTTL).Err()
}

// GetLibraryEntry 获取缓存的曲目登记项，未命中返回 (nil, nil)
func GetLibraryEntry(ctx context.Context, trackID string) (*model.LibraryEntry, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	data, err := RedisClient.Get(ctx, libraryEntryKey(trackID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var entry model.LibraryEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeleteLibraryEntry 删除缓存的曲目登记项（采集失败回滚时调用）
func DeleteLibraryEntry(ctx context.Context, trackID string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	return RedisClient.Del(ctx, libraryEntryKey(trackID)).Err()
}
