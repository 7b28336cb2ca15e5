package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	listenerPresenceKey = "listener:%s:online" // String: 平台桥接在线心跳
	presenceTTL         = 60 * time.Second
)

// SetListenerOnline 标记听众在线（平台桥接连接建立或心跳时刷新）
func SetListenerOnline(ctx context.Context, listenerID string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	key := fmt.Sprintf(listenerPresenceKey, listenerID)
	return RedisClient.Set(ctx, key, time.Now().Unix(), presenceTTL).Err()
}

// SetListenerOffline 标记听众离线
func SetListenerOffline(ctx context.Context, listenerID string) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	key := fmt.Sprintf(listenerPresenceKey, listenerID)
	return RedisClient.Del(ctx, key).Err()
}

// IsListenerOnline 检查听众在线状态
func IsListenerOnline(ctx context.Context, listenerID string) (bool, error) {
	if RedisClient == nil {
		return false, fmt.Errorf("Redis client not initialized")
	}
	key := fmt.Sprintf(listenerPresenceKey, listenerID)
	n, err := RedisClient.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
