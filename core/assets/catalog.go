package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"ChunkFM/logger"
	"ChunkFM/model"
)

// ChunkAssetName 生成分片资产的注册名
func ChunkAssetName(trackID string, index int, format string) string {
	return fmt.Sprintf("chunks/%s/%s_chunk_%03d.%s", trackID, trackID, index, format)
}

// ChunkEventName 生成分片声音事件名
func ChunkEventName(trackID string, index int) string {
	return fmt.Sprintf("%s_chunk_%03d", trackID, index)
}

// ThumbnailAssetName 生成封面资产的注册名
func ThumbnailAssetName(trackID string) string {
	return fmt.Sprintf("thumbnails/%s.png", trackID)
}

// EventCatalog 维护声音事件名到触发索引的映射
// 平台的触发原语只认索引，调度器播放分片前先在这里解析事件名
type EventCatalog struct {
	mu          sync.RWMutex
	indexByName map[string]int
	descriptors []model.SoundEventDescriptor

	registry *Registry // 可为 nil（测试场景），此时描述文档不落盘
}

// NewEventCatalog 创建声音事件目录
func NewEventCatalog(registry *Registry) *EventCatalog {
	return &EventCatalog{
		indexByName: make(map[string]int),
		registry:    registry,
	}
}

// Register 注册声音事件描述，幂等：同名事件返回已有索引
func (c *EventCatalog) Register(ctx context.Context, desc model.SoundEventDescriptor) (int, error) {
	c.mu.Lock()
	if idx, ok := c.indexByName[desc.EventName]; ok {
		c.mu.Unlock()
		return idx, nil
	}

	idx := len(c.descriptors)
	c.descriptors = append(c.descriptors, desc)
	c.indexByName[desc.EventName] = idx
	c.mu.Unlock()

	// 描述文档持久化到对象存储，便于平台侧拉取
	if c.registry != nil {
		data, err := json.Marshal(desc)
		if err != nil {
			return idx, fmt.Errorf("序列化声音事件描述失败 %s: %w", desc.EventName, err)
		}
		name := fmt.Sprintf("events/%s.json", desc.EventName)
		if err := c.registry.RegisterNamedAsset(ctx, name, data, "application/json"); err != nil {
			// 内存索引已生效，落盘失败只降级记录
			logger.Warn("声音事件描述落盘失败",
				logger.String("event", desc.EventName),
				logger.ErrorField(err))
		}
	}

	return idx, nil
}

// IndexOf 查询事件名对应的触发索引
func (c *EventCatalog) IndexOf(eventName string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.indexByName[eventName]
	return idx, ok
}

// Descriptor 按索引取回事件描述
func (c *EventCatalog) Descriptor(index int) (model.SoundEventDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if index < 0 || index >= len(c.descriptors) {
		return model.SoundEventDescriptor{}, false
	}
	return c.descriptors[index], true
}

// Len 返回已注册事件数量
func (c *EventCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.descriptors)
}
