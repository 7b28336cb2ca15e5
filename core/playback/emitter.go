package playback

import "ChunkFM/model"

// SoundEmitter 是平台侧的声音触发原语
// 触发调用假定为即发即弃：事件索引有效则必定成功
type SoundEmitter interface {
	// TriggerAt 在空间坐标处触发一次声音事件
	TriggerAt(eventIndex int, desc model.SoundEventDescriptor, pos model.Position, volume float64)
	// TriggerForListener 对指定听者触发一次声音事件
	TriggerForListener(eventIndex int, desc model.SoundEventDescriptor, listenerID string, volume float64)
}

// ListenerGate 判断听者当前是否有资格接收音频
// 由平台桥接层实现，掉线或离开区域的听者会被判定为不可达
type ListenerGate interface {
	IsListenerEligible(listenerID string) bool
}
