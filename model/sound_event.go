package model

// SoundEventDescriptor 是每个分片对应的声音事件描述文档
// 平台的声音触发原语通过事件名找到它，再按索引触发
type SoundEventDescriptor struct {
	EventName   string  `json:"eventName"`
	AssetName   string  `json:"assetName"` // 指向已注册的分片资产
	Volume      float64 `json:"volume"`
	Pitch       float64 `json:"pitch"`
	MaxDistance float64 `json:"maxDistance"`
	Attenuation float64 `json:"attenuation"`
	Category    string  `json:"category"`
}
