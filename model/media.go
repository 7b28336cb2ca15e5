package model

import "time"

// MediaInfo describes one successfully acquired track. It is produced once
// per acquisition and treated as immutable afterwards.
type MediaInfo struct {
	TrackID         string  `json:"trackId"`
	SourceURL       string  `json:"sourceUrl"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	ThumbnailURL    string  `json:"thumbnailUrl,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	ChunkCount      int     `json:"chunkCount"`
	ThumbnailAsset  string  `json:"thumbnailAsset,omitempty"` // registered asset name, empty when thumbnail acquisition failed
}

// LibraryEntry is the acquisition pipeline's own bookkeeping row:
// once chunking succeeded, later acquisitions of the same track skip the
// download and split stages entirely.
type LibraryEntry struct {
	TrackID    string    `json:"trackId"`
	SourceKind string    `json:"sourceKind"`
	ChunkCount int       `json:"chunkCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Position 表示世界坐标中的一个空间播放目标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Key returns the session map key for a spatial target.
func (p Position) Key() string {
	return positionKey(p.X, p.Y, p.Z)
}

// PlaybackStatus 是状态查询接口返回的会话快照
type PlaybackStatus struct {
	IsPlaying  bool    `json:"isPlaying"`
	IsPaused   bool    `json:"isPaused"`
	IsStopped  bool    `json:"isStopped"`
	Progress   float64 `json:"progress"` // 0..1
	PositionMs int64   `json:"positionMs"`
	DurationMs int64   `json:"durationMs"`
}
