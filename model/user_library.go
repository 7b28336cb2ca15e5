package model

import "time"

// UserLibrarySong 是按用户维度收藏的歌曲条目
// 由 GORM 管理（新模块使用 GORM，与既有的 database/sql 仓库并存）
type UserLibrarySong struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"index:idx_user_track,unique;not null" json:"userId"`
	TrackID   string    `gorm:"index:idx_user_track,unique;size:64;not null" json:"trackId"`
	Title     string    `gorm:"size:255" json:"title"`
	Artist    string    `gorm:"size:255" json:"artist"`
	SourceURL string    `gorm:"size:1024" json:"sourceUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (UserLibrarySong) TableName() string {
	return "user_library_songs"
}
