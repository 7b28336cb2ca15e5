package repository

import (
	"errors"
	"fmt"

	"ChunkFM/db"
	"ChunkFM/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserLibraryRepository 用户歌单仓库接口
type UserLibraryRepository interface {
	AddSong(song *model.UserLibrarySong) error
	RemoveSong(userID int64, trackID string) error
	ListSongs(userID int64) ([]model.UserLibrarySong, error)
	HasSong(userID int64, trackID string) (bool, error)
}

// gormUserLibraryRepository 基于 GORM 的实现
type gormUserLibraryRepository struct {
	db *gorm.DB
}

// NewGormUserLibraryRepository 创建用户歌单仓库
func NewGormUserLibraryRepository() UserLibraryRepository {
	return &gormUserLibraryRepository{db: db.GormDB}
}

// AddSong 添加歌曲到用户歌单，重复添加时更新标题和艺术家
func (r *gormUserLibraryRepository) AddSong(song *model.UserLibrarySong) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "artist", "source_url", "updated_at"}),
	}).Create(song).Error
	if err != nil {
		return fmt.Errorf("添加用户歌曲失败: %w", err)
	}
	return nil
}

// RemoveSong 从用户歌单移除歌曲
func (r *gormUserLibraryRepository) RemoveSong(userID int64, trackID string) error {
	result := r.db.Where("user_id = ? AND track_id = ?", userID, trackID).
		Delete(&model.UserLibrarySong{})
	if result.Error != nil {
		return fmt.Errorf("移除用户歌曲失败: %w", result.Error)
	}
	return nil
}

// ListSongs 获取用户歌单，按添加时间倒序
func (r *gormUserLibraryRepository) ListSongs(userID int64) ([]model.UserLibrarySong, error) {
	var songs []model.UserLibrarySong
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&songs).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户歌单失败: %w", err)
	}
	return songs, nil
}

// HasSong 检查歌曲是否已在用户歌单中
func (r *gormUserLibraryRepository) HasSong(userID int64, trackID string) (bool, error) {
	var song model.UserLibrarySong
	err := r.db.Where("user_id = ? AND track_id = ?", userID, trackID).
		First(&song).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询用户歌曲失败: %w", err)
	}
	return true, nil
}
