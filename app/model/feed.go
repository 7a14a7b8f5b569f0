package model

import (
	"time"
)

// Feed状态常量
const (
	FeedStatusActive = "active"
	FeedStatusPaused = "paused"
	FeedStatusError  = "error"
)

// Feed RSS订阅源模型
type Feed struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	RSSURL       string     `json:"rss_url" gorm:"not null;uniqueIndex"`
	Title        string     `json:"title"`
	Website      string     `json:"website"`
	Image        string     `json:"image"`
	Description  string     `json:"description" gorm:"type:text"`
	Author       string     `json:"author"`
	Language     string     `json:"language" gorm:"size:16"`
	Status       string     `json:"status" gorm:"size:16;default:'active';index"`
	LastChecked  *time.Time `json:"last_checked"`
	LastUpdated  *time.Time `json:"last_updated"`
	CheckError   string     `json:"check_error"`
	IsStarred    bool       `json:"is_starred" gorm:"default:false"`
	IsFavorite   bool       `json:"is_favorite" gorm:"default:false"`
	Note         string     `json:"note"`
	Tags         string     `json:"tags" gorm:"type:text"` // JSON数组
	EpisodeCount int        `json:"episode_count" gorm:"default:0"`
	UnreadCount  int        `json:"unread_count" gorm:"default:0"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Feed) TableName() string {
	return "feeds"
}

// ValidateRSSURL 验证RSS URL格式
func ValidateRSSURL(url string) bool {
	if url == "" {
		return false
	}
	return len(url) > 8 && (url[:7] == "http://" || url[:8] == "https://")
}
