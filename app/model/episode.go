package model

import (
	"fmt"
	"time"
)

// Episode状态常量
const (
	EpisodeStatusNew          = "new"
	EpisodeStatusDownloading  = "downloading"
	EpisodeStatusDownloaded   = "downloaded"
	EpisodeStatusTranscribing = "transcribing"
	EpisodeStatusTranscribed  = "transcribed"
	EpisodeStatusSummarizing  = "summarizing"
	EpisodeStatusSummarized   = "summarized"
	EpisodeStatusError        = "error"
)

// Episode 播客单集模型
type Episode struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	FeedID        uint       `json:"feed_id" gorm:"not null;index:idx_episode_feed_guid,unique"`
	GUID          string     `json:"guid" gorm:"not null;index:idx_episode_feed_guid,unique"`
	Title         string     `json:"title"`
	Summary       string     `json:"summary" gorm:"type:text"`
	Content       string     `json:"content" gorm:"type:text"`
	Link          string     `json:"link"`
	Published     *time.Time `json:"published" gorm:"index"`
	AudioURL      string     `json:"audio_url"`
	AudioType     string     `json:"audio_type" gorm:"default:'audio/mpeg'"`
	AudioSize     int64      `json:"audio_size" gorm:"default:0"`
	Duration      int        `json:"duration" gorm:"default:0"` // 秒
	Image         string     `json:"image"`
	ChaptersURL   string     `json:"chapters_url"`
	TranscriptURL string     `json:"transcript_url"`
	Status        string     `json:"status" gorm:"size:20;default:'new';index"`
	LocalPath     string     `json:"local_path"` // 音频下载后的相对路径
	IsRead        bool       `json:"is_read" gorm:"default:false"`
	IsStarred     bool       `json:"is_starred" gorm:"default:false"`
	PlayPosition  int        `json:"play_position" gorm:"default:0"`
	HasTranscript bool       `json:"has_transcript" gorm:"default:false"`
	HasSummary    bool       `json:"has_summary" gorm:"default:false"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`

	FeedTitle string `json:"feed_title,omitempty" gorm:"-"`
}

// TableName 指定表名
func (Episode) TableName() string {
	return "episodes"
}

// CanDownload 检查是否可以开始下载
func (e *Episode) CanDownload() bool {
	return e.Status == EpisodeStatusNew || e.Status == EpisodeStatusError
}

// CanTranscribe 检查是否可以开始转录
func (e *Episode) CanTranscribe() bool {
	return e.LocalPath != "" && !e.HasTranscript
}

// CanSummarize 检查是否可以开始摘要
func (e *Episode) CanSummarize() bool {
	return e.HasTranscript
}

// IsProcessing 检查是否正在处理中
func (e *Episode) IsProcessing() bool {
	switch e.Status {
	case EpisodeStatusDownloading, EpisodeStatusTranscribing, EpisodeStatusSummarizing:
		return true
	}
	return false
}

// DisplayStatus 计算展示状态。
// 存储的status字段在部分失败后可能滞后，布尔标志加活动任务才是准确来源，
// 因此展示状态只由布尔标志和是否有活动任务推导。
func (e *Episode) DisplayStatus(activeTask *Task) string {
	if activeTask != nil && activeTask.IsActive() {
		switch activeTask.TaskType {
		case TaskTypeDownload:
			return EpisodeStatusDownloading
		case TaskTypeTranscribe:
			return EpisodeStatusTranscribing
		case TaskTypeSummarize:
			return EpisodeStatusSummarizing
		}
	}
	if e.HasSummary {
		return EpisodeStatusSummarized
	}
	if e.HasTranscript {
		return EpisodeStatusTranscribed
	}
	if e.LocalPath != "" {
		return EpisodeStatusDownloaded
	}
	if e.Status == EpisodeStatusError {
		return EpisodeStatusError
	}
	return EpisodeStatusNew
}

// FormatDuration 格式化时长为 H:MM:SS 或 MM:SS
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "00:00"
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}
