package model

import (
	"time"
)

// 摘要类型常量
const (
	SummaryTypeGeneral    = "general"
	SummaryTypeInvestment = "investment"
	SummaryTypeLearning   = "learning"
)

// ValidateSummaryType 验证摘要类型，非法时回退为general
func ValidateSummaryType(summaryType string) string {
	switch summaryType {
	case SummaryTypeGeneral, SummaryTypeInvestment, SummaryTypeLearning:
		return summaryType
	}
	return SummaryTypeGeneral
}

// Summary 摘要结果模型
type Summary struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	EpisodeID   uint      `json:"episode_id" gorm:"not null;index:idx_summary_episode_type,unique"`
	SummaryType string    `json:"summary_type" gorm:"size:32;not null;index:idx_summary_episode_type,unique"`
	TLDR        string    `json:"tldr" gorm:"type:text"`
	Tags        string    `json:"tags" gorm:"type:text"`    // JSON数组
	Content     string    `json:"content" gorm:"type:text"` // 完整结构化内容，JSON
	Model       string    `json:"model" gorm:"size:64"`
	TokensUsed  string    `json:"tokens_used" gorm:"type:text"` // JSON {prompt,completion,total}
	ElapsedSecs float64   `json:"generation_time_seconds" gorm:"default:0"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Summary) TableName() string {
	return "summaries"
}
