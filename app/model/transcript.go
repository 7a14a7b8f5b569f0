package model

import (
	"strings"
	"time"
)

// 转录来源常量
const (
	TranscriptSourceWhisper  = "whisper"
	TranscriptSourceOfficial = "official"
	TranscriptSourceManual   = "manual"
)

// Transcript 转录结果模型
type Transcript struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	EpisodeID uint      `json:"episode_id" gorm:"not null;uniqueIndex"`
	Text      string    `json:"text" gorm:"type:text"`
	Segments  string    `json:"segments" gorm:"type:text"` // JSON数组 [{start,end,time,text}]
	Language  string    `json:"language" gorm:"size:16"`
	WordCount int       `json:"word_count" gorm:"default:0"`
	Source    string    `json:"source" gorm:"size:32;default:'whisper'"`
	Model     string    `json:"model" gorm:"size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (Transcript) TableName() string {
	return "transcripts"
}

// CountWords 统计词数
func CountWords(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

// TranscriptSegment 转录分段
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Time  string  `json:"time"`
	Text  string  `json:"text"`
}
