package model

import (
	"time"
)

// TaskType 任务类型
type TaskType string

const (
	TaskTypeDownload   TaskType = "download"
	TaskTypeTranscribe TaskType = "transcribe"
	TaskTypeSummarize  TaskType = "summarize"
	TaskTypeRefresh    TaskType = "refresh"
)

// ValidTaskType 检查任务类型是否合法
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeDownload, TaskTypeTranscribe, TaskTypeSummarize, TaskTypeRefresh:
		return true
	}
	return false
}

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// ActiveTaskStatuses 未完结状态列表（用于单飞检查）
var ActiveTaskStatuses = []TaskStatus{TaskStatusPending, TaskStatusProcessing}

// Task 异步任务模型
// 状态只会单向流转: pending -> processing -> completed/failed，
// pending 可直接进入 cancelled，终态之后不再变化。
type Task struct {
	ID           uint       `json:"-" gorm:"primaryKey"`
	TaskID       string     `json:"id" gorm:"size:36;not null;uniqueIndex"`
	TaskType     TaskType   `json:"type" gorm:"size:20;not null;index"`
	EpisodeID    uint       `json:"episode_id" gorm:"index"`
	FeedID       uint       `json:"feed_id" gorm:"index"`
	Status       TaskStatus `json:"status" gorm:"size:20;default:'pending';index"`
	Progress     int        `json:"progress" gorm:"default:0"`
	Params       string     `json:"-" gorm:"type:text"`      // JSON，提交时携带的执行参数
	Result       string     `json:"result" gorm:"type:text"` // JSON，仅completed时填充
	ErrorMsg     string     `json:"error_message" gorm:"type:text"`
	RevertStatus string     `json:"-" gorm:"size:20"` // 失败/取消时单集状态回退的目标
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// TableName 指定表名
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal 检查任务是否已到终态
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// IsActive 检查任务是否仍在进行中
func (t *Task) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}
