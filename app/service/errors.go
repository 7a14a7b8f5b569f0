package service

import "errors"

// 任务子系统错误类别。
// 处理器通过 errors.Is 区分并映射为对应的 error_code 与 HTTP 状态码。
var (
	// ErrTaskInProgress 同一资源同一类型已存在未完结任务（单飞约束）
	ErrTaskInProgress = errors.New("同类任务已在进行中")

	// ErrTaskNotFound 任务不存在或已被清理
	ErrTaskNotFound = errors.New("任务不存在")

	// ErrNotCancelable 任务已开始执行，不保证可中断，拒绝取消
	ErrNotCancelable = errors.New("任务已开始执行，无法取消")

	// ErrUnknownTaskType 未注册的任务类型
	ErrUnknownTaskType = errors.New("未知的任务类型")
)
