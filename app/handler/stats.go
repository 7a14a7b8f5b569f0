package handler

import (
	"net/http"

	"podcast-fusion/app/database"
	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// StatsHandler 全局统计处理器
type StatsHandler struct {
	queue *service.TaskQueue
}

// NewStatsHandler 创建全局统计处理器
func NewStatsHandler(queue *service.TaskQueue) *StatsHandler {
	return &StatsHandler{queue: queue}
}

// GetStats 获取全局统计概览
// GET /api/stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	var feedCount, episodeCount, downloadedCount, transcriptCount, summaryCount, unreadCount int64

	database.DB.Model(&model.Feed{}).Count(&feedCount)
	database.DB.Model(&model.Episode{}).Count(&episodeCount)
	database.DB.Model(&model.Episode{}).Where("local_path != ''").Count(&downloadedCount)
	database.DB.Model(&model.Episode{}).Where("is_read = ?", false).Count(&unreadCount)
	database.DB.Model(&model.Transcript{}).Count(&transcriptCount)
	database.DB.Model(&model.Summary{}).Count(&summaryCount)

	queueStatus, err := h.queue.GetQueueStatus()
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取队列状态失败")
		return
	}

	success(c, gin.H{
		"feeds":       feedCount,
		"episodes":    episodeCount,
		"downloaded":  downloadedCount,
		"unread":      unreadCount,
		"transcripts": transcriptCount,
		"summaries":   summaryCount,
		"queue":       queueStatus,
	}, "")
}
