package handler

import (
	"errors"
	"net/http"

	"podcast-fusion/app/database"
	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SummaryHandler 摘要管理处理器
type SummaryHandler struct {
	queue *service.TaskQueue
}

// NewSummaryHandler 创建摘要管理处理器
func NewSummaryHandler(queue *service.TaskQueue) *SummaryHandler {
	return &SummaryHandler{queue: queue}
}

// GetSummary 获取单集摘要，不指定类型时返回最新一条
// GET /api/summaries/:episode_id?summary_type=
func (h *SummaryHandler) GetSummary(c *gin.Context) {
	episodeID, ok := parseUintParam(c, "episode_id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, episodeID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	query := database.DB.Where("episode_id = ?", episodeID)
	if summaryType := c.Query("summary_type"); summaryType != "" {
		query = query.Where("summary_type = ?", summaryType)
	}

	var summary model.Summary
	if err := query.Order("created_at DESC").First(&summary).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "SUMMARY_NOT_FOUND", "摘要不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取摘要失败")
		return
	}

	success(c, summary, "")
}

// CreateSummary 创建摘要任务（异步）
// POST /api/summaries/:episode_id  body: {summary_type, force}
func (h *SummaryHandler) CreateSummary(c *gin.Context) {
	episodeID, ok := parseUintParam(c, "episode_id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, episodeID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	var req struct {
		SummaryType string `json:"summary_type"`
		Force       bool   `json:"force"`
	}
	_ = c.ShouldBindJSON(&req)
	summaryType := model.ValidateSummaryType(req.SummaryType)

	// 摘要依赖转录
	var transcript model.Transcript
	if err := database.DB.Where("episode_id = ?", episodeID).First(&transcript).Error; err != nil || transcript.Text == "" {
		fail(c, http.StatusBadRequest, "TRANSCRIPT_NOT_FOUND", "转录不存在，请先生成转录")
		return
	}

	// 同类型摘要已存在且未指定force，提示客户端直接取已有结果
	if !req.Force {
		var existing model.Summary
		if err := database.DB.Where("episode_id = ? AND summary_type = ?", episodeID, summaryType).
			First(&existing).Error; err == nil {
			fail(c, http.StatusConflict, "SUMMARY_EXISTS", "同类型摘要已存在，可用force=true重新生成")
			return
		}
	}

	task, err := h.queue.Submit(service.SubmitOptions{
		Type:          model.TaskTypeSummarize,
		EpisodeID:     episode.ID,
		Params:        service.EncodeSummarizeParams(summaryType, req.Force),
		RunningStatus: model.EpisodeStatusSummarizing,
		RevertStatus:  episode.DisplayStatus(nil),
	})
	if err != nil {
		if errors.Is(err, service.ErrTaskInProgress) {
			fail(c, http.StatusConflict, "TASK_IN_PROGRESS", "摘要任务已在进行中")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "提交摘要任务失败")
		return
	}

	created(c, http.StatusAccepted, gin.H{
		"task_id":      task.TaskID,
		"status":       "queued",
		"summary_type": summaryType,
	}, "")
}
