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

// TranscriptHandler 转录管理处理器
type TranscriptHandler struct {
	queue *service.TaskQueue
}

// NewTranscriptHandler 创建转录管理处理器
func NewTranscriptHandler(queue *service.TaskQueue) *TranscriptHandler {
	return &TranscriptHandler{queue: queue}
}

// GetTranscript 获取单集转录
// GET /api/transcripts/:episode_id
func (h *TranscriptHandler) GetTranscript(c *gin.Context) {
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

	var transcript model.Transcript
	if err := database.DB.Where("episode_id = ?", episodeID).First(&transcript).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "转录不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取转录失败")
		return
	}

	success(c, transcript, "")
}

// CreateTranscript 创建转录任务（异步）
// POST /api/transcripts/:episode_id
func (h *TranscriptHandler) CreateTranscript(c *gin.Context) {
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

	// 前置条件在提交前同步检查：
	// 已有转录是ALREADY_TRANSCRIBED；既没官方字幕也没下载音频则无法转录
	if episode.HasTranscript {
		fail(c, http.StatusBadRequest, "ALREADY_TRANSCRIBED", "单集已有转录")
		return
	}
	if episode.TranscriptURL == "" {
		if episode.AudioURL == "" {
			fail(c, http.StatusBadRequest, "NO_AUDIO_URL", "单集没有音频地址")
			return
		}
		if episode.LocalPath == "" {
			fail(c, http.StatusBadRequest, "AUDIO_NOT_DOWNLOADED", "音频尚未下载，请先下载")
			return
		}
	}

	task, err := h.queue.Submit(service.SubmitOptions{
		Type:          model.TaskTypeTranscribe,
		EpisodeID:     episode.ID,
		RunningStatus: model.EpisodeStatusTranscribing,
		RevertStatus:  episode.DisplayStatus(nil),
	})
	if err != nil {
		if errors.Is(err, service.ErrTaskInProgress) {
			fail(c, http.StatusConflict, "TASK_IN_PROGRESS", "转录任务已在进行中")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "提交转录任务失败")
		return
	}

	created(c, http.StatusAccepted, gin.H{"task_id": task.TaskID, "status": "queued"}, "")
}
