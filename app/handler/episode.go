package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"podcast-fusion/app/database"
	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// EpisodeHandler 单集管理处理器
type EpisodeHandler struct {
	queue *service.TaskQueue
}

// NewEpisodeHandler 创建单集管理处理器
func NewEpisodeHandler(queue *service.TaskQueue) *EpisodeHandler {
	return &EpisodeHandler{queue: queue}
}

// ListEpisodes 获取单集列表（全局），按发布时间倒序
// GET /api/episodes?status=&is_read=&is_starred=&feed_id=
func (h *EpisodeHandler) ListEpisodes(c *gin.Context) {
	page, perPage := getPaginationParams(c)

	query := database.DB.Model(&model.Episode{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if isRead := getBoolQuery(c, "is_read"); isRead != nil {
		query = query.Where("is_read = ?", *isRead)
	}
	if isStarred := getBoolQuery(c, "is_starred"); isStarred != nil {
		query = query.Where("is_starred = ?", *isStarred)
	}
	if feedID, err := strconv.ParseUint(c.Query("feed_id"), 10, 32); err == nil {
		query = query.Where("feed_id = ?", feedID)
	}

	var total int64
	query.Count(&total)

	var episodes []model.Episode
	if err := query.Order("published DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&episodes).Error; err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集列表失败")
		return
	}

	h.attachFeedTitles(episodes)
	h.attachDisplayStatus(episodes)

	paginated(c, episodes, page, perPage, total)
}

// attachDisplayStatus 批量推导展示状态，保证列表和详情口径一致
func (h *EpisodeHandler) attachDisplayStatus(episodes []model.Episode) {
	if len(episodes) == 0 {
		return
	}

	ids := make([]uint, 0, len(episodes))
	for _, ep := range episodes {
		ids = append(ids, ep.ID)
	}

	active, err := h.queue.GetActiveTasksByEpisode(ids)
	if err != nil {
		return
	}
	for i := range episodes {
		episodes[i].Status = episodes[i].DisplayStatus(active[episodes[i].ID])
	}
}

// attachFeedTitles 批量补充订阅标题
func (h *EpisodeHandler) attachFeedTitles(episodes []model.Episode) {
	if len(episodes) == 0 {
		return
	}

	feedIDs := make([]uint, 0, len(episodes))
	seen := make(map[uint]bool)
	for _, ep := range episodes {
		if !seen[ep.FeedID] {
			seen[ep.FeedID] = true
			feedIDs = append(feedIDs, ep.FeedID)
		}
	}

	var feeds []model.Feed
	database.DB.Where("id IN ?", feedIDs).Find(&feeds)
	titles := make(map[uint]string, len(feeds))
	for _, f := range feeds {
		titles[f.ID] = f.Title
	}

	for i := range episodes {
		episodes[i].FeedTitle = titles[episodes[i].FeedID]
	}
}

// GetEpisode 获取单集详情
// GET /api/episodes/:id
func (h *EpisodeHandler) GetEpisode(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	// 展示状态由布尔标志和活动任务推导，不信存储的status
	if activeTask, err := h.queue.GetActiveTask(episode.ID); err == nil {
		episode.Status = episode.DisplayStatus(activeTask)
	}

	var feed model.Feed
	if err := database.DB.First(&feed, episode.FeedID).Error; err == nil {
		episode.FeedTitle = feed.Title
	}

	success(c, episode, "")
}

// UpdateEpisode 更新单集（is_read/is_starred/play_position）
// PUT /api/episodes/:id
func (h *EpisodeHandler) UpdateEpisode(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	var req struct {
		IsRead       *bool `json:"is_read"`
		IsStarred    *bool `json:"is_starred"`
		PlayPosition *int  `json:"play_position"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	updates := map[string]any{}
	if req.IsRead != nil {
		updates["is_read"] = *req.IsRead
	}
	if req.IsStarred != nil {
		updates["is_starred"] = *req.IsStarred
	}
	if req.PlayPosition != nil {
		updates["play_position"] = *req.PlayPosition
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := database.DB.Model(&episode).Updates(updates).Error; err != nil {
			fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "更新单集失败")
			return
		}
		if req.IsRead != nil {
			syncFeedUnreadCount(episode.FeedID)
		}
	}

	database.DB.First(&episode, id)
	success(c, episode, "")
}

// StarEpisode 标星/取消标星
// POST /api/episodes/:id/star
func (h *EpisodeHandler) StarEpisode(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	// 不带body时取反当前值
	var req struct {
		Starred *bool `json:"starred"`
	}
	_ = c.ShouldBindJSON(&req)

	starred := !episode.IsStarred
	if req.Starred != nil {
		starred = *req.Starred
	}

	if err := database.DB.Model(&episode).Updates(map[string]any{
		"is_starred": starred,
		"updated_at": time.Now(),
	}).Error; err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "更新标星失败")
		return
	}

	success(c, gin.H{"id": episode.ID, "is_starred": starred}, "")
}

// MarkRead 标记已读/未读
// POST /api/episodes/:id/read
func (h *EpisodeHandler) MarkRead(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	var req struct {
		IsRead *bool `json:"is_read"`
	}
	_ = c.ShouldBindJSON(&req)

	isRead := !episode.IsRead
	if req.IsRead != nil {
		isRead = *req.IsRead
	}

	if err := database.DB.Model(&episode).Updates(map[string]any{
		"is_read":    isRead,
		"updated_at": time.Now(),
	}).Error; err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "更新已读状态失败")
		return
	}

	syncFeedUnreadCount(episode.FeedID)

	success(c, gin.H{"id": episode.ID, "is_read": isRead}, "")
}

// DownloadEpisode 下载单集音频（异步任务）
// POST /api/episodes/:id/download
func (h *EpisodeHandler) DownloadEpisode(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var episode model.Episode
	if err := database.DB.First(&episode, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "EPISODE_NOT_FOUND", "单集不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取单集失败")
		return
	}

	// 已有音频文件就是已下载，和单飞冲突是两种错误：
	// 客户端对前者应直接刷新资源，对后者应等待进行中的任务
	if episode.LocalPath != "" {
		fail(c, http.StatusBadRequest, "ALREADY_DOWNLOADED", "单集音频已下载")
		return
	}
	if episode.AudioURL == "" {
		fail(c, http.StatusBadRequest, "NO_AUDIO_URL", "单集没有音频地址")
		return
	}

	task, err := h.queue.Submit(service.SubmitOptions{
		Type:          model.TaskTypeDownload,
		EpisodeID:     episode.ID,
		RunningStatus: model.EpisodeStatusDownloading,
		RevertStatus:  episode.DisplayStatus(nil),
	})
	if err != nil {
		if errors.Is(err, service.ErrTaskInProgress) {
			fail(c, http.StatusConflict, "TASK_IN_PROGRESS", "下载任务已在进行中")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "提交下载任务失败")
		return
	}

	created(c, http.StatusAccepted, gin.H{"task_id": task.TaskID, "status": "queued"}, "")
}

// syncFeedUnreadCount 重算订阅未读数
func syncFeedUnreadCount(feedID uint) {
	var unread int64
	database.DB.Model(&model.Episode{}).Where("feed_id = ? AND is_read = ?", feedID, false).Count(&unread)
	database.DB.Model(&model.Feed{}).Where("id = ?", feedID).Update("unread_count", unread)
}
