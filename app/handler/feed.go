package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"podcast-fusion/app/database"
	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// FeedHandler 订阅源管理处理器
type FeedHandler struct {
	rss   *service.RSSService
	queue *service.TaskQueue
}

// NewFeedHandler 创建订阅源管理处理器
func NewFeedHandler(rss *service.RSSService, queue *service.TaskQueue) *FeedHandler {
	return &FeedHandler{rss: rss, queue: queue}
}

// ListFeeds 获取订阅列表
// GET /api/feeds?status=&is_starred=&is_favorite=
func (h *FeedHandler) ListFeeds(c *gin.Context) {
	page, perPage := getPaginationParams(c)

	query := database.DB.Model(&model.Feed{})

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if isStarred := getBoolQuery(c, "is_starred"); isStarred != nil {
		query = query.Where("is_starred = ?", *isStarred)
	}
	if isFavorite := getBoolQuery(c, "is_favorite"); isFavorite != nil {
		query = query.Where("is_favorite = ?", *isFavorite)
	}

	var total int64
	query.Count(&total)

	var feeds []model.Feed
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&feeds).Error; err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取订阅列表失败")
		return
	}

	paginated(c, feeds, page, perPage, total)
}

// GetFeed 获取单个订阅详情
// GET /api/feeds/:id
func (h *FeedHandler) GetFeed(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var feed model.Feed
	if err := database.DB.First(&feed, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "FEED_NOT_FOUND", "订阅不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取订阅失败")
		return
	}

	success(c, feed, "")
}

// CreateFeed 添加新订阅（同步解析RSS）
// POST /api/feeds  body: {rss_url, tags}
func (h *FeedHandler) CreateFeed(c *gin.Context) {
	var req struct {
		RSSURL string   `json:"rss_url"`
		Tags   []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	rssURL := strings.TrimSpace(req.RSSURL)
	if rssURL == "" {
		fail(c, http.StatusBadRequest, "MISSING_RSS_URL", "RSS地址不能为空")
		return
	}
	if !model.ValidateRSSURL(rssURL) {
		fail(c, http.StatusBadRequest, "INVALID_RSS_URL", "无效的RSS地址")
		return
	}

	// 检查是否已存在
	var existing model.Feed
	if err := database.DB.Where("rss_url = ?", rssURL).First(&existing).Error; err == nil {
		fail(c, http.StatusConflict, "FEED_EXISTS", "订阅已存在")
		return
	}

	feed, err := h.rss.CreateFeed(rssURL, req.Tags)
	if err != nil {
		fail(c, http.StatusBadRequest, "RSS_PARSE_ERROR", err.Error())
		return
	}

	created(c, http.StatusCreated, feed, "订阅添加成功")
}

// UpdateFeed 更新订阅（tags/status/note）
// PUT /api/feeds/:id
func (h *FeedHandler) UpdateFeed(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var feed model.Feed
	if err := database.DB.First(&feed, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "FEED_NOT_FOUND", "订阅不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取订阅失败")
		return
	}

	var req struct {
		Status     *string `json:"status"`
		Note       *string `json:"note"`
		Tags       *string `json:"tags"`
		IsStarred  *bool   `json:"is_starred"`
		IsFavorite *bool   `json:"is_favorite"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	updates := map[string]any{}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Note != nil {
		updates["note"] = *req.Note
	}
	if req.Tags != nil {
		updates["tags"] = *req.Tags
	}
	if req.IsStarred != nil {
		updates["is_starred"] = *req.IsStarred
	}
	if req.IsFavorite != nil {
		updates["is_favorite"] = *req.IsFavorite
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		if err := database.DB.Model(&feed).Updates(updates).Error; err != nil {
			fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "更新订阅失败")
			return
		}
	}

	database.DB.First(&feed, id)
	success(c, feed, "")
}

// DeleteFeed 删除订阅及其所有单集、转录、摘要
// DELETE /api/feeds/:id
func (h *FeedHandler) DeleteFeed(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var feed model.Feed
	if err := database.DB.First(&feed, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "FEED_NOT_FOUND", "订阅不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取订阅失败")
		return
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		var episodeIDs []uint
		if err := tx.Model(&model.Episode{}).Where("feed_id = ?", id).
			Pluck("id", &episodeIDs).Error; err != nil {
			return err
		}
		if len(episodeIDs) > 0 {
			if err := tx.Where("episode_id IN ?", episodeIDs).Delete(&model.Transcript{}).Error; err != nil {
				return err
			}
			if err := tx.Where("episode_id IN ?", episodeIDs).Delete(&model.Summary{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("feed_id = ?", id).Delete(&model.Episode{}).Error; err != nil {
			return err
		}
		return tx.Delete(&feed).Error
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "删除订阅失败")
		return
	}

	success(c, gin.H{"id": id}, "订阅已删除")
}

// RefreshFeed 刷新订阅（异步任务）
// POST /api/feeds/:id/refresh
func (h *FeedHandler) RefreshFeed(c *gin.Context) {
	id, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var feed model.Feed
	if err := database.DB.First(&feed, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, http.StatusNotFound, "FEED_NOT_FOUND", "订阅不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取订阅失败")
		return
	}

	task, err := h.queue.Submit(service.SubmitOptions{
		Type:   model.TaskTypeRefresh,
		FeedID: feed.ID,
	})
	if err != nil {
		if errors.Is(err, service.ErrTaskInProgress) {
			fail(c, http.StatusConflict, "TASK_IN_PROGRESS", "刷新任务已在进行中")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "提交刷新任务失败")
		return
	}

	created(c, http.StatusAccepted, gin.H{"task_id": task.TaskID, "status": "queued"}, "")
}
