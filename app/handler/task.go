package handler

import (
	"errors"
	"net/http"
	"strconv"

	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// TaskHandler 任务管理处理器
type TaskHandler struct {
	queue *service.TaskQueue
}

// NewTaskHandler 创建任务管理处理器
func NewTaskHandler(queue *service.TaskQueue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

// ListTasks 获取任务列表，按创建时间倒序
// GET /api/tasks?status=pending,processing&type=download&episode_id=&feed_id=
func (h *TaskHandler) ListTasks(c *gin.Context) {
	page, perPage := getPaginationParams(c)

	query := service.ListTasksQuery{
		Statuses: service.ParseStatusFilter(c.Query("status")),
		Type:     model.TaskType(c.Query("type")),
		Page:     page,
		PerPage:  perPage,
	}
	if episodeID, err := strconv.ParseUint(c.Query("episode_id"), 10, 32); err == nil {
		query.EpisodeID = uint(episodeID)
	}
	if feedID, err := strconv.ParseUint(c.Query("feed_id"), 10, 32); err == nil {
		query.FeedID = uint(feedID)
	}

	tasks, total, err := h.queue.List(query)
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取任务列表失败")
		return
	}

	paginated(c, tasks, page, perPage, total)
}

// GetTask 获取任务状态
// GET /api/tasks/:task_id
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, err := h.queue.Get(c.Param("task_id"))
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			fail(c, http.StatusNotFound, "TASK_NOT_FOUND", "任务不存在")
			return
		}
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取任务失败")
		return
	}

	success(c, task, "")
}

// CancelTask 取消任务（仅pending可取消）
// POST /api/tasks/:task_id/cancel
func (h *TaskHandler) CancelTask(c *gin.Context) {
	task, err := h.queue.Cancel(c.Param("task_id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTaskNotFound):
			fail(c, http.StatusNotFound, "TASK_NOT_FOUND", "任务不存在")
		case errors.Is(err, service.ErrNotCancelable):
			fail(c, http.StatusConflict, "CANNOT_CANCEL", "任务已开始执行，无法取消")
		default:
			fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "取消任务失败")
		}
		return
	}

	success(c, task, "任务已取消")
}

// GetQueueStatus 获取队列各状态的任务数量
// GET /api/tasks/status
func (h *TaskHandler) GetQueueStatus(c *gin.Context) {
	status, err := h.queue.GetQueueStatus()
	if err != nil {
		fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "获取队列状态失败")
		return
	}

	success(c, status, "")
}
