package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
)

// ProgressFunc 任务执行进度回调，取值0-100
type ProgressFunc func(progress int)

// TaskExecutor 任务执行函数。
// 约定：执行器必须在返回前把产出的资源（转录/摘要/音频元数据）写入数据库，
// 队列在执行器返回后才把任务标记为completed，轮询方看到completed时资源一定可读。
type TaskExecutor func(ctx context.Context, task *model.Task, report ProgressFunc) (result any, err error)

// SubmitOptions 任务提交参数
type SubmitOptions struct {
	Type      model.TaskType
	EpisodeID uint
	FeedID    uint

	// Params 透传给执行器的参数，JSON
	Params string

	// RunningStatus 提交后立即写入单集的过渡状态（如downloading），空则不改
	RunningStatus string
	// RevertStatus 失败或取消时单集状态回退的目标，空则不回退
	RevertStatus string
}

// ListTasksQuery 任务列表过滤条件
type ListTasksQuery struct {
	Statuses  []model.TaskStatus // 多值过滤，如 pending,processing
	Type      model.TaskType
	EpisodeID uint
	FeedID    uint
	Page      int
	PerPage   int
}

// TaskQueue 持久化任务队列。
// 提交立即返回pending记录，有界工作池异步执行；
// 单飞约束：同一(资源,类型)同时最多一个未完结任务。
type TaskQueue struct {
	db        *gorm.DB
	cfg       *config.Config
	log       *logger.Logger
	cache     *gocache.Cache // task_id -> 最新任务快照，内存优先读
	executors map[model.TaskType]TaskExecutor

	submitMu sync.Mutex    // 串行化单飞检查与任务创建
	workers  chan struct{} // 工作池信号量

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	cleanupWg sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewTaskQueue 创建任务队列
func NewTaskQueue(db *gorm.DB, cfg *config.Config, log *logger.Logger) *TaskQueue {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Task.Workers
	if workers <= 0 {
		workers = 1
	}

	return &TaskQueue{
		db:        db,
		cfg:       cfg,
		log:       log,
		cache:     gocache.New(10*time.Minute, 30*time.Minute),
		executors: make(map[model.TaskType]TaskExecutor),
		workers:   make(chan struct{}, workers),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// RegisterExecutor 注册任务类型对应的执行器
func (q *TaskQueue) RegisterExecutor(taskType model.TaskType, executor TaskExecutor) {
	q.executors[taskType] = executor
}

// Start 启动任务处理器
func (q *TaskQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true

	// 上次运行被中断的任务直接标记失败，终态单向流转，不复活为pending。
	// 逐个读取是为了拿到RevertStatus：单集不能停留在downloading这类过渡状态
	var interrupted []model.Task
	if err := q.db.Where("status IN ?", model.ActiveTaskStatuses).Find(&interrupted).Error; err != nil {
		q.log.Errorf("查询遗留任务失败: %v", err)
	} else if len(interrupted) > 0 {
		now := time.Now()
		q.db.Model(&model.Task{}).
			Where("status IN ?", model.ActiveTaskStatuses).
			Updates(map[string]any{
				"status":       model.TaskStatusFailed,
				"error_msg":    "服务重启，任务被中断",
				"completed_at": &now,
			})
		for i := range interrupted {
			q.revertEpisodeStatus(&interrupted[i])
		}
		q.log.Warnf("清理了 %d 个上次运行遗留的未完结任务", len(interrupted))
	}

	q.wg.Add(1)
	go q.dispatchLoop()

	q.cleanupWg.Add(1)
	go q.cleanupLoop()

	q.log.Info("任务队列处理器已启动")
}

// Stop 停止任务处理器，等待在执行的任务退出
func (q *TaskQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}
	q.running = false

	q.cancel()
	q.wg.Wait()
	q.cleanupWg.Wait()

	q.log.Info("任务队列处理器已停止")
}

// singleFlightKey 单飞键：(目标资源, 任务类型)
func singleFlightKey(taskType model.TaskType, episodeID, feedID uint) string {
	return fmt.Sprintf("%s:%d:%d", taskType, episodeID, feedID)
}

// Submit 提交任务。单飞检查与记录创建在锁内完成，
// 并发提交同一(资源,类型)只会有一个成功，其余返回 ErrTaskInProgress。
func (q *TaskQueue) Submit(opts SubmitOptions) (*model.Task, error) {
	if !model.ValidTaskType(opts.Type) {
		return nil, ErrUnknownTaskType
	}
	if _, ok := q.executors[opts.Type]; !ok {
		return nil, ErrUnknownTaskType
	}

	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	// 单飞检查
	var count int64
	query := q.db.Model(&model.Task{}).
		Where("task_type = ? AND status IN ?", opts.Type, model.ActiveTaskStatuses)
	if opts.EpisodeID != 0 {
		query = query.Where("episode_id = ?", opts.EpisodeID)
	} else {
		query = query.Where("feed_id = ?", opts.FeedID)
	}
	if err := query.Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		q.log.Infof("任务已存在，拒绝重复提交: key=%s", singleFlightKey(opts.Type, opts.EpisodeID, opts.FeedID))
		return nil, ErrTaskInProgress
	}

	task := &model.Task{
		TaskID:       uuid.NewString(),
		TaskType:     opts.Type,
		EpisodeID:    opts.EpisodeID,
		FeedID:       opts.FeedID,
		Status:       model.TaskStatusPending,
		Params:       opts.Params,
		RevertStatus: opts.RevertStatus,
	}

	if err := q.db.Create(task).Error; err != nil {
		q.log.Errorf("创建任务记录失败: %v", err)
		return nil, err
	}

	// 单集进入过渡状态
	if opts.RunningStatus != "" && opts.EpisodeID != 0 {
		if err := q.db.Model(&model.Episode{}).Where("id = ?", opts.EpisodeID).
			Update("status", opts.RunningStatus).Error; err != nil {
			q.log.Errorf("更新单集过渡状态失败: EpisodeID=%d, 目标状态=%s, 错误: %v",
				opts.EpisodeID, opts.RunningStatus, err)
		}
	}

	q.cacheTask(task)
	q.log.Infof("任务已加入队列: TaskID=%s, Type=%s, EpisodeID=%d, FeedID=%d",
		task.TaskID, task.TaskType, task.EpisodeID, task.FeedID)

	return task, nil
}

// Get 获取任务状态，内存快照优先
func (q *TaskQueue) Get(taskID string) (*model.Task, error) {
	if cached, ok := q.cache.Get(taskID); ok {
		snapshot := *cached.(*model.Task)
		return &snapshot, nil
	}

	var task model.Task
	if err := q.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// List 按条件查询任务，按创建时间倒序（最近的在前）
func (q *TaskQueue) List(query ListTasksQuery) ([]model.Task, int64, error) {
	db := q.db.Model(&model.Task{})

	if len(query.Statuses) > 0 {
		db = db.Where("status IN ?", query.Statuses)
	}
	if query.Type != "" {
		db = db.Where("task_type = ?", query.Type)
	}
	if query.EpisodeID != 0 {
		db = db.Where("episode_id = ?", query.EpisodeID)
	}
	if query.FeedID != 0 {
		db = db.Where("feed_id = ?", query.FeedID)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := query.Page
	perPage := query.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var tasks []model.Task
	if err := db.Order("created_at DESC, id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&tasks).Error; err != nil {
		return nil, 0, err
	}

	return tasks, total, nil
}

// GetActiveTask 查找资源上未完结的任务，没有则返回nil
func (q *TaskQueue) GetActiveTask(episodeID uint) (*model.Task, error) {
	var task model.Task
	err := q.db.Where("episode_id = ? AND status IN ?", episodeID, model.ActiveTaskStatuses).
		Order("created_at DESC").First(&task).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetActiveTasksByEpisode 批量查找多个单集上未完结的任务，
// 每个单集取最近创建的一个
func (q *TaskQueue) GetActiveTasksByEpisode(episodeIDs []uint) (map[uint]*model.Task, error) {
	if len(episodeIDs) == 0 {
		return map[uint]*model.Task{}, nil
	}

	var tasks []model.Task
	err := q.db.Where("episode_id IN ? AND status IN ?", episodeIDs, model.ActiveTaskStatuses).
		Order("created_at ASC").Find(&tasks).Error
	if err != nil {
		return nil, err
	}

	// 按创建时间升序遍历，后写入的覆盖先写入的，留下最近的
	active := make(map[uint]*model.Task, len(tasks))
	for i := range tasks {
		active[tasks[i].EpisodeID] = &tasks[i]
	}
	return active, nil
}

// Cancel 取消任务。只有pending可取消；
// processing的底层引擎调用不可中断，返回 ErrNotCancelable。
func (q *TaskQueue) Cancel(taskID string) (*model.Task, error) {
	q.submitMu.Lock()
	defer q.submitMu.Unlock()

	var task model.Task
	if err := q.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}

	if task.Status != model.TaskStatusPending {
		return nil, ErrNotCancelable
	}

	// 带状态条件更新，避免与调度器竞争取消一个刚转为processing的任务
	now := time.Now()
	res := q.db.Model(&model.Task{}).
		Where("id = ? AND status = ?", task.ID, model.TaskStatusPending).
		Updates(map[string]any{
			"status":       model.TaskStatusCancelled,
			"error_msg":    "用户取消",
			"completed_at": &now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotCancelable
	}

	// 单集状态回退到提交前的稳定状态
	q.revertEpisodeStatus(&task)

	task.Status = model.TaskStatusCancelled
	task.ErrorMsg = "用户取消"
	task.CompletedAt = &now
	q.cacheTask(&task)

	q.log.Infof("任务已取消: TaskID=%s, Type=%s", task.TaskID, task.TaskType)
	return &task, nil
}

// dispatchLoop 调度循环：定期扫描pending任务并分发给工作池
func (q *TaskQueue) dispatchLoop() {
	defer q.wg.Done()

	interval := time.Duration(q.cfg.Task.ScanIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchPending()
		}
	}
}

// dispatchPending 取最早的pending任务，占到工作槽位的转为processing并执行
func (q *TaskQueue) dispatchPending() {
	var tasks []model.Task
	if err := q.db.Where("status = ?", model.TaskStatusPending).
		Order("created_at ASC").
		Limit(cap(q.workers)).
		Find(&tasks).Error; err != nil {
		q.log.Errorf("扫描待处理任务失败: %v", err)
		return
	}

	for i := range tasks {
		task := tasks[i]

		select {
		case q.workers <- struct{}{}:
		default:
			// 没有空闲槽位，下个周期再试
			return
		}

		// 在事务里确认任务仍是pending再转processing，
		// 避免与Cancel竞争把已取消的任务拉起来执行
		now := time.Now()
		err := q.db.Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&model.Task{}).
				Where("id = ? AND status = ?", task.ID, model.TaskStatusPending).
				Updates(map[string]any{
					"status":     model.TaskStatusProcessing,
					"started_at": &now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			return nil
		})
		if err != nil {
			<-q.workers
			continue
		}

		task.Status = model.TaskStatusProcessing
		task.StartedAt = &now
		q.cacheTask(&task)

		q.wg.Add(1)
		go q.executeTask(task)
	}
}

// executeTask 在工作槽位中执行单个任务
func (q *TaskQueue) executeTask(task model.Task) {
	defer func() {
		<-q.workers
		q.wg.Done()
	}()

	q.log.Infof("🔄 开始执行任务: TaskID=%s, Type=%s, EpisodeID=%d, FeedID=%d",
		task.TaskID, task.TaskType, task.EpisodeID, task.FeedID)
	startTime := time.Now()

	executor := q.executors[task.TaskType]

	// 进度只增不减，终态后不再写入
	lastProgress := 0
	report := func(progress int) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		if progress <= lastProgress {
			return
		}
		lastProgress = progress
		q.db.Model(&model.Task{}).Where("id = ?", task.ID).Update("progress", progress)
		task.Progress = progress
		q.cacheTask(&task)
	}

	result, err := executor(q.ctx, &task, report)

	elapsed := time.Since(startTime)
	now := time.Now()

	if err != nil {
		q.log.Warnf("❌ 任务执行失败: TaskID=%s, Type=%s, 耗时=%v, 错误: %v",
			task.TaskID, task.TaskType, elapsed, err)

		q.db.Model(&model.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
			"status":       model.TaskStatusFailed,
			"error_msg":    err.Error(),
			"completed_at": &now,
		})

		// 单集状态回退，保证失败后还能重新提交
		q.revertEpisodeStatus(&task)

		task.Status = model.TaskStatusFailed
		task.ErrorMsg = err.Error()
		task.CompletedAt = &now
		q.cacheTask(&task)
		return
	}

	// 执行器已把产出资源落库，此时才标记completed
	resultJSON := ""
	if result != nil {
		if data, merr := json.Marshal(result); merr == nil {
			resultJSON = string(data)
		}
	}

	q.db.Model(&model.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
		"status":       model.TaskStatusCompleted,
		"progress":     100,
		"result":       resultJSON,
		"completed_at": &now,
	})

	task.Status = model.TaskStatusCompleted
	task.Progress = 100
	task.Result = resultJSON
	task.CompletedAt = &now
	q.cacheTask(&task)

	q.log.Infof("✅ 任务完成: TaskID=%s, Type=%s, 耗时=%v", task.TaskID, task.TaskType, elapsed)
}

// revertEpisodeStatus 把单集状态回退到任务提交前的稳定状态
func (q *TaskQueue) revertEpisodeStatus(task *model.Task) {
	if task.EpisodeID == 0 || task.RevertStatus == "" {
		return
	}
	if err := q.db.Model(&model.Episode{}).Where("id = ?", task.EpisodeID).
		Update("status", task.RevertStatus).Error; err != nil {
		q.log.Errorf("回退单集状态失败: EpisodeID=%d, 目标状态=%s, 错误: %v",
			task.EpisodeID, task.RevertStatus, err)
	}
}

// cacheTask 更新任务内存快照
func (q *TaskQueue) cacheTask(task *model.Task) {
	snapshot := *task
	q.cache.Set(task.TaskID, &snapshot, gocache.DefaultExpiration)
}

// cleanupLoop 定期清理终态任务记录
func (q *TaskQueue) cleanupLoop() {
	defer q.cleanupWg.Done()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	// 启动时先执行一次清理
	q.cleanupOldTasks()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.cleanupOldTasks()
		}
	}
}

// cleanupOldTasks 删除过期的终态任务。
// 任务记录可随时回收，单集上的状态字段才是结果的持久记录。
func (q *TaskQueue) cleanupOldTasks() {
	completedCutoff := time.Now().AddDate(0, 0, -q.cfg.Task.CleanupDays)
	result := q.db.Where("status = ? AND completed_at < ?",
		model.TaskStatusCompleted, completedCutoff).Delete(&model.Task{})
	if result.Error != nil {
		q.log.Errorf("清理已完成任务失败: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		q.log.Infof("清理了 %d 个已完成的任务（超过%d天）", result.RowsAffected, q.cfg.Task.CleanupDays)
	}

	failedCutoff := time.Now().AddDate(0, 0, -q.cfg.Task.FailedKeepDays)
	result = q.db.Where("status IN ? AND completed_at < ?",
		[]model.TaskStatus{model.TaskStatusFailed, model.TaskStatusCancelled}, failedCutoff).
		Delete(&model.Task{})
	if result.Error != nil {
		q.log.Errorf("清理失败任务失败: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		q.log.Infof("清理了 %d 个失败/取消的任务（超过%d天）", result.RowsAffected, q.cfg.Task.FailedKeepDays)
	}
}

// GetQueueStatus 按状态统计任务数量
func (q *TaskQueue) GetQueueStatus() (map[string]int64, error) {
	status := make(map[string]int64)

	for _, s := range []model.TaskStatus{
		model.TaskStatusPending, model.TaskStatusProcessing,
		model.TaskStatusCompleted, model.TaskStatusFailed, model.TaskStatusCancelled,
	} {
		var count int64
		if err := q.db.Model(&model.Task{}).Where("status = ?", s).Count(&count).Error; err != nil {
			return nil, err
		}
		status[string(s)] = count
	}

	return status, nil
}

// ParseStatusFilter 解析逗号分隔的状态过滤参数
func ParseStatusFilter(raw string) []model.TaskStatus {
	if raw == "" {
		return nil
	}
	var statuses []model.TaskStatus
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			statuses = append(statuses, model.TaskStatus(part))
		}
	}
	return statuses
}
