package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&model.Task{}, &model.Episode{}, &model.Feed{}))
	return db
}

func newTestQueue(t *testing.T) (*TaskQueue, *gorm.DB) {
	t.Helper()

	db := newTestDB(t)
	cfg := &config.Config{
		Task: config.TaskConfig{
			Workers:         2,
			ScanIntervalSec: 1,
			CleanupDays:     7,
			FailedKeepDays:  30,
		},
	}
	log := logger.New(config.LogConfig{Level: "error", Format: "text", Output: "stdout"})

	return NewTaskQueue(db, cfg, log), db
}

func createTestEpisode(t *testing.T, db *gorm.DB, status string) *model.Episode {
	t.Helper()

	episode := &model.Episode{
		FeedID:   1,
		GUID:     fmt.Sprintf("guid-%s-%d", t.Name(), time.Now().UnixNano()),
		Title:    "测试单集",
		AudioURL: "https://example.com/audio.mp3",
		Status:   status,
	}
	require.NoError(t, db.Create(episode).Error)
	return episode
}

func noopExecutor(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
	return nil, nil
}

func TestSubmitSingleFlight(t *testing.T) {
	queue, db := newTestQueue(t)
	queue.RegisterExecutor(model.TaskTypeDownload, noopExecutor)
	queue.RegisterExecutor(model.TaskTypeTranscribe, noopExecutor)

	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	first, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, first.Status)
	assert.NotEmpty(t, first.TaskID)

	// 同一(资源,类型)有未完结任务时重复提交必须冲突，不能产生第二条记录
	_, err = queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	assert.ErrorIs(t, err, ErrTaskInProgress)

	var count int64
	db.Model(&model.Task{}).Where("episode_id = ? AND task_type = ?", episode.ID, model.TaskTypeDownload).Count(&count)
	assert.Equal(t, int64(1), count)

	// 不同类型不受影响
	_, err = queue.Submit(SubmitOptions{Type: model.TaskTypeTranscribe, EpisodeID: episode.ID})
	assert.NoError(t, err)

	// 不同资源不受影响
	other := createTestEpisode(t, db, model.EpisodeStatusNew)
	_, err = queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: other.ID})
	assert.NoError(t, err)
}

func TestSubmitUnknownType(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, err := queue.Submit(SubmitOptions{Type: "unknown", EpisodeID: 1})
	assert.ErrorIs(t, err, ErrUnknownTaskType)

	// 合法类型但没注册执行器也拒绝
	_, err = queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: 1})
	assert.ErrorIs(t, err, ErrUnknownTaskType)
}

func TestSubmitAppliesRunningStatus(t *testing.T) {
	queue, db := newTestQueue(t)
	queue.RegisterExecutor(model.TaskTypeDownload, noopExecutor)

	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	_, err := queue.Submit(SubmitOptions{
		Type:          model.TaskTypeDownload,
		EpisodeID:     episode.ID,
		RunningStatus: model.EpisodeStatusDownloading,
		RevertStatus:  model.EpisodeStatusNew,
	})
	require.NoError(t, err)

	var updated model.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, model.EpisodeStatusDownloading, updated.Status)
}

func TestExecuteWritesResourceBeforeComplete(t *testing.T) {
	queue, db := newTestQueue(t)
	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	// 执行器约定：先落库资源，再返回
	queue.RegisterExecutor(model.TaskTypeDownload, func(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
		report(50)
		err := db.Model(&model.Episode{}).Where("id = ?", task.EpisodeID).Updates(map[string]any{
			"local_path": "audio/1/1.mp3",
			"status":     model.EpisodeStatusDownloaded,
		}).Error
		return map[string]any{"local_path": "audio/1/1.mp3"}, err
	})

	task, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	require.NoError(t, err)

	queue.dispatchPending()

	require.Eventually(t, func() bool {
		got, gerr := queue.Get(task.TaskID)
		return gerr == nil && got.Status == model.TaskStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	// 任何时刻观察到completed，资源一定已可读
	got, err := queue.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)
	assert.Contains(t, got.Result, "local_path")
	assert.NotNil(t, got.CompletedAt)

	var updated model.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, "audio/1/1.mp3", updated.LocalPath)
}

func TestExecuteFailureRevertsEpisodeStatus(t *testing.T) {
	queue, db := newTestQueue(t)
	episode := createTestEpisode(t, db, model.EpisodeStatusDownloaded)

	queue.RegisterExecutor(model.TaskTypeTranscribe, func(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
		report(40)
		return nil, fmt.Errorf("转录引擎超时")
	})

	task, err := queue.Submit(SubmitOptions{
		Type:          model.TaskTypeTranscribe,
		EpisodeID:     episode.ID,
		RunningStatus: model.EpisodeStatusTranscribing,
		RevertStatus:  model.EpisodeStatusDownloaded,
	})
	require.NoError(t, err)

	queue.dispatchPending()

	require.Eventually(t, func() bool {
		got, gerr := queue.Get(task.TaskID)
		return gerr == nil && got.Status == model.TaskStatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	got, err := queue.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "转录引擎超时", got.ErrorMsg)
	assert.Equal(t, 40, got.Progress) // 失败任务进度停在最后上报值

	// 单集状态回退到提交前的稳定状态，可以重新提交
	var updated model.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, model.EpisodeStatusDownloaded, updated.Status)
}

func TestProgressMonotonicAndClamped(t *testing.T) {
	queue, db := newTestQueue(t)
	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	reported := make(chan struct{})
	release := make(chan struct{})

	queue.RegisterExecutor(model.TaskTypeDownload, func(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
		report(50)
		report(30)  // 回退，忽略
		report(-10) // 越界，忽略
		close(reported)
		<-release
		return nil, nil
	})

	task, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	require.NoError(t, err)

	queue.dispatchPending()
	<-reported

	got, err := queue.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)

	close(release)

	require.Eventually(t, func() bool {
		got, gerr := queue.Get(task.TaskID)
		return gerr == nil && got.Status == model.TaskStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestCancelPendingOnly(t *testing.T) {
	queue, db := newTestQueue(t)
	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	started := make(chan struct{})
	release := make(chan struct{})
	queue.RegisterExecutor(model.TaskTypeDownload, func(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
		close(started)
		<-release
		return nil, nil
	})

	// pending可以取消，并回退单集状态
	task, err := queue.Submit(SubmitOptions{
		Type:          model.TaskTypeDownload,
		EpisodeID:     episode.ID,
		RunningStatus: model.EpisodeStatusDownloading,
		RevertStatus:  model.EpisodeStatusNew,
	})
	require.NoError(t, err)

	cancelled, err := queue.Cancel(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, cancelled.Status)

	var updated model.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, model.EpisodeStatusNew, updated.Status)

	// 终态任务再取消被拒绝
	_, err = queue.Cancel(task.TaskID)
	assert.ErrorIs(t, err, ErrNotCancelable)

	// processing不可取消
	task2, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	require.NoError(t, err)

	queue.dispatchPending()
	<-started

	_, err = queue.Cancel(task2.TaskID)
	assert.ErrorIs(t, err, ErrNotCancelable)
	close(release)

	// 不存在的任务
	_, err = queue.Cancel("no-such-task")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTerminalStateImmutable(t *testing.T) {
	queue, db := newTestQueue(t)
	episode := createTestEpisode(t, db, model.EpisodeStatusNew)

	queue.RegisterExecutor(model.TaskTypeDownload, noopExecutor)

	task, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: episode.ID})
	require.NoError(t, err)

	queue.dispatchPending()

	require.Eventually(t, func() bool {
		got, gerr := queue.Get(task.TaskID)
		return gerr == nil && got.Status == model.TaskStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	// 终态后重复读取结果一致，不再流转
	first, err := queue.Get(task.TaskID)
	require.NoError(t, err)

	queue.dispatchPending()
	time.Sleep(50 * time.Millisecond)

	second, err := queue.Get(task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Progress, second.Progress)
	assert.Equal(t, first.Result, second.Result)
}

func TestStartRecoversInterruptedTasks(t *testing.T) {
	queue, db := newTestQueue(t)

	now := time.Now()
	interrupted := []model.Task{
		{TaskID: "t-pending", TaskType: model.TaskTypeDownload, EpisodeID: 1, Status: model.TaskStatusPending},
		{TaskID: "t-processing", TaskType: model.TaskTypeTranscribe, EpisodeID: 2, Status: model.TaskStatusProcessing, StartedAt: &now},
		{TaskID: "t-done", TaskType: model.TaskTypeDownload, EpisodeID: 3, Status: model.TaskStatusCompleted, CompletedAt: &now},
	}
	for i := range interrupted {
		require.NoError(t, db.Create(&interrupted[i]).Error)
	}

	queue.Start()
	defer queue.Stop()

	// 遗留的未完结任务标记失败，不复活；终态任务不受影响
	var recovered model.Task
	require.NoError(t, db.Where("task_id = ?", "t-pending").First(&recovered).Error)
	assert.Equal(t, model.TaskStatusFailed, recovered.Status)
	assert.NotEmpty(t, recovered.ErrorMsg)

	recovered = model.Task{}
	require.NoError(t, db.Where("task_id = ?", "t-processing").First(&recovered).Error)
	assert.Equal(t, model.TaskStatusFailed, recovered.Status)

	recovered = model.Task{}
	require.NoError(t, db.Where("task_id = ?", "t-done").First(&recovered).Error)
	assert.Equal(t, model.TaskStatusCompleted, recovered.Status)
}

func TestStartRecoveryRevertsEpisodeStatus(t *testing.T) {
	queue, db := newTestQueue(t)

	// 重启时被中断的任务把单集留在downloading，恢复后必须回退到提交前的稳定状态
	episode := createTestEpisode(t, db, model.EpisodeStatusDownloading)
	now := time.Now()
	task := model.Task{
		TaskID:       "t-interrupted",
		TaskType:     model.TaskTypeDownload,
		EpisodeID:    episode.ID,
		Status:       model.TaskStatusProcessing,
		StartedAt:    &now,
		RevertStatus: model.EpisodeStatusNew,
	}
	require.NoError(t, db.Create(&task).Error)

	queue.Start()
	defer queue.Stop()

	var recovered model.Task
	require.NoError(t, db.Where("task_id = ?", "t-interrupted").First(&recovered).Error)
	assert.Equal(t, model.TaskStatusFailed, recovered.Status)

	var updated model.Episode
	require.NoError(t, db.First(&updated, episode.ID).Error)
	assert.Equal(t, model.EpisodeStatusNew, updated.Status)
}

func TestGetActiveTasksByEpisode(t *testing.T) {
	queue, db := newTestQueue(t)
	queue.RegisterExecutor(model.TaskTypeDownload, noopExecutor)
	queue.RegisterExecutor(model.TaskTypeTranscribe, noopExecutor)

	first := createTestEpisode(t, db, model.EpisodeStatusNew)
	second := createTestEpisode(t, db, model.EpisodeStatusNew)
	idle := createTestEpisode(t, db, model.EpisodeStatusNew)

	_, err := queue.Submit(SubmitOptions{Type: model.TaskTypeDownload, EpisodeID: first.ID})
	require.NoError(t, err)
	_, err = queue.Submit(SubmitOptions{Type: model.TaskTypeTranscribe, EpisodeID: second.ID})
	require.NoError(t, err)

	active, err := queue.GetActiveTasksByEpisode([]uint{first.ID, second.ID, idle.ID})
	require.NoError(t, err)
	require.Contains(t, active, first.ID)
	require.Contains(t, active, second.ID)
	assert.NotContains(t, active, idle.ID)
	assert.Equal(t, model.TaskTypeDownload, active[first.ID].TaskType)
	assert.Equal(t, model.TaskTypeTranscribe, active[second.ID].TaskType)

	empty, err := queue.GetActiveTasksByEpisode(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestListOrderingAndFilters(t *testing.T) {
	queue, db := newTestQueue(t)
	queue.RegisterExecutor(model.TaskTypeDownload, noopExecutor)
	queue.RegisterExecutor(model.TaskTypeTranscribe, noopExecutor)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		task := model.Task{
			TaskID:    fmt.Sprintf("list-%d", i),
			TaskType:  model.TaskTypeDownload,
			EpisodeID: uint(i + 1),
			Status:    model.TaskStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&task).Error)
	}

	tasks, total, err := queue.List(ListTasksQuery{Page: 1, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, tasks, 3)

	// 最近创建的在前
	assert.Equal(t, "list-4", tasks[0].TaskID)
	assert.Equal(t, "list-3", tasks[1].TaskID)

	// 状态过滤
	tasks, total, err = queue.List(ListTasksQuery{
		Statuses: []model.TaskStatus{model.TaskStatusPending},
		Page:     1, PerPage: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	assert.Empty(t, tasks)

	// 按资源过滤
	tasks, total, err = queue.List(ListTasksQuery{EpisodeID: 3, Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestGetNotFound(t *testing.T) {
	queue, _ := newTestQueue(t)

	_, err := queue.Get("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCleanupOldTasks(t *testing.T) {
	queue, db := newTestQueue(t)

	oldDone := time.Now().AddDate(0, 0, -10)
	oldFailed := time.Now().AddDate(0, 0, -40)
	recent := time.Now().Add(-time.Hour)

	records := []model.Task{
		{TaskID: "gc-old-done", TaskType: model.TaskTypeDownload, Status: model.TaskStatusCompleted, CompletedAt: &oldDone},
		{TaskID: "gc-old-failed", TaskType: model.TaskTypeDownload, Status: model.TaskStatusFailed, CompletedAt: &oldFailed},
		{TaskID: "gc-recent", TaskType: model.TaskTypeDownload, Status: model.TaskStatusCompleted, CompletedAt: &recent},
		{TaskID: "gc-recent-failed", TaskType: model.TaskTypeDownload, Status: model.TaskStatusFailed, CompletedAt: &recent},
	}
	for i := range records {
		require.NoError(t, db.Create(&records[i]).Error)
	}

	queue.cleanupOldTasks()

	var remaining []model.Task
	require.NoError(t, db.Find(&remaining).Error)
	ids := make([]string, 0, len(remaining))
	for _, task := range remaining {
		ids = append(ids, task.TaskID)
	}
	assert.ElementsMatch(t, []string{"gc-recent", "gc-recent-failed"}, ids)
}

func TestParseStatusFilter(t *testing.T) {
	assert.Nil(t, ParseStatusFilter(""))
	assert.Equal(t, []model.TaskStatus{model.TaskStatusPending}, ParseStatusFilter("pending"))
	assert.Equal(t,
		[]model.TaskStatus{model.TaskStatusPending, model.TaskStatusProcessing},
		ParseStatusFilter("pending, processing"))
}
