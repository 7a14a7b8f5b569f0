package client

import (
	"sync"
	"time"

	"podcast-fusion/app/model"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultStaleAfter   = 30 * time.Second
)

// WatchCallbacks 任务观察回调。
// OnUpdate在每次观察到新状态时触发；OnStale在超过阈值没有变化时触发一次，
// 轮询继续；OnDone/OnFailed在终态时各自触发恰好一次，之后轮询停止。
type WatchCallbacks struct {
	OnUpdate func(task *model.Task)
	OnStale  func(task *model.Task, elapsed time.Duration)
	OnDone   func(task *model.Task)
	OnFailed func(task *model.Task)
}

// WatchOptions 轮询参数，零值使用默认
type WatchOptions struct {
	Interval   time.Duration // 轮询间隔，默认2秒
	StaleAfter time.Duration // 无变化告警阈值，默认30秒
}

// pollResult 单次轮询结果，带序号用于丢弃过期响应
type pollResult struct {
	seq  uint64
	task *model.Task
	err  error
}

// taskWatch 单个任务的轮询状态机
type taskWatch struct {
	taskID    string
	api       *Client
	callbacks WatchCallbacks
	opts      WatchOptions

	stop     chan struct{}
	stopOnce sync.Once
}

// TaskWatcher 并发观察多个任务，每个任务一条独立的轮询时间线
type TaskWatcher struct {
	api *Client

	mu      sync.Mutex
	watches map[string]*taskWatch
}

// NewTaskWatcher 创建任务观察器
func NewTaskWatcher(api *Client) *TaskWatcher {
	return &TaskWatcher{
		api:     api,
		watches: make(map[string]*taskWatch),
	}
}

// Watch 开始观察一个任务直到终态。
// 同一任务重复Watch只保留第一个观察；返回的停止函数只停止本地轮询，
// 不取消服务端任务，任务继续执行，结果之后仍可查询。
func (w *TaskWatcher) Watch(taskID string, callbacks WatchCallbacks, opts WatchOptions) func() {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}

	w.mu.Lock()
	if existing, ok := w.watches[taskID]; ok {
		w.mu.Unlock()
		return existing.Stop
	}

	watch := &taskWatch{
		taskID:    taskID,
		api:       w.api,
		callbacks: callbacks,
		opts:      opts,
		stop:      make(chan struct{}),
	}
	w.watches[taskID] = watch
	w.mu.Unlock()

	go func() {
		watch.run()
		w.mu.Lock()
		delete(w.watches, taskID)
		w.mu.Unlock()
	}()

	return watch.Stop
}

// StopAll 停止所有观察（不取消任何服务端任务）
func (w *TaskWatcher) StopAll() {
	w.mu.Lock()
	watches := make([]*taskWatch, 0, len(w.watches))
	for _, watch := range w.watches {
		watches = append(watches, watch)
	}
	w.mu.Unlock()

	for _, watch := range watches {
		watch.Stop()
	}
}

// Watching 是否正在观察某任务
func (w *TaskWatcher) Watching(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.watches[taskID]
	return ok
}

// Stop 停止本地轮询。服务端任务不受影响。
// 回调内调用安全，不等待轮询协程退出。
func (t *taskWatch) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
}

// run 轮询循环。每次请求带递增序号在独立协程发出，
// 响应乱序到达时只应用序号大于已应用值的，保证观察顺序与写入顺序一致。
func (t *taskWatch) run() {
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	results := make(chan pollResult, 1)
	var nextSeq, appliedSeq uint64
	var lastTask *model.Task
	var lastStatus model.TaskStatus
	var lastProgress int
	lastChange := time.Now()
	staleWarned := false

	fetch := func() {
		nextSeq++
		seq := nextSeq
		go func() {
			task, err := t.api.GetTask(t.taskID)
			select {
			case results <- pollResult{seq: seq, task: task, err: err}:
			case <-t.stop:
			}
		}()
	}

	// 立即发第一次请求，不等第一个tick
	fetch()

	for {
		select {
		case <-t.stop:
			return

		case <-ticker.C:
			fetch()

			// 无变化超过阈值时告警一次，轮询继续
			if !staleWarned && time.Since(lastChange) > t.opts.StaleAfter {
				staleWarned = true
				if t.callbacks.OnStale != nil {
					t.callbacks.OnStale(lastTask, time.Since(lastChange))
				}
			}

		case result := <-results:
			// 丢弃被更新请求超越的过期响应
			if result.seq <= appliedSeq {
				continue
			}
			appliedSeq = result.seq

			if result.err != nil {
				// 单次查询失败不终止观察，下个周期重试
				continue
			}

			task := result.task
			lastTask = task
			if task.Status != lastStatus || task.Progress != lastProgress {
				lastStatus = task.Status
				lastProgress = task.Progress
				lastChange = time.Now()
				staleWarned = false
				if t.callbacks.OnUpdate != nil {
					t.callbacks.OnUpdate(task)
				}
			}

			// 终态后恰好回调一次并停止，绝不继续轮询
			if task.IsTerminal() {
				if task.Status == model.TaskStatusCompleted {
					if t.callbacks.OnDone != nil {
						t.callbacks.OnDone(task)
					}
				} else {
					if t.callbacks.OnFailed != nil {
						t.callbacks.OnFailed(task)
					}
				}
				return
			}
		}
	}
}
