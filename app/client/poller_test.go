package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"podcast-fusion/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// taskSequenceServer 按请求次数依次返回预设的任务快照，越界时重复最后一个
func taskSequenceServer(t *testing.T, requestCount *atomic.Int64, snapshots []model.Task) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requestCount.Add(1)
		idx := int(n) - 1
		if idx >= len(snapshots) {
			idx = len(snapshots) - 1
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    snapshots[idx],
		})
	}))
}

func TestWatchObservesUpdatesInOrderAndStopsOnTerminal(t *testing.T) {
	var requestCount atomic.Int64
	server := taskSequenceServer(t, &requestCount, []model.Task{
		{TaskID: "t1", TaskType: model.TaskTypeDownload, Status: model.TaskStatusPending, Progress: 0},
		{TaskID: "t1", TaskType: model.TaskTypeDownload, Status: model.TaskStatusProcessing, Progress: 40},
		{TaskID: "t1", TaskType: model.TaskTypeDownload, Status: model.TaskStatusProcessing, Progress: 80},
		{TaskID: "t1", TaskType: model.TaskTypeDownload, Status: model.TaskStatusCompleted, Progress: 100},
	})
	defer server.Close()

	api := New(server.URL)
	defer api.Close()
	watcher := NewTaskWatcher(api)

	var mu sync.Mutex
	var updates []int
	doneCount := 0
	done := make(chan struct{})

	watcher.Watch("t1", WatchCallbacks{
		OnUpdate: func(task *model.Task) {
			mu.Lock()
			updates = append(updates, task.Progress)
			mu.Unlock()
		},
		OnDone: func(task *model.Task) {
			mu.Lock()
			doneCount++
			mu.Unlock()
			close(done)
		},
		OnFailed: func(task *model.Task) {
			t.Errorf("不应触发失败回调")
		},
	}, WatchOptions{Interval: 20 * time.Millisecond})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("等待终态超时")
	}

	// 终态后不再发起任何轮询请求
	settled := requestCount.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, requestCount.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, doneCount)
	// 进度按写入顺序观察，不乱序
	assert.Equal(t, []int{0, 40, 80, 100}, updates)
	assert.False(t, watcher.Watching("t1"))
}

func TestWatchFailedSurfacesError(t *testing.T) {
	var requestCount atomic.Int64
	server := taskSequenceServer(t, &requestCount, []model.Task{
		{TaskID: "t2", Status: model.TaskStatusProcessing, Progress: 40},
		{TaskID: "t2", Status: model.TaskStatusFailed, Progress: 40, ErrorMsg: "引擎超时"},
	})
	defer server.Close()

	api := New(server.URL)
	defer api.Close()
	watcher := NewTaskWatcher(api)

	failed := make(chan *model.Task, 1)
	watcher.Watch("t2", WatchCallbacks{
		OnFailed: func(task *model.Task) {
			failed <- task
		},
	}, WatchOptions{Interval: 20 * time.Millisecond})

	select {
	case task := <-failed:
		assert.Equal(t, "引擎超时", task.ErrorMsg)
		assert.Equal(t, 40, task.Progress)
	case <-time.After(3 * time.Second):
		t.Fatal("等待失败回调超时")
	}

	// 失败也是终态，轮询停止
	settled := requestCount.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, requestCount.Load())
}

func TestWatchStaleWarningWithoutStopping(t *testing.T) {
	var requestCount atomic.Int64
	server := taskSequenceServer(t, &requestCount, []model.Task{
		{TaskID: "t3", Status: model.TaskStatusProcessing, Progress: 50},
	})
	defer server.Close()

	api := New(server.URL)
	defer api.Close()
	watcher := NewTaskWatcher(api)

	var staleCount atomic.Int64
	stop := watcher.Watch("t3", WatchCallbacks{
		OnStale: func(task *model.Task, elapsed time.Duration) {
			staleCount.Add(1)
			assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
		},
	}, WatchOptions{Interval: 20 * time.Millisecond, StaleAfter: 60 * time.Millisecond})
	defer stop()

	require.Eventually(t, func() bool {
		return staleCount.Load() >= 1
	}, 3*time.Second, 10*time.Millisecond)

	// 告警之后轮询继续，不停止
	before := requestCount.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Greater(t, requestCount.Load(), before)
	assert.Equal(t, int64(1), staleCount.Load())
}

func TestStopDoesNotCancelServerTask(t *testing.T) {
	var requestCount atomic.Int64
	var cancelCalled atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			cancelCalled.Store(true)
		}
		requestCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    model.Task{TaskID: "t4", Status: model.TaskStatusProcessing, Progress: 10},
		})
	}))
	defer server.Close()

	api := New(server.URL)
	defer api.Close()
	watcher := NewTaskWatcher(api)

	stop := watcher.Watch("t4", WatchCallbacks{}, WatchOptions{Interval: 20 * time.Millisecond})

	require.Eventually(t, func() bool {
		return requestCount.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond)

	// 停止观察只停本地轮询，绝不向服务端发取消请求
	stop()

	require.Eventually(t, func() bool {
		return !watcher.Watching("t4")
	}, time.Second, 10*time.Millisecond)

	settled := requestCount.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, settled, requestCount.Load())
	assert.False(t, cancelCalled.Load())
}

func TestWatchDuplicateKeepsFirst(t *testing.T) {
	var requestCount atomic.Int64
	server := taskSequenceServer(t, &requestCount, []model.Task{
		{TaskID: "t5", Status: model.TaskStatusProcessing, Progress: 10},
	})
	defer server.Close()

	api := New(server.URL)
	defer api.Close()
	watcher := NewTaskWatcher(api)

	stop1 := watcher.Watch("t5", WatchCallbacks{}, WatchOptions{Interval: 20 * time.Millisecond})
	stop2 := watcher.Watch("t5", WatchCallbacks{}, WatchOptions{Interval: 20 * time.Millisecond})
	defer stop1()

	assert.True(t, watcher.Watching("t5"))

	// 重复Watch返回同一个观察的停止函数
	stop2()
	require.Eventually(t, func() bool {
		return !watcher.Watching("t5")
	}, time.Second, 10*time.Millisecond)
}

func TestClientErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"success":    false,
			"message":    "下载任务已在进行中",
			"error_code": "TASK_IN_PROGRESS",
		})
	}))
	defer server.Close()

	api := New(server.URL)
	defer api.Close()

	_, err := api.DownloadEpisode(1)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "TASK_IN_PROGRESS", apiErr.ErrorCode)
}
