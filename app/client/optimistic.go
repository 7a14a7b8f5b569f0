package client

import "sync"

// ToggleView 展示布尔字段的一个视图（列表、详情页等）。
// Get返回当前值及该资源是否出现在视图中。
type ToggleView interface {
	Get(episodeID uint) (value bool, ok bool)
	Set(episodeID uint, value bool)
}

// viewSnapshot 单个视图在本次切换前的值
type viewSnapshot struct {
	view  ToggleView
	value bool
}

// OptimisticToggler 乐观更新：先改所有视图再发请求，失败才回滚。
// 回滚值按每次调用单独捕获，并发快速切换不会互相覆盖导致双重回滚。
type OptimisticToggler struct {
	mu    sync.Mutex
	views []ToggleView
}

// NewOptimisticToggler 创建乐观更新器
func NewOptimisticToggler() *OptimisticToggler {
	return &OptimisticToggler{}
}

// Register 注册一个视图
func (t *OptimisticToggler) Register(view ToggleView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views = append(t.views, view)
}

// Toggle 把新值立即写入所有包含该资源的视图，然后执行commit；
// commit失败时每个视图回退到本次切换前捕获的值。
func (t *OptimisticToggler) Toggle(episodeID uint, value bool, commit func() error) error {
	// 捕获与应用在锁内完成，快照属于本次调用
	t.mu.Lock()
	snapshots := make([]viewSnapshot, 0, len(t.views))
	for _, view := range t.views {
		prior, ok := view.Get(episodeID)
		if !ok {
			continue
		}
		snapshots = append(snapshots, viewSnapshot{view: view, value: prior})
		view.Set(episodeID, value)
	}
	t.mu.Unlock()

	// 网络写在锁外，不阻塞其他资源的切换
	if err := commit(); err != nil {
		t.mu.Lock()
		for _, snapshot := range snapshots {
			snapshot.view.Set(episodeID, snapshot.value)
		}
		t.mu.Unlock()
		return err
	}
	return nil
}
