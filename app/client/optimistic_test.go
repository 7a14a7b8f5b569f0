package client

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapView 内存视图，模拟列表页/详情页各自持有的单集状态
type mapView struct {
	mu     sync.Mutex
	values map[uint]bool
}

func newMapView(values map[uint]bool) *mapView {
	return &mapView{values: values}
}

func (v *mapView) Get(episodeID uint) (bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	value, ok := v.values[episodeID]
	return value, ok
}

func (v *mapView) Set(episodeID uint, value bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[episodeID] = value
}

func TestToggleAppliesImmediatelyToAllViews(t *testing.T) {
	listView := newMapView(map[uint]bool{1: false})
	detailView := newMapView(map[uint]bool{1: false})

	toggler := NewOptimisticToggler()
	toggler.Register(listView)
	toggler.Register(detailView)

	committed := false
	err := toggler.Toggle(1, true, func() error {
		// commit执行时视图已经是新值
		value, _ := listView.Get(1)
		assert.True(t, value)
		committed = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, committed)

	value, _ := listView.Get(1)
	assert.True(t, value)
	value, _ = detailView.Get(1)
	assert.True(t, value)
}

func TestToggleRollbackOnFailure(t *testing.T) {
	listView := newMapView(map[uint]bool{1: true, 2: false})
	detailView := newMapView(map[uint]bool{1: true})

	toggler := NewOptimisticToggler()
	toggler.Register(listView)
	toggler.Register(detailView)

	err := toggler.Toggle(1, false, func() error {
		return fmt.Errorf("网络错误")
	})
	require.Error(t, err)

	// 所有视图回到切换前的值
	value, _ := listView.Get(1)
	assert.True(t, value)
	value, _ = detailView.Get(1)
	assert.True(t, value)

	// 无关资源不受影响
	value, _ = listView.Get(2)
	assert.False(t, value)
}

func TestToggleSkipsViewsWithoutResource(t *testing.T) {
	listView := newMapView(map[uint]bool{1: false})
	otherView := newMapView(map[uint]bool{9: true})

	toggler := NewOptimisticToggler()
	toggler.Register(listView)
	toggler.Register(otherView)

	err := toggler.Toggle(1, true, func() error { return fmt.Errorf("失败") })
	require.Error(t, err)

	// 不包含该资源的视图既不被写入也不被回滚
	_, ok := otherView.Get(1)
	assert.False(t, ok)
	value, _ := otherView.Get(9)
	assert.True(t, value)
}

func TestConcurrentTogglesCaptureOwnPrior(t *testing.T) {
	view := newMapView(map[uint]bool{1: false})

	toggler := NewOptimisticToggler()
	toggler.Register(view)

	// 第一次切换false->true，commit挂起期间第二次切换true->false并失败。
	// 第二次的回滚目标是它自己捕获的true，不是全局最早的false。
	firstApplied := make(chan struct{})
	secondDone := make(chan struct{})

	go func() {
		_ = toggler.Toggle(1, true, func() error {
			close(firstApplied)
			<-secondDone
			return nil
		})
	}()

	<-firstApplied
	err := toggler.Toggle(1, false, func() error {
		return fmt.Errorf("写入失败")
	})
	require.Error(t, err)
	close(secondDone)

	value, _ := view.Get(1)
	assert.True(t, value)
}
