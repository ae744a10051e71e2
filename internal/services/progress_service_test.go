// internal/services/progress_service_test.go
package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker_Monotonic(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task-1")

	tracker.UpdateProgress(40, "step one")
	tracker.UpdateProgress(20, "stale update")

	snapshot := tracker.Snapshot()
	assert.Equal(t, 40, snapshot.Progress, "进度只接受更大的值")
	assert.Equal(t, "stale update", snapshot.Message)

	tracker.UpdateProgress(80, "")
	assert.Equal(t, 80, tracker.Snapshot().Progress)
}

func TestProgressTracker_Complete(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task-2")

	tracker.UpdateProgress(50, "halfway")
	tracker.Complete("")

	snapshot := tracker.Snapshot()
	assert.Equal(t, 100, snapshot.Progress)
	assert.Equal(t, "completed", snapshot.Status)

	// 二次 Complete/Fail 不能重复关闭 Done
	tracker.Complete("again")
	tracker.Fail("late failure")
	assert.Equal(t, "completed", tracker.Snapshot().Status)

	select {
	case <-tracker.Done:
	case <-time.After(time.Second):
		t.Fatal("Done 通道应该已关闭")
	}
}

func TestProgressTracker_Subscribe(t *testing.T) {
	svc := NewProgressService()
	tracker := svc.CreateTracker("task-3")

	sub := tracker.Subscribe()

	// 订阅即收到当前状态
	first := <-sub
	assert.Equal(t, 0, first.Progress)
	assert.Equal(t, "running", first.Status)

	tracker.UpdateProgress(30, "moving")
	update := <-sub
	assert.Equal(t, 30, update.Progress)

	tracker.Unsubscribe(sub)
	_, open := <-sub
	assert.False(t, open)
}

func TestProgressService_TrackerLifecycle(t *testing.T) {
	svc := NewProgressService()

	created := svc.CreateTracker("task-4")
	same := svc.CreateTracker("task-4")
	assert.Same(t, created, same, "同一任务号返回同一跟踪器")

	got, ok := svc.GetTracker("task-4")
	require.True(t, ok)
	assert.Same(t, created, got)

	svc.RemoveTracker("task-4")
	_, ok = svc.GetTracker("task-4")
	assert.False(t, ok)
}

func TestProgressService_CleanupCompletedTasks(t *testing.T) {
	svc := NewProgressService()

	done := svc.CreateTracker("done-task")
	done.Complete("")
	running := svc.CreateTracker("running-task")

	svc.CleanupCompletedTasks(0)

	_, ok := svc.GetTracker("done-task")
	assert.False(t, ok)
	_, ok = svc.GetTracker("running-task")
	assert.True(t, ok)
	_ = running
}

func TestLockManager_SerializesAccess(t *testing.T) {
	lm := NewLockManager()

	counter := 0
	donech := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { donech <- struct{}{} }()
			_ = lm.ExecuteWithLock("slot", func() error {
				counter++
				return nil
			})
		}()
	}
	for i := 0; i < 10; i++ {
		<-donech
	}

	assert.Equal(t, 10, counter)
}

func TestLockManager_SameKeySameLock(t *testing.T) {
	lm := NewLockManager()

	a := lm.GetLock("job:0:1")
	b := lm.GetLock("job:0:1")
	c := lm.GetLock("job:0:2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

// 并发获取同一把锁与后台清理同时进行时不得有数据竞争
func TestLockManager_ConcurrentTouchAndCleanup(t *testing.T) {
	lm := NewLockManager()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = lm.GetLock("hot-slot")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			lm.cleanupUnusedLocks()
		}
	}()
	wg.Wait()

	assert.NotNil(t, lm.GetLock("hot-slot"))
}
