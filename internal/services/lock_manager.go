// internal/services/lock_manager.go
package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// LockManager 统一的槽位锁管理器
// 每个 (jobID, sceneIndex, shotIndex) 槽位一把锁，避免并发写同一槽位交错
type LockManager struct {
	slotLocks     map[string]*LockInfo
	globalLock    sync.RWMutex
	cleanupTicker *time.Ticker
}

// LockInfo 包装锁和相关信息
// lastUsed 用原子量记录，GetLock 在只持有读锁时也会更新它
type LockInfo struct {
	Mutex    *sync.RWMutex
	lastUsed atomic.Int64
}

func (li *LockInfo) touch() {
	li.lastUsed.Store(time.Now().UnixNano())
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		slotLocks: make(map[string]*LockInfo),
	}

	lm.startCleanup()
	return lm
}

// GetLock 获取指定键的锁（线程安全）
func (lm *LockManager) GetLock(key string) *sync.RWMutex {
	lm.globalLock.RLock()
	if lockInfo, exists := lm.slotLocks[key]; exists {
		lm.globalLock.RUnlock()
		lockInfo.touch()
		return lockInfo.Mutex
	}
	lm.globalLock.RUnlock()

	// 升级为写锁
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	// 双重检查（在写锁保护下是安全的）
	if lockInfo, exists := lm.slotLocks[key]; exists {
		lockInfo.touch()
		return lockInfo.Mutex
	}

	lockInfo := &LockInfo{Mutex: &sync.RWMutex{}}
	lockInfo.touch()
	lm.slotLocks[key] = lockInfo
	return lockInfo.Mutex
}

// ExecuteWithLock 在写锁保护下执行操作
func (lm *LockManager) ExecuteWithLock(key string, fn func() error) error {
	lock := lm.GetLock(key)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// ExecuteWithReadLock 在读锁保护下执行操作
func (lm *LockManager) ExecuteWithReadLock(key string, fn func() error) error {
	lock := lm.GetLock(key)
	lock.RLock()
	defer lock.RUnlock()
	return fn()
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for range lm.cleanupTicker.C {
			lm.cleanupUnusedLocks()
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks() {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	const maxLocks = 500
	const lockTimeout = 30 * time.Minute

	// 只有在锁数量过多时才清理
	if len(lm.slotLocks) > maxLocks {
		cutoff := time.Now().Add(-lockTimeout).UnixNano()
		for key, lockInfo := range lm.slotLocks {
			if lockInfo.lastUsed.Load() < cutoff {
				delete(lm.slotLocks, key)
			}
		}
	}
}
