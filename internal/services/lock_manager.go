// internal/services/lock_manager.go
package services

import (
	"sync"
	"time"
)

// LockManager 统一的会话锁管理器
type LockManager struct {
	sessionLocks map[string]*LockInfo
	globalLock   sync.Mutex
	lockTTL      time.Duration

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// LockInfo 包装锁和相关信息
type LockInfo struct {
	Mutex          *sync.Mutex
	LastUsed       time.Time
	ReferenceCount int32 // 当前锁被引用的次数，用于防止在使用时被清理
}

// NewLockManager 创建锁管理器
func NewLockManager() *LockManager {
	lm := &LockManager{
		sessionLocks: make(map[string]*LockInfo),
		lockTTL:      30 * time.Minute,
		stopCh:       make(chan struct{}),
	}

	// 启动清理器
	lm.startCleanup()
	return lm
}

// acquire 获取锁信息并增加引用计数
func (lm *LockManager) acquire(sessionID string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.sessionLocks[sessionID]
	if !exists {
		info = &LockInfo{Mutex: &sync.Mutex{}}
		lm.sessionLocks[sessionID] = info
	}
	info.ReferenceCount++
	info.LastUsed = time.Now()
	return info
}

func (lm *LockManager) release(info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	info.ReferenceCount--
	info.LastUsed = time.Now()
}

// ExecuteWithSessionLock 在会话写锁保护下执行操作
func (lm *LockManager) ExecuteWithSessionLock(sessionID string, fn func() error) error {
	info := lm.acquire(sessionID)
	defer lm.release(info)

	info.Mutex.Lock()
	defer info.Mutex.Unlock()
	return fn()
}

// Remove 会话结束时移除其锁（仍被引用时保留）
func (lm *LockManager) Remove(sessionID string) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	if info, ok := lm.sessionLocks[sessionID]; ok && info.ReferenceCount == 0 {
		delete(lm.sessionLocks, sessionID)
	}
}

// Len 当前持有的锁数量
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.sessionLocks)
}

// Stop 停止后台清理
func (lm *LockManager) Stop() {
	lm.stopOnce.Do(func() {
		close(lm.stopCh)
		if lm.cleanupTicker != nil {
			lm.cleanupTicker.Stop()
		}
	})
}

// 定期清理未使用的锁
func (lm *LockManager) startCleanup() {
	lm.cleanupTicker = time.NewTicker(5 * time.Minute)
	go func() {
		for {
			select {
			case <-lm.cleanupTicker.C:
				lm.cleanupUnusedLocks(time.Now())
			case <-lm.stopCh:
				return
			}
		}
	}()
}

func (lm *LockManager) cleanupUnusedLocks(now time.Time) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	for sessionID, info := range lm.sessionLocks {
		if info.ReferenceCount == 0 && now.Sub(info.LastUsed) > lm.lockTTL {
			delete(lm.sessionLocks, sessionID)
		}
	}
}
