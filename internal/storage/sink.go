// internal/storage/sink.go
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
)

// EventSink 会话时间线的持久化后端
type EventSink interface {
	// Append 持久化一个已分配序号的事件；返回错误时事件不得对读者可见
	Append(ctx context.Context, sessionID string, event models.Event) error
	// Load 按序号升序返回会话的全部事件
	Load(ctx context.Context, sessionID string) ([]models.Event, error)
	SaveSession(ctx context.Context, info models.SessionInfo) error
	LoadSession(ctx context.Context, sessionID string) (*models.SessionInfo, error)
	ListSessions(ctx context.Context) ([]models.SessionInfo, error)
	Close() error
}

// NewEventSink 按配置创建持久化后端
func NewEventSink(kind, dataDir string) (EventSink, error) {
	switch kind {
	case "sqlite":
		return OpenSQLiteSink(filepath.Join(dataDir, "rolerealm.db"))
	case "file":
		return NewFileSink(dataDir)
	case "memory":
		return NewMemorySink(), nil
	default:
		return nil, fmt.Errorf("未知的持久化后端: %s", kind)
	}
}

// MemorySink 进程内持久化（不跨进程保留）
type MemorySink struct {
	mu       sync.RWMutex
	events   map[string][]models.Event
	sessions map[string]models.SessionInfo
}

// NewMemorySink 创建内存持久化后端
func NewMemorySink() *MemorySink {
	return &MemorySink{
		events:   make(map[string][]models.Event),
		sessions: make(map[string]models.SessionInfo),
	}
}

// Append 追加事件
func (m *MemorySink) Append(ctx context.Context, sessionID string, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[sessionID] = append(m.events[sessionID], event)
	return nil
}

// Load 加载事件副本
func (m *MemorySink) Load(ctx context.Context, sessionID string) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Event(nil), m.events[sessionID]...), nil
}

// SaveSession 保存会话元数据
func (m *MemorySink) SaveSession(ctx context.Context, info models.SessionInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[info.ID] = info
	return nil
}

// LoadSession 读取会话元数据
func (m *MemorySink) LoadSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.sessions[sessionID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", sessionID), nil)
	}
	return &info, nil
}

// ListSessions 按创建时间列出会话
func (m *MemorySink) ListSessions(ctx context.Context) ([]models.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]models.SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		list = append(list, info)
	}
	sortSessions(list)
	return list, nil
}

// Close 无操作
func (m *MemorySink) Close() error { return nil }

func sortSessions(list []models.SessionInfo) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
