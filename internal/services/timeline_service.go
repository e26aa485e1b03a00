// internal/services/timeline_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
)

// EventSink 时间线的持久化镜像
type EventSink interface {
	Append(ctx context.Context, sessionID string, event models.Event) error
}

// Timeline 单个会话的只追加事件日志
type Timeline struct {
	sessionID string
	sink      EventSink
	clock     func() time.Time

	writeMu sync.Mutex   // 单写者
	mu      sync.RWMutex // 保护 events 的可见前缀
	events  []models.Event
}

// NewTimeline 创建空时间线；sink 可为空
func NewTimeline(sessionID string, sink EventSink) *Timeline {
	return &Timeline{
		sessionID: sessionID,
		sink:      sink,
		clock:     time.Now,
		events:    make([]models.Event, 0, 64),
	}
}

// RestoreTimeline 从持久化事件重建时间线，序号必须从1开始连续
func RestoreTimeline(sessionID string, sink EventSink, events []models.Event) (*Timeline, error) {
	t := NewTimeline(sessionID, sink)
	for i, e := range events {
		if e.Seq != int64(i+1) {
			return nil, apperrors.NewProcessingError(
				fmt.Sprintf("时间线记录损坏: 第%d条事件序号为%d", i+1, e.Seq), nil)
		}
		if !e.Kind.Valid() {
			return nil, apperrors.NewProcessingError(fmt.Sprintf("时间线记录损坏: 未知事件类型 %q", e.Kind), nil)
		}
		if i > 0 && e.Timestamp.Before(events[i-1].Timestamp) {
			e.Timestamp = events[i-1].Timestamp
		}
		t.events = append(t.events, e)
	}
	return t, nil
}

// SetClock 替换时钟（测试用）
func (t *Timeline) SetClock(clock func() time.Time) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	t.clock = clock
}

// Append 分配序号与时间戳，先写入持久化再对读者可见
func (t *Timeline) Append(ctx context.Context, event models.Event) (models.Event, error) {
	if !event.Kind.Valid() {
		return models.Event{}, apperrors.NewValidationError(fmt.Sprintf("未知事件类型: %q", event.Kind), nil)
	}
	if strings.TrimSpace(event.Originator) == "" {
		return models.Event{}, apperrors.NewValidationError("事件缺少发起者", nil)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	next := int64(len(t.events) + 1)
	var last time.Time
	if len(t.events) > 0 {
		last = t.events[len(t.events)-1].Timestamp
	}
	t.mu.RUnlock()

	event.Seq = next
	event.Timestamp = t.clock()
	if event.Timestamp.Before(last) {
		event.Timestamp = last
	}

	if t.sink != nil {
		if err := t.sink.Append(ctx, t.sessionID, event); err != nil {
			return models.Event{}, apperrors.NewTimelineWriteError(
				fmt.Sprintf("持久化事件 #%d 失败", event.Seq), err)
		}
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	t.mu.Unlock()

	return event, nil
}

// Slice 返回序号在 [from, to] 内的事件；to <= 0 表示到末尾
func (t *Timeline) Slice(from, to int64) []models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := int64(len(t.events))
	if from < 1 {
		from = 1
	}
	if to <= 0 || to > n {
		to = n
	}
	if from > to {
		return []models.Event{}
	}
	return append([]models.Event(nil), t.events[from-1:to]...)
}

// Latest 返回最新的 n 条事件（按时间顺序）
func (t *Timeline) Latest(n int) []models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 {
		return []models.Event{}
	}
	if n > len(t.events) {
		n = len(t.events)
	}
	return append([]models.Event(nil), t.events[len(t.events)-n:]...)
}

// All 返回全部事件的副本
func (t *Timeline) All() []models.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Event(nil), t.events...)
}

// Len 事件数量
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
