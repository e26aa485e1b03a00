// internal/models/event.go
package models

import "time"

// EventKind 时间线事件类型
type EventKind string

const (
	EventMessage           EventKind = "message"
	EventAction            EventKind = "action"
	EventSceneChange       EventKind = "scene-change"
	EventObjectiveComplete EventKind = "objective-complete"
	EventSystemNote        EventKind = "system-note"
)

// 保留的行动者ID
const (
	ActorHuman    = "human"
	ActorDirector = "director"
)

// Valid 检查事件类型是否合法
func (k EventKind) Valid() bool {
	switch k {
	case EventMessage, EventAction, EventSceneChange, EventObjectiveComplete, EventSystemNote:
		return true
	}
	return false
}

// IsContent 对话内容类事件（参与轮换统计和目标判定）
func (k EventKind) IsContent() bool {
	return k == EventMessage || k == EventAction
}

// IsStory 剧情推进类事件
func (k EventKind) IsStory() bool {
	return k == EventSceneChange || k == EventObjectiveComplete
}

// Event 时间线中的不可变事件
type Event struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       EventKind `json:"kind"`
	Originator string    `json:"originator"`    // 角色ID、human 或 director
	Payload    string    `json:"payload"`       // 文本内容
	Tag        string    `json:"tag,omitempty"` // 结构化标签：场景ID、目标ID、错误类型等
}

// IsHumanMessage 是否为人类玩家发出的消息
func (e Event) IsHumanMessage() bool {
	return e.Kind == EventMessage && e.Originator == ActorHuman
}
