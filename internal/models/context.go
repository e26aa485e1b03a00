// internal/models/context.go
package models

import (
	"time"
)

// ContextRole 上下文条目的角色
type ContextRole string

const (
	ContextPersona ContextRole = "persona"
	ContextScene   ContextRole = "scene"
	ContextHistory ContextRole = "history"
)

// ContextEntry 单次生成调用所用上下文中的一个条目
type ContextEntry struct {
	Role       ContextRole `json:"role"`
	Seq        int64       `json:"seq,omitempty"`
	Kind       EventKind   `json:"kind,omitempty"`
	Originator string      `json:"originator,omitempty"`
	Content    string      `json:"content"`
	Units      int         `json:"units"`
	Pinned     bool        `json:"pinned,omitempty"`
}

// TurnContext 为某个行动者组装的有界上下文（临时，不持久化）
type TurnContext struct {
	ActorID   string         `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	Persona   ContextEntry   `json:"persona"`
	Scene     *ContextEntry  `json:"scene,omitempty"`
	History   []ContextEntry `json:"history"`
	Units     int            `json:"units"`
	Budget    int            `json:"budget"`
}

// SessionInfo 会话元数据（用于恢复）
type SessionInfo struct {
	ID        string    `json:"id"`
	StoryID   string    `json:"story_id"`
	HumanName string    `json:"human_name"`
	CreatedAt time.Time `json:"created_at"`
}
