// internal/models/scene.go
package models

// Scene 表示故事中的一个场景（场景图中的节点）
type Scene struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description" yaml:"description"`
	Present     []string    `json:"present" yaml:"present"`                 // 在场NPC的角色ID
	Entry       *Condition  `json:"entry,omitempty" yaml:"entry,omitempty"` // 进入条件：作为出口目标时须同时满足
	Exits       []SceneExit `json:"exits,omitempty" yaml:"exits,omitempty"` // 按声明顺序评估
}

// SceneExit 场景图的一条有向边
type SceneExit struct {
	Target string     `json:"target" yaml:"target"`
	When   *Condition `json:"when,omitempty" yaml:"when,omitempty"` // 为空表示无条件
}

// ConditionType 条件谓词类型
type ConditionType string

const (
	ConditionKeyword           ConditionType = "keyword"
	ConditionMinEvents         ConditionType = "min_events"
	ConditionTurnsElapsed      ConditionType = "turns_elapsed"
	ConditionObjectiveComplete ConditionType = "objective_complete"
	ConditionAlways            ConditionType = "always"
)

// Condition 对时间线内容求值的谓词
type Condition struct {
	Type        ConditionType `json:"type" yaml:"type"`
	Keywords    []string      `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Originators []string      `json:"originators,omitempty" yaml:"originators,omitempty"` // 为空表示不限发言者
	Count       int           `json:"count,omitempty" yaml:"count,omitempty"`
	ObjectiveID string        `json:"objective_id,omitempty" yaml:"objective_id,omitempty"`
}

func (c *Condition) clone() *Condition {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Keywords = append([]string(nil), c.Keywords...)
	cp.Originators = append([]string(nil), c.Originators...)
	return &cp
}

// Objective 故事目标定义（完成状态从时间线推导）
type Objective struct {
	ID          string    `json:"id" yaml:"id"`
	SceneID     string    `json:"scene_id" yaml:"scene_id"`
	Description string    `json:"description" yaml:"description"`
	Position    int       `json:"position" yaml:"position"`
	Predicate   Condition `json:"predicate" yaml:"predicate"`
}
