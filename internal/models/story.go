// internal/models/story.go
package models

import (
	"fmt"
	"sort"
	"time"
)

// Story 表示一个可游玩的故事定义（只读）
type Story struct {
	ID                string      `json:"id" yaml:"id"`
	Title             string      `json:"title" yaml:"title"`
	Description       string      `json:"description" yaml:"description"`
	InitialScene      string      `json:"initial_scene" yaml:"initial_scene"`
	DirectorCharacter string      `json:"director_character,omitempty" yaml:"director_character,omitempty"` // 导演使用的角色人设
	Scenes            []Scene     `json:"scenes" yaml:"scenes"`
	Objectives        []Objective `json:"objectives" yaml:"objectives"`
}

// SceneByID 按ID查找场景
func (s *Story) SceneByID(id string) (Scene, bool) {
	for _, scene := range s.Scenes {
		if scene.ID == id {
			return scene, true
		}
	}
	return Scene{}, false
}

// ObjectivesFor 返回场景内的目标序列，按位置排序，位置相同保持声明顺序
func (s *Story) ObjectivesFor(sceneID string) []Objective {
	result := make([]Objective, 0)
	for _, obj := range s.Objectives {
		if obj.SceneID == sceneID {
			result = append(result, obj)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Position < result[j].Position
	})
	return result
}

// ObjectiveByID 按ID查找目标
func (s *Story) ObjectiveByID(id string) (Objective, bool) {
	for _, obj := range s.Objectives {
		if obj.ID == id {
			return obj, true
		}
	}
	return Objective{}, false
}

// Clone 深拷贝故事定义，各会话持有独立副本
func (s *Story) Clone() *Story {
	c := *s
	c.Scenes = make([]Scene, len(s.Scenes))
	for i, scene := range s.Scenes {
		scene.Present = append([]string(nil), scene.Present...)
		scene.Entry = scene.Entry.clone()
		exits := make([]SceneExit, len(scene.Exits))
		for j, exit := range scene.Exits {
			exits[j] = SceneExit{Target: exit.Target, When: exit.When.clone()}
		}
		scene.Exits = exits
		c.Scenes[i] = scene
	}
	c.Objectives = make([]Objective, len(s.Objectives))
	for i, obj := range s.Objectives {
		obj.Predicate = *obj.Predicate.clone()
		c.Objectives[i] = obj
	}
	return &c
}

// Validate 检查故事结构与角色集合的一致性
func (s *Story) Validate(characterIDs map[string]bool) error {
	if s.ID == "" {
		return fmt.Errorf("故事缺少ID")
	}
	if len(s.Scenes) == 0 {
		return fmt.Errorf("故事 %s 没有场景", s.ID)
	}

	scenes := make(map[string]bool, len(s.Scenes))
	for _, scene := range s.Scenes {
		if scene.ID == "" {
			return fmt.Errorf("故事 %s 存在缺少ID的场景", s.ID)
		}
		if scenes[scene.ID] {
			return fmt.Errorf("场景ID重复: %s", scene.ID)
		}
		scenes[scene.ID] = true
	}
	if !scenes[s.InitialScene] {
		return fmt.Errorf("初始场景不存在: %q", s.InitialScene)
	}

	for _, scene := range s.Scenes {
		for _, exit := range scene.Exits {
			if !scenes[exit.Target] {
				return fmt.Errorf("场景 %s 的出口指向未知场景: %s", scene.ID, exit.Target)
			}
		}
		for _, id := range scene.Present {
			if !characterIDs[id] {
				return fmt.Errorf("场景 %s 引用了未知角色: %s", scene.ID, id)
			}
		}
	}

	objectives := make(map[string]bool, len(s.Objectives))
	for _, obj := range s.Objectives {
		if obj.ID == "" {
			return fmt.Errorf("存在缺少ID的目标")
		}
		if objectives[obj.ID] {
			return fmt.Errorf("目标ID重复: %s", obj.ID)
		}
		objectives[obj.ID] = true
		if !scenes[obj.SceneID] {
			return fmt.Errorf("目标 %s 属于未知场景: %s", obj.ID, obj.SceneID)
		}
	}

	if s.DirectorCharacter != "" && !characterIDs[s.DirectorCharacter] {
		return fmt.Errorf("导演角色不存在: %s", s.DirectorCharacter)
	}
	return nil
}

// StoryProgressStatus 表示从时间线推导出的故事进展状态
type StoryProgressStatus struct {
	SessionID           string    `json:"session_id"`
	StoryID             string    `json:"story_id"`
	StoryTitle          string    `json:"story_title"`
	CurrentScene        string    `json:"current_scene"`
	SceneDescription    string    `json:"scene_description"`
	ActiveObjective     string    `json:"active_objective,omitempty"`
	ActiveObjectiveDesc string    `json:"active_objective_description,omitempty"`
	CompletedObjectives int       `json:"completed_objectives"`
	TotalObjectives     int       `json:"total_objectives"`
	Progress            float64   `json:"progress"` // 百分比
	IsComplete          bool      `json:"is_complete"`
	EventCount          int       `json:"event_count"`
	LastUpdated         time.Time `json:"last_updated"`
}
