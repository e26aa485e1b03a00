// internal/models/character.go
package models

import (
	"sort"
	"strings"
)

// Character 表示故事中的一个AI角色（加载后不可变）
type Character struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	Aliases       []string          `json:"aliases,omitempty" yaml:"aliases,omitempty"` // 昵称，用于点名
	Traits        []string          `json:"traits" yaml:"traits"`
	SpeakingStyle string            `json:"speaking_style" yaml:"speaking_style"`
	Background    string            `json:"background,omitempty" yaml:"background,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty" yaml:"relationships,omitempty"` // 角色ID -> 关系描述
	Goals         []string          `json:"goals,omitempty" yaml:"goals,omitempty"`
	Knowledge     []string          `json:"knowledge,omitempty" yaml:"knowledge,omitempty"` // 知识库（事实集合）
}

// Names 返回可用于点名的全部名称（显示名、ID、昵称）
func (c Character) Names() []string {
	names := make([]string, 0, 2+len(c.Aliases))
	seen := make(map[string]bool)
	for _, n := range append([]string{c.Name, c.ID}, c.Aliases...) {
		key := strings.ToLower(strings.TrimSpace(n))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, strings.TrimSpace(n))
	}
	return names
}

// SortedKnowledge 返回去重排序后的知识条目
func (c Character) SortedKnowledge() []string {
	facts := make([]string, 0, len(c.Knowledge))
	seen := make(map[string]bool)
	for _, fact := range c.Knowledge {
		if seen[fact] {
			continue
		}
		seen[fact] = true
		facts = append(facts, fact)
	}
	sort.Strings(facts)
	return facts
}

// SortedRelationshipIDs 返回关系表中按字母排序的角色ID
func (c Character) SortedRelationshipIDs() []string {
	ids := make([]string, 0, len(c.Relationships))
	for id := range c.Relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
