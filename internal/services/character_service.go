// internal/services/character_service.go
package services

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
)

// CharacterRegistry 会话内只读的角色注册表
type CharacterRegistry struct {
	byID   map[string]models.Character
	byName map[string]string // 小写名称/昵称/ID -> 角色ID
	ids    []string          // 按ID升序
}

// NewCharacterRegistry 构建注册表；名称在角色间冲突视为配置错误
func NewCharacterRegistry(characters []models.Character) (*CharacterRegistry, error) {
	r := &CharacterRegistry{
		byID:   make(map[string]models.Character, len(characters)),
		byName: make(map[string]string),
		ids:    make([]string, 0, len(characters)),
	}

	for _, c := range characters {
		if c.ID == "" {
			return nil, apperrors.NewConfigError("角色缺少ID", nil)
		}
		if _, exists := r.byID[c.ID]; exists {
			return nil, apperrors.NewConfigError(fmt.Sprintf("角色ID重复: %s", c.ID), nil)
		}
		r.byID[c.ID] = c
		r.ids = append(r.ids, c.ID)
	}
	sort.Strings(r.ids)

	for _, id := range r.ids {
		for _, name := range r.byID[id].Names() {
			key := strings.ToLower(name)
			if owner, exists := r.byName[key]; exists && owner != id {
				return nil, apperrors.NewConfigError(fmt.Sprintf("角色名称冲突: %q 同时属于 %s 和 %s", name, owner, id), nil)
			}
			r.byName[key] = id
		}
	}
	return r, nil
}

// Get 按ID获取角色
func (r *CharacterRegistry) Get(id string) (models.Character, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Lookup 按名称、昵称或ID查找角色（忽略大小写）
func (r *CharacterRegistry) Lookup(name string) (models.Character, bool) {
	id, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return models.Character{}, false
	}
	return r.byID[id], true
}

// IDs 返回按升序排列的角色ID
func (r *CharacterRegistry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// All 返回按ID排序的全部角色
func (r *CharacterRegistry) All() []models.Character {
	list := make([]models.Character, 0, len(r.ids))
	for _, id := range r.ids {
		list = append(list, r.byID[id])
	}
	return list
}

// Len 角色数量
func (r *CharacterRegistry) Len() int {
	return len(r.ids)
}

// DisplayName 返回行动者的显示名称
func (r *CharacterRegistry) DisplayName(actorID string) string {
	if c, ok := r.byID[actorID]; ok && c.Name != "" {
		return c.Name
	}
	return actorID
}
