// internal/services/context_service.go
package services

import (
	"fmt"
	"strings"
	"unicode/utf8"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/utils"
)

// UnitCounter 计算文本占用的上下文单位
type UnitCounter func(text string) int

// DefaultUnitCounter 约4个字符计1个单位，至少为1
func DefaultUnitCounter(text string) int {
	n := utf8.RuneCountInString(text)
	units := (n + 3) / 4
	if units < 1 {
		units = 1
	}
	return units
}

// ContextRequest 为某个行动者组装上下文所需的输入
type ContextRequest struct {
	ActorID   string
	Story     *models.Story
	Registry  *CharacterRegistry
	Addresser *Addresser
	HumanName string
	Events    []models.Event
	Budget    int
}

// ContextAssembler 在预算内组装确定性的上下文
type ContextAssembler struct {
	counter UnitCounter
	logger  *utils.Logger
}

// NewContextAssembler 创建上下文组装器；counter 为空时使用默认计数
func NewContextAssembler(counter UnitCounter, logger *utils.Logger) *ContextAssembler {
	if counter == nil {
		counter = DefaultUnitCounter
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ContextAssembler{counter: counter, logger: logger}
}

// Assemble 人设 + 场景 + 时间线后缀（最新优先贪心填充，固定事件后注入）
func (a *ContextAssembler) Assemble(req ContextRequest) (*models.TurnContext, error) {
	if req.Story == nil || req.Registry == nil {
		return nil, apperrors.NewValidationError("组装上下文缺少故事或角色注册表", nil)
	}

	actorName, persona, err := a.persona(req)
	if err != nil {
		return nil, err
	}
	personaEntry := models.ContextEntry{
		Role:       models.ContextPersona,
		Originator: req.ActorID,
		Content:    persona,
		Units:      a.counter(persona),
	}
	if personaEntry.Units > req.Budget {
		return nil, apperrors.NewContextTooSmallError(
			fmt.Sprintf("上下文预算 %d 小于 %s 的人设所需 %d", req.Budget, req.ActorID, personaEntry.Units), nil)
	}

	tc := &models.TurnContext{
		ActorID:   req.ActorID,
		ActorName: actorName,
		Persona:   personaEntry,
		History:   []models.ContextEntry{},
		Budget:    req.Budget,
	}
	remaining := req.Budget - personaEntry.Units

	sceneID := CurrentSceneID(req.Story, req.Events)
	if scene, ok := req.Story.SceneByID(sceneID); ok {
		content := a.renderScene(scene, req.Registry)
		entry := models.ContextEntry{Role: models.ContextScene, Content: content, Units: a.counter(content)}
		if entry.Units <= remaining {
			tc.Scene = &entry
			remaining -= entry.Units
		} else {
			a.logger.Warn("场景描述超出剩余预算，已省略", map[string]interface{}{
				"actor": req.ActorID, "scene": sceneID, "units": entry.Units, "remaining": remaining,
			})
		}
	}

	tc.History = a.fillHistory(req, remaining)

	tc.Units = tc.Persona.Units
	if tc.Scene != nil {
		tc.Units += tc.Scene.Units
	}
	for _, e := range tc.History {
		tc.Units += e.Units
	}
	return tc, nil
}

// fillHistory 从最新事件向前贪心填充普通事件，再注入固定事件并挤出最旧的普通事件
func (a *ContextAssembler) fillHistory(req ContextRequest, budget int) []models.ContextEntry {
	regular := make([]models.ContextEntry, 0)
	pinned := make([]models.ContextEntry, 0)
	for _, e := range req.Events {
		entry := a.renderEvent(e, req)
		if isPinned(e, req.Addresser) {
			entry.Pinned = true
			pinned = append(pinned, entry)
		} else {
			regular = append(regular, entry)
		}
	}

	// 最新优先
	used := 0
	start := len(regular)
	for i := len(regular) - 1; i >= 0; i-- {
		if used+regular[i].Units > budget {
			break
		}
		used += regular[i].Units
		start = i
	}
	kept := regular[start:]

	for _, p := range pinned {
		used += p.Units
	}
	// 超出预算时挤出最旧的普通事件；固定事件永不丢弃
	for used > budget && len(kept) > 0 {
		used -= kept[0].Units
		kept = kept[1:]
	}
	if used > budget {
		a.logger.Debug("固定事件超出预算", map[string]interface{}{
			"actor": req.ActorID, "used": used, "budget": budget,
		})
	}

	return mergeBySeq(kept, pinned)
}

// isPinned 场景切换、目标完成、导演事件以及触发导演的人类消息不会被截断
func isPinned(e models.Event, addresser *Addresser) bool {
	if e.Kind.IsStory() || e.Originator == models.ActorDirector {
		return true
	}
	if e.IsHumanMessage() && addresser != nil && addresser.TriggersDirector(e.Payload) {
		return true
	}
	return false
}

func mergeBySeq(a, b []models.ContextEntry) []models.ContextEntry {
	out := make([]models.ContextEntry, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Seq <= b[j].Seq {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// persona 渲染行动者的人设块（全部字段逐字包含）
func (a *ContextAssembler) persona(req ContextRequest) (string, string, error) {
	if req.ActorID == models.ActorDirector {
		return a.directorPersona(req)
	}
	c, ok := req.Registry.Get(req.ActorID)
	if !ok {
		return "", "", apperrors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", req.ActorID), nil)
	}
	return c.Name, renderCharacter(c, req.Registry), nil
}

func (a *ContextAssembler) directorPersona(req ContextRequest) (string, string, error) {
	var b strings.Builder
	name := "Director"
	if c, ok := req.Registry.Get(req.Story.DirectorCharacter); ok {
		name = c.Name
		b.WriteString(renderCharacter(c, req.Registry))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Role: you are the director and narrator of the story %q.", req.Story.Title)
	if req.Story.Description != "" {
		fmt.Fprintf(&b, "\nStory: %s", req.Story.Description)
	}
	b.WriteString("\nDescribe the world, answer the player's questions about it and never speak for other characters.")
	return name, b.String(), nil
}

func renderCharacter(c models.Character, registry *CharacterRegistry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (%s).", c.Name, c.ID)
	if len(c.Traits) > 0 {
		fmt.Fprintf(&b, "\nTraits: %s", strings.Join(c.Traits, ", "))
	}
	if c.SpeakingStyle != "" {
		fmt.Fprintf(&b, "\nSpeaking style: %s", c.SpeakingStyle)
	}
	if c.Background != "" {
		fmt.Fprintf(&b, "\nBackground: %s", c.Background)
	}
	if len(c.Goals) > 0 {
		b.WriteString("\nGoals:")
		for _, g := range c.Goals {
			fmt.Fprintf(&b, "\n- %s", g)
		}
	}
	if ids := c.SortedRelationshipIDs(); len(ids) > 0 {
		b.WriteString("\nRelationships:")
		for _, id := range ids {
			fmt.Fprintf(&b, "\n- %s: %s", registry.DisplayName(id), c.Relationships[id])
		}
	}
	if facts := c.SortedKnowledge(); len(facts) > 0 {
		b.WriteString("\nKnowledge:")
		for _, f := range facts {
			fmt.Fprintf(&b, "\n- %s", f)
		}
	}
	return b.String()
}

func (a *ContextAssembler) renderScene(scene models.Scene, registry *CharacterRegistry) string {
	var b strings.Builder
	title := scene.Title
	if title == "" {
		title = scene.ID
	}
	fmt.Fprintf(&b, "Current scene: %s\n%s", title, scene.Description)
	if len(scene.Present) > 0 {
		names := make([]string, 0, len(scene.Present))
		for _, id := range scene.Present {
			names = append(names, registry.DisplayName(id))
		}
		fmt.Fprintf(&b, "\nPresent: %s", strings.Join(names, ", "))
	}
	return b.String()
}

func (a *ContextAssembler) renderEvent(e models.Event, req ContextRequest) models.ContextEntry {
	speaker := a.speakerName(e.Originator, req)
	var content string
	switch e.Kind {
	case models.EventMessage:
		content = fmt.Sprintf("%s: %s", speaker, e.Payload)
	case models.EventAction:
		content = fmt.Sprintf("*%s %s*", speaker, e.Payload)
	case models.EventSceneChange:
		content = fmt.Sprintf("[scene: %s] %s", e.Tag, e.Payload)
	case models.EventObjectiveComplete:
		content = fmt.Sprintf("[objective complete: %s] %s", e.Tag, e.Payload)
	default:
		content = fmt.Sprintf("[note] %s", e.Payload)
	}
	return models.ContextEntry{
		Role:       models.ContextHistory,
		Seq:        e.Seq,
		Kind:       e.Kind,
		Originator: e.Originator,
		Content:    content,
		Units:      a.counter(content),
	}
}

func (a *ContextAssembler) speakerName(originator string, req ContextRequest) string {
	switch originator {
	case models.ActorHuman:
		if req.HumanName != "" {
			return req.HumanName
		}
		return "Player"
	case models.ActorDirector:
		if c, ok := req.Registry.Get(req.Story.DirectorCharacter); ok {
			return c.Name
		}
		return "Director"
	}
	return req.Registry.DisplayName(originator)
}
