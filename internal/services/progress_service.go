// internal/services/progress_service.go
package services

import (
	"fmt"
	"strings"

	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/utils"
)

// ProgressionEngine 根据时间线判定目标完成与场景切换
type ProgressionEngine struct {
	logger *utils.Logger
}

// NewProgressionEngine 创建剧情推进引擎
func NewProgressionEngine(logger *utils.Logger) *ProgressionEngine {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &ProgressionEngine{logger: logger}
}

// CurrentSceneID 最近一次 scene-change 的目标场景，否则为初始场景
func CurrentSceneID(story *models.Story, events []models.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == models.EventSceneChange && events[i].Tag != "" {
			return events[i].Tag
		}
	}
	return story.InitialScene
}

// CompletedObjectives 时间线中已完成的目标ID集合
func CompletedObjectives(events []models.Event) map[string]bool {
	done := make(map[string]bool)
	for _, e := range events {
		if e.Kind == models.EventObjectiveComplete && e.Tag != "" {
			done[e.Tag] = true
		}
	}
	return done
}

// ActiveObjective 当前场景中第一个未完成的目标
func ActiveObjective(story *models.Story, events []models.Event) (models.Objective, bool) {
	done := CompletedObjectives(events)
	for _, obj := range story.ObjectivesFor(CurrentSceneID(story, events)) {
		if !done[obj.ID] {
			return obj, true
		}
	}
	return models.Objective{}, false
}

// Evaluate 纯函数：返回应追加的 objective-complete / scene-change 事件（尚未分配序号）
//
// 目标完成会级联；场景全部目标完成后按声明顺序评估出口。
// 出口只在玩家于当前场景发言后才评估，因此一次评估至多切换一次场景，
// 对未变化的时间线再次评估不会产生新事件。
func (p *ProgressionEngine) Evaluate(story *models.Story, events []models.Event) []models.Event {
	if story == nil {
		return nil
	}
	working := append([]models.Event(nil), events...)
	emitted := make([]models.Event, 0)

	emit := func(e models.Event) {
		working = append(working, e)
		emitted = append(emitted, e)
	}

	for {
		sceneID := CurrentSceneID(story, working)
		obj, active := ActiveObjective(story, working)
		if active {
			if !p.met(obj.Predicate, story, working, "objective "+obj.ID) {
				return emitted
			}
			emit(models.Event{
				Kind:       models.EventObjectiveComplete,
				Originator: models.ActorDirector,
				Payload:    obj.Description,
				Tag:        obj.ID,
			})
			continue
		}

		if !humanSpokeInScene(working) {
			return emitted
		}

		scene, ok := story.SceneByID(sceneID)
		if !ok {
			p.logger.Warn("当前场景不存在于故事定义中", map[string]interface{}{"scene": sceneID, "story": story.ID})
			return emitted
		}
		changed := false
		for _, exit := range scene.Exits {
			if exit.When != nil && !p.met(*exit.When, story, working, "exit "+sceneID+"->"+exit.Target) {
				continue
			}
			target, ok := story.SceneByID(exit.Target)
			if !ok {
				p.logger.Warn("场景出口指向未知场景", map[string]interface{}{"scene": sceneID, "target": exit.Target})
				continue
			}
			// 入口条件在离开前求值，窗口和回合计数都属于当前场景
			if target.Entry != nil && !p.met(*target.Entry, story, working, "entry "+target.ID) {
				continue
			}
			emit(models.Event{
				Kind:       models.EventSceneChange,
				Originator: models.ActorDirector,
				Payload:    sceneIntro(target),
				Tag:        target.ID,
			})
			changed = true
			break
		}
		// 进入新场景后继续级联其目标，出口等待玩家发言
		if !changed {
			return emitted
		}
	}
}

// humanSpokeInScene 最近一次场景切换之后是否有人类消息
func humanSpokeInScene(events []models.Event) bool {
	for i := len(events) - 1; i >= 0; i-- {
		switch {
		case events[i].IsHumanMessage():
			return true
		case events[i].Kind == models.EventSceneChange:
			return false
		}
	}
	return false
}

func sceneIntro(scene models.Scene) string {
	if scene.Title != "" {
		return fmt.Sprintf("%s: %s", scene.Title, scene.Description)
	}
	return scene.Description
}

// evaluationLookback 评估窗口最多保留的内容事件数
const evaluationLookback = 15

// evaluationWindow 最后一次场景切换与最后一次目标完成中较晚者之后的内容事件，
// 含人类消息，只保留最近 evaluationLookback 条
func evaluationWindow(events []models.Event) []models.Event {
	window := make([]models.Event, 0, evaluationLookback)
	for i := len(events) - 1; i >= 0 && len(window) < evaluationLookback; i-- {
		e := events[i]
		if e.Kind == models.EventSceneChange || e.Kind == models.EventObjectiveComplete {
			break
		}
		if e.Kind.IsContent() {
			window = append(window, e)
		}
	}
	// 反转为时间顺序
	for i, j := 0, len(window)-1; i < j; i, j = i+1, j-1 {
		window[i], window[j] = window[j], window[i]
	}
	return window
}

// met 求值谓词；格式错误记录日志并视为不满足
func (p *ProgressionEngine) met(cond models.Condition, story *models.Story, events []models.Event, label string) bool {
	ok, err := evaluateCondition(cond, story, events)
	if err != nil {
		p.logger.Warn("谓词格式错误，视为未满足", map[string]interface{}{
			"story": story.ID, "predicate": label, "error": err.Error(),
		})
		return false
	}
	return ok
}

func evaluateCondition(cond models.Condition, story *models.Story, events []models.Event) (bool, error) {
	switch cond.Type {
	case models.ConditionAlways:
		return true, nil

	case models.ConditionKeyword:
		if len(cond.Keywords) == 0 {
			return false, fmt.Errorf("keyword 条件缺少 keywords")
		}
		allowed := originatorFilter(cond.Originators)
		for _, e := range evaluationWindow(events) {
			if !allowed(e.Originator) {
				continue
			}
			for _, kw := range cond.Keywords {
				if containsWord(e.Payload, kw) {
					return true, nil
				}
			}
		}
		return false, nil

	case models.ConditionMinEvents:
		if cond.Count < 1 {
			return false, fmt.Errorf("min_events 条件的 count 必须 >= 1")
		}
		allowed := originatorFilter(cond.Originators)
		n := 0
		for _, e := range evaluationWindow(events) {
			if allowed(e.Originator) {
				n++
			}
		}
		return n >= cond.Count, nil

	case models.ConditionTurnsElapsed:
		if cond.Count < 1 {
			return false, fmt.Errorf("turns_elapsed 条件的 count 必须 >= 1")
		}
		n := 0
		for i := len(events) - 1; i >= 0; i-- {
			if events[i].Kind == models.EventSceneChange {
				break
			}
			if events[i].IsHumanMessage() {
				n++
			}
		}
		return n >= cond.Count, nil

	case models.ConditionObjectiveComplete:
		if cond.ObjectiveID == "" {
			return false, fmt.Errorf("objective_complete 条件缺少 objective_id")
		}
		if _, ok := story.ObjectiveByID(cond.ObjectiveID); !ok {
			return false, fmt.Errorf("未知目标: %s", cond.ObjectiveID)
		}
		return CompletedObjectives(events)[cond.ObjectiveID], nil
	}
	return false, fmt.Errorf("未知条件类型: %q", cond.Type)
}

func originatorFilter(originators []string) func(string) bool {
	if len(originators) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(originators))
	for _, o := range originators {
		set[strings.TrimSpace(o)] = true
	}
	return func(id string) bool { return set[id] }
}

// Status 从时间线推导故事进展
func (p *ProgressionEngine) Status(story *models.Story, events []models.Event) models.StoryProgressStatus {
	status := models.StoryProgressStatus{
		StoryID:         story.ID,
		StoryTitle:      story.Title,
		CurrentScene:    CurrentSceneID(story, events),
		TotalObjectives: len(story.Objectives),
		EventCount:      len(events),
	}
	if scene, ok := story.SceneByID(status.CurrentScene); ok {
		status.SceneDescription = scene.Description
	}

	done := CompletedObjectives(events)
	for _, obj := range story.Objectives {
		if done[obj.ID] {
			status.CompletedObjectives++
		}
	}
	if status.TotalObjectives > 0 {
		status.Progress = float64(status.CompletedObjectives) * 100 / float64(status.TotalObjectives)
	}
	if obj, ok := ActiveObjective(story, events); ok {
		status.ActiveObjective = obj.ID
		status.ActiveObjectiveDesc = obj.Description
	}
	status.IsComplete = status.TotalObjectives > 0 && status.CompletedObjectives == status.TotalObjectives
	if len(events) > 0 {
		status.LastUpdated = events[len(events)-1].Timestamp
	}
	return status
}
