package services

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/Corphon/RoleRealm/internal/models"
)

// eventLog 按序号追加事件的测试辅助
type eventLog []models.Event

func (l *eventLog) add(kind models.EventKind, originator, payload, tag string) {
	*l = append(*l, models.Event{Seq: int64(len(*l) + 1), Kind: kind, Originator: originator, Payload: payload, Tag: tag})
}

func (l *eventLog) addAll(events []models.Event) {
	for _, e := range events {
		l.add(e.Kind, e.Originator, e.Payload, e.Tag)
	}
}

func TestEvaluateShipDeckCascade(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, models.ActorHuman, "Hello crew", "")
	log.add(models.EventMessage, "jack", "Name's Jack.", "")
	log.add(models.EventMessage, "marina", "Marina, navigator.", "")

	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("two crew events should not complete the objective, got %+v", got)
	}

	log.add(models.EventAction, "morgan", "tips his hat", "")
	emitted := engine.Evaluate(story, log)
	if !reflect.DeepEqual(kinds(emitted), []models.EventKind{models.EventObjectiveComplete, models.EventSceneChange}) {
		t.Fatalf("unexpected emitted kinds: %v", kinds(emitted))
	}
	if emitted[0].Tag != "introduce-the-crew" || emitted[0].Originator != models.ActorDirector {
		t.Fatalf("unexpected objective event: %+v", emitted[0])
	}
	if emitted[1].Tag != "hold" || emitted[1].Payload != "Cargo Hold: Dark and damp below deck." {
		t.Fatalf("unexpected scene event: %+v", emitted[1])
	}

	log.addAll(emitted)
	if again := engine.Evaluate(story, log); len(again) != 0 {
		t.Fatalf("evaluation must be idempotent, got %+v", again)
	}
	if CurrentSceneID(story, log) != "hold" {
		t.Fatalf("expected to be in the hold")
	}
	if obj, ok := ActiveObjective(story, log); !ok || obj.ID != "find-the-map" {
		t.Fatalf("unexpected active objective %+v", obj)
	}
}

func TestEvaluateWaitsForHumanBeforeExit(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, "jack", "one", "")
	log.add(models.EventMessage, "marina", "two", "")
	log.add(models.EventMessage, "morgan", "three", "")

	emitted := engine.Evaluate(story, log)
	if !reflect.DeepEqual(kinds(emitted), []models.EventKind{models.EventObjectiveComplete}) {
		t.Fatalf("expected only the objective to complete, got %v", kinds(emitted))
	}
	log.addAll(emitted)

	log.add(models.EventMessage, models.ActorHuman, "Let's go below", "")
	emitted = engine.Evaluate(story, log)
	if !reflect.DeepEqual(kinds(emitted), []models.EventKind{models.EventSceneChange}) {
		t.Fatalf("expected scene change after the player spoke, got %v", kinds(emitted))
	}
}

func TestEvaluateKeywordWindow(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, "jack", "There's a map in the crate!", "")
	log.add(models.EventObjectiveComplete, models.ActorDirector, "Meet the crew", "introduce-the-crew")
	log.add(models.EventSceneChange, models.ActorDirector, "Cargo Hold", "hold")
	log.add(models.EventMessage, models.ActorHuman, "What now?", "")
	log.add(models.EventMessage, "jack", "Dunno, mate.", "")

	// 关键词出现在上一个场景，不在评估窗口内
	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("keyword from the previous scene must not count, got %+v", got)
	}

	log.add(models.EventMessage, models.ActorHuman, "Where is the MAP?", "")
	got := engine.Evaluate(story, log)
	if len(got) != 1 || got[0].Tag != "find-the-map" {
		t.Fatalf("expected the player's line to complete find-the-map, got %+v", got)
	}
}

func TestEvaluateHumanOriginatorKeyword(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()
	story.Objectives[0].Predicate = models.Condition{
		Type: models.ConditionKeyword, Keywords: []string{"treasure"}, Originators: []string{models.ActorHuman},
	}

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, "jack", "Treasure? What treasure?", "")
	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("crew lines must not satisfy a player-only keyword, got %+v", got)
	}

	log.add(models.EventMessage, models.ActorHuman, "Where is the treasure?", "")
	got := engine.Evaluate(story, log)
	if len(got) == 0 || got[0].Tag != "introduce-the-crew" {
		t.Fatalf("expected the player's keyword to complete the objective, got %+v", got)
	}
}

func TestEvaluateMinEventsAcrossRounds(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	for i, actor := range []string{"jack", "marina"} {
		log.add(models.EventMessage, models.ActorHuman, "Who's next?", "")
		log.add(models.EventMessage, actor, "Present.", "")
		if got := engine.Evaluate(story, log); len(got) != 0 {
			t.Fatalf("round %d: objective completed too early: %+v", i+1, got)
		}
	}

	log.add(models.EventMessage, models.ActorHuman, "And you?", "")
	log.add(models.EventSystemNote, "morgan", "Morgan did not respond (generation_timeout)", "generation_timeout")
	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("system notes must not count, got %+v", got)
	}

	log.add(models.EventMessage, models.ActorHuman, "Captain?", "")
	log.add(models.EventMessage, "morgan", "Aye.", "")
	got := engine.Evaluate(story, log)
	if !reflect.DeepEqual(kinds(got), []models.EventKind{models.EventObjectiveComplete, models.EventSceneChange}) {
		t.Fatalf("expected crew lines from earlier rounds to accumulate, got %v", kinds(got))
	}
}

func TestEvaluationWindowBounds(t *testing.T) {
	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, "jack", "before", "")
	log.add(models.EventObjectiveComplete, models.ActorDirector, "Meet the crew", "introduce-the-crew")
	for i := 0; i < evaluationLookback+5; i++ {
		log.add(models.EventMessage, "marina", fmt.Sprintf("line %d", i), "")
	}
	log.add(models.EventSystemNote, "morgan", "Morgan did not respond (generation_refused)", "generation_refused")

	window := evaluationWindow(log)
	if len(window) != evaluationLookback {
		t.Fatalf("window size = %d, want %d", len(window), evaluationLookback)
	}
	if window[0].Payload != "line 5" || window[len(window)-1].Payload != fmt.Sprintf("line %d", evaluationLookback+4) {
		t.Fatalf("window should hold the newest lines in order, got %q .. %q", window[0].Payload, window[len(window)-1].Payload)
	}
}

func TestEvaluateMalformedPredicates(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()
	story.Objectives[0].Predicate = models.Condition{Type: "vibes"}
	story.Scenes[0].Exits = []models.SceneExit{
		{Target: "hold", When: &models.Condition{Type: models.ConditionObjectiveComplete, ObjectiveID: "no-such-objective"}},
	}

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, models.ActorHuman, "hi", "")
	log.add(models.EventMessage, "jack", "hi", "")

	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("malformed objective predicate must be treated as unmet, got %+v", got)
	}

	story.Objectives = story.Objectives[1:]
	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("exit with unknown objective must be treated as unmet, got %+v", got)
	}
}

func TestEvaluateConditions(t *testing.T) {
	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	log.add(models.EventMessage, models.ActorHuman, "first", "")
	log.add(models.EventMessage, "jack", "x", "")
	log.add(models.EventMessage, models.ActorHuman, "second", "")
	log.add(models.EventMessage, "marina", "The tide turns.", "")
	log.add(models.EventSystemNote, "morgan", "morgan did not respond", "generation_timeout")

	story := shipStory()
	tests := []struct {
		name string
		cond models.Condition
		want bool
		bad  bool
	}{
		{"always", models.Condition{Type: models.ConditionAlways}, true, false},
		{"keyword any originator", models.Condition{Type: models.ConditionKeyword, Keywords: []string{"tide"}}, true, false},
		{"keyword wrong originator", models.Condition{Type: models.ConditionKeyword, Keywords: []string{"tide"}, Originators: []string{"jack"}}, false, false},
		{"keyword ignores system notes", models.Condition{Type: models.ConditionKeyword, Keywords: []string{"respond"}}, false, false},
		{"keyword missing keywords", models.Condition{Type: models.ConditionKeyword}, false, true},
		{"min events in window", models.Condition{Type: models.ConditionMinEvents, Count: 1}, true, false},
		{"min events counts player lines", models.Condition{Type: models.ConditionMinEvents, Count: 4}, true, false},
		{"min events too many", models.Condition{Type: models.ConditionMinEvents, Count: 5}, false, false},
		{"min events by originator", models.Condition{Type: models.ConditionMinEvents, Count: 2, Originators: []string{"jack", "marina"}}, true, false},
		{"keyword from player", models.Condition{Type: models.ConditionKeyword, Keywords: []string{"second"}, Originators: []string{models.ActorHuman}}, true, false},
		{"min events zero count", models.Condition{Type: models.ConditionMinEvents}, false, true},
		{"turns elapsed", models.Condition{Type: models.ConditionTurnsElapsed, Count: 2}, true, false},
		{"turns elapsed not yet", models.Condition{Type: models.ConditionTurnsElapsed, Count: 3}, false, false},
		{"objective not complete", models.Condition{Type: models.ConditionObjectiveComplete, ObjectiveID: "introduce-the-crew"}, false, false},
		{"objective unknown", models.Condition{Type: models.ConditionObjectiveComplete, ObjectiveID: "nope"}, false, true},
		{"unknown type", models.Condition{Type: "weather"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluateCondition(tt.cond, story, log)
			if (err != nil) != tt.bad {
				t.Fatalf("error = %v, malformed = %v", err, tt.bad)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateExitOrderAndEntry(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := &models.Story{
		ID: "branches", InitialScene: "crossroads",
		Scenes: []models.Scene{
			{ID: "crossroads", Description: "Two paths.", Exits: []models.SceneExit{
				{Target: "cave"},
				{Target: "forest", When: &models.Condition{Type: models.ConditionKeyword, Keywords: []string{"left"}}},
				{Target: "river"},
			}},
			{ID: "cave", Description: "Dark.", Entry: &models.Condition{Type: models.ConditionKeyword, Keywords: []string{"torch"}}},
			{ID: "forest", Description: "Green."},
			{ID: "river", Description: "Wet."},
		},
	}

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Two paths.", "crossroads")
	log.add(models.EventMessage, models.ActorHuman, "I go left", "")

	// 洞穴入口条件不满足，forest 的关键词来自玩家
	got := engine.Evaluate(story, log)
	if len(got) != 1 || got[0].Tag != "forest" {
		t.Fatalf("expected first eligible exit (forest), got %+v", got)
	}

	log = log[:1]
	log.add(models.EventMessage, models.ActorHuman, "hello", "")
	got = engine.Evaluate(story, log)
	if len(got) != 1 || got[0].Tag != "river" {
		t.Fatalf("expected fallback exit (river), got %+v", got)
	}

	log.add(models.EventAction, "guide", "lights a torch", "")
	got = engine.Evaluate(story, log)
	if len(got) != 1 || got[0].Tag != "cave" {
		t.Fatalf("expected cave once its entry holds, got %+v", got)
	}
}

func TestProgressStatus(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := shipStory()

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "Ship Deck", "deck")
	status := engine.Status(story, log)
	if status.CurrentScene != "deck" || status.ActiveObjective != "introduce-the-crew" || status.Progress != 0 || status.IsComplete {
		t.Fatalf("unexpected initial status: %+v", status)
	}

	log.add(models.EventObjectiveComplete, models.ActorDirector, "Meet the crew", "introduce-the-crew")
	log.add(models.EventSceneChange, models.ActorDirector, "Cargo Hold", "hold")
	status = engine.Status(story, log)
	if status.CompletedObjectives != 1 || status.Progress != 50 || status.ActiveObjective != "find-the-map" {
		t.Fatalf("unexpected status: %+v", status)
	}

	log.add(models.EventObjectiveComplete, models.ActorDirector, "Find the map", "find-the-map")
	if status = engine.Status(story, log); !status.IsComplete || status.ActiveObjective != "" {
		t.Fatalf("story should be complete: %+v", status)
	}
}

func TestEntryConditionUsesDepartingScene(t *testing.T) {
	engine := NewProgressionEngine(quietLogger())
	story := &models.Story{
		ID: "stairs", InitialScene: "landing",
		Scenes: []models.Scene{
			{ID: "landing", Description: "A landing.", Exits: []models.SceneExit{{Target: "cellar"}}},
			{ID: "cellar", Description: "Cold.", Entry: &models.Condition{Type: models.ConditionTurnsElapsed, Count: 2}},
		},
	}

	var log eventLog
	log.add(models.EventSceneChange, models.ActorDirector, "A landing.", "landing")
	log.add(models.EventMessage, models.ActorHuman, "Anyone here?", "")
	if got := engine.Evaluate(story, log); len(got) != 0 {
		t.Fatalf("one turn on the landing must not open the cellar, got %+v", got)
	}

	log.add(models.EventMessage, models.ActorHuman, "Going down.", "")
	got := engine.Evaluate(story, log)
	if len(got) != 1 || got[0].Tag != "cellar" {
		t.Fatalf("expected the cellar after two turns on the landing, got %+v", got)
	}
}
