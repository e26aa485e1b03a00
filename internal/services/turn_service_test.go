package services

import (
	"reflect"
	"testing"

	"github.com/Corphon/RoleRealm/internal/models"
)

func TestAddresserParse(t *testing.T) {
	registry := shipRegistry(t)
	addresser := NewAddresser(DefaultAddressingConfig(), registry, "martin")

	tests := []struct {
		name      string
		text      string
		director  bool
		addressed []string
	}{
		{"director character mention", "@Martin, what do you see?", true, nil},
		{"director alias", "@DM describe the sky", true, nil},
		{"director wins over characters", "@jack @director stop him", true, nil},
		{"ordered by first mention", "Marina and @jack, help me", false, []string{"marina", "jack"}},
		{"alias resolves to character", "@captain hold on", false, []string{"morgan"}},
		{"repeated mention counted once", "@jack? Jack!", false, []string{"jack"}},
		{"word boundary", "a jackal howls", false, []string{}},
		{"plain director name is not a trigger", "Martin looks tired", false, []string{}},
		{"prefix glued to a word", "mail@director", false, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addresser.Parse(tt.text)
			if got.DirectorTriggered != tt.director {
				t.Fatalf("director triggered = %v, want %v", got.DirectorTriggered, tt.director)
			}
			if tt.director {
				if len(got.Addressed) != 0 {
					t.Fatalf("director addressing must be exclusive, got %v", got.Addressed)
				}
				return
			}
			if len(got.Addressed) != len(tt.addressed) || (len(tt.addressed) > 0 && !reflect.DeepEqual(got.Addressed, tt.addressed)) {
				t.Fatalf("addressed = %v, want %v", got.Addressed, tt.addressed)
			}
		})
	}
}

func TestAddresserWithoutPlainNames(t *testing.T) {
	cfg := DefaultAddressingConfig()
	cfg.MatchPlainNames = false
	addresser := NewAddresser(cfg, shipRegistry(t), "martin")

	if got := addresser.Parse("Marina, hello"); len(got.Addressed) != 0 {
		t.Fatalf("plain names should be ignored, got %v", got.Addressed)
	}
	if got := addresser.Parse("hello @Marina"); !reflect.DeepEqual(got.Addressed, []string{"marina"}) {
		t.Fatalf("prefixed mention lost, got %v", got.Addressed)
	}
}

func TestContainsWord(t *testing.T) {
	if !containsWord("Where is the MAP?", "map") {
		t.Fatal("expected case-insensitive word match")
	}
	if containsWord("a mapmaker", "map") {
		t.Fatal("substring should not match")
	}
	if containsWord("anything", "  ") {
		t.Fatal("blank keyword should not match")
	}
}

func humanEvent(seq int64, text string) models.Event {
	return models.Event{Seq: seq, Kind: models.EventMessage, Originator: models.ActorHuman, Payload: text}
}

func TestSelectTurnModes(t *testing.T) {
	registry := shipRegistry(t)
	addresser := NewAddresser(DefaultAddressingConfig(), registry, "martin")
	present := []string{"morgan", "marina", "jack"}

	director := SelectTurn(TurnInput{
		Message: humanEvent(2, "@Martin, what do you see?"), Present: present,
		Addresser: addresser, Registry: registry, MaxActors: 2,
	})
	if director.Mode != TurnDirector || !reflect.DeepEqual(director.Actors, []string{models.ActorDirector}) {
		t.Fatalf("unexpected director decision: %+v", director)
	}

	// 被点名者无需在场
	addressed := SelectTurn(TurnInput{
		Message: humanEvent(2, "@jack, then @marina"), Present: []string{"morgan"},
		Addresser: addresser, Registry: registry, MaxActors: 1,
	})
	if addressed.Mode != TurnAddressed || !reflect.DeepEqual(addressed.Actors, []string{"jack", "marina"}) {
		t.Fatalf("unexpected addressed decision: %+v", addressed)
	}

	none := SelectTurn(TurnInput{
		Message: models.Event{Seq: 3, Kind: models.EventMessage, Originator: "jack", Payload: "hi"},
		Present: present, Addresser: addresser, Registry: registry,
	})
	if none.Mode != TurnNone || len(none.Actors) != 0 {
		t.Fatalf("non-human message should yield no actors, got %+v", none)
	}
}

func TestSelectTurnRotationFairness(t *testing.T) {
	registry := shipRegistry(t)
	addresser := NewAddresser(DefaultAddressingConfig(), registry, "martin")
	present := []string{"morgan", "marina", "jack"}

	events := []models.Event{{Seq: 1, Kind: models.EventSceneChange, Originator: models.ActorDirector, Tag: "deck"}}
	spoke := make(map[string]int)
	order := make([]string, 0, 3)

	for round := 0; round < 3; round++ {
		msg := humanEvent(int64(len(events)+1), "Anyone there?")
		events = append(events, msg)

		decision := SelectTurn(TurnInput{
			Message: msg, Events: events, Present: present,
			Addresser: addresser, Registry: registry, MaxActors: 1,
		})
		if decision.Mode != TurnRotation || len(decision.Actors) != 1 {
			t.Fatalf("round %d: unexpected decision %+v", round, decision)
		}
		actor := decision.Actors[0]
		spoke[actor]++
		order = append(order, actor)
		events = append(events, models.Event{Seq: int64(len(events) + 1), Kind: models.EventMessage, Originator: actor, Payload: "aye"})
	}

	for _, id := range present {
		if spoke[id] != 1 {
			t.Fatalf("each present character should act once in 3 rounds, got %v", spoke)
		}
	}
	if !reflect.DeepEqual(order, []string{"jack", "marina", "morgan"}) {
		t.Fatalf("never-acted ties should break by id, got %v", order)
	}
}

func TestSelectTurnRotationFiltersPresent(t *testing.T) {
	registry := shipRegistry(t)
	decision := SelectTurn(TurnInput{
		Message:  humanEvent(1, "hello"),
		Present:  []string{"marina", "ghost", "marina", "jack"},
		Registry: registry,
	})
	if !reflect.DeepEqual(decision.Actors, []string{"jack", "marina"}) {
		t.Fatalf("expected unknown and duplicate ids removed, got %v", decision.Actors)
	}
}

func TestSelectTurnIsDeterministic(t *testing.T) {
	registry := shipRegistry(t)
	addresser := NewAddresser(DefaultAddressingConfig(), registry, "martin")
	in := TurnInput{
		Message: humanEvent(4, "well?"),
		Events: []models.Event{
			{Seq: 1, Kind: models.EventSceneChange, Originator: models.ActorDirector, Tag: "deck"},
			{Seq: 2, Kind: models.EventAction, Originator: "morgan", Payload: "nods"},
			{Seq: 3, Kind: models.EventSystemNote, Originator: "marina", Payload: "timeout"},
		},
		Present: []string{"morgan", "marina", "jack"}, Addresser: addresser, Registry: registry, MaxActors: 2,
	}
	first := SelectTurn(in)
	for i := 0; i < 10; i++ {
		if got := SelectTurn(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision changed between calls: %+v vs %+v", got, first)
		}
	}
	// system-note 不算行动
	if !reflect.DeepEqual(first.Actors, []string{"jack", "marina"}) {
		t.Fatalf("unexpected rotation %v", first.Actors)
	}
}
