package services

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/storage"
	"github.com/Corphon/RoleRealm/internal/utils"
)

func shipCharacters() []models.Character {
	return []models.Character{
		{
			ID: "morgan", Name: "Morgan", Aliases: []string{"Captain"},
			Traits: []string{"gruff", "loyal"}, SpeakingStyle: "curt orders",
			Relationships: map[string]string{"marina": "trusted navigator", "jack": "reckless cabin boy"},
			Knowledge:     []string{"the map is torn", "a storm is coming"},
		},
		{ID: "marina", Name: "Marina", Traits: []string{"curious"}, SpeakingStyle: "warm"},
		{ID: "jack", Name: "Jack", Traits: []string{"cheeky"}, SpeakingStyle: "slang"},
		{ID: "martin", Name: "Martin", Traits: []string{"omniscient"}, SpeakingStyle: "narrative"},
	}
}

func shipStory() *models.Story {
	return &models.Story{
		ID:                "pirate-adventure",
		Title:             "The Gull",
		Description:       "A crew hunts for a lost treasure.",
		InitialScene:      "deck",
		DirectorCharacter: "martin",
		Scenes: []models.Scene{
			{
				ID: "deck", Title: "Ship Deck", Description: "Salt spray over a creaking deck.",
				Present: []string{"morgan", "marina", "jack"},
				Exits: []models.SceneExit{{
					Target: "hold",
					When:   &models.Condition{Type: models.ConditionObjectiveComplete, ObjectiveID: "introduce-the-crew"},
				}},
			},
			{
				ID: "hold", Title: "Cargo Hold", Description: "Dark and damp below deck.",
				Present: []string{"jack"},
			},
		},
		Objectives: []models.Objective{
			{
				ID: "introduce-the-crew", SceneID: "deck", Description: "Meet the crew", Position: 1,
				Predicate: models.Condition{
					Type: models.ConditionMinEvents, Count: 3,
					Originators: []string{"morgan", "marina", "jack"},
				},
			},
			{
				ID: "find-the-map", SceneID: "hold", Description: "Find the map", Position: 1,
				Predicate: models.Condition{Type: models.ConditionKeyword, Keywords: []string{"map"}},
			},
		},
	}
}

func shipRegistry(t *testing.T) *CharacterRegistry {
	t.Helper()
	r, err := NewCharacterRegistry(shipCharacters())
	if err != nil {
		t.Fatalf("NewCharacterRegistry: %v", err)
	}
	return r
}

func quietLogger() *utils.Logger {
	return utils.NewLogger(&bytes.Buffer{}, utils.ERROR)
}

// fakeLoader 内存中的故事来源
type fakeLoader struct {
	bundles map[string]*storage.StoryBundle
}

func newFakeLoader(story *models.Story, characters []models.Character) *fakeLoader {
	return &fakeLoader{bundles: map[string]*storage.StoryBundle{
		story.ID: {Story: story, Characters: characters},
	}}
}

func (l *fakeLoader) LoadStory(storyID string) (*storage.StoryBundle, error) {
	b, ok := l.bundles[storyID]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("故事不存在: %s", storyID), nil)
	}
	return b, nil
}

func (l *fakeLoader) ListStories() ([]string, error) {
	ids := make([]string, 0, len(l.bundles))
	for id := range l.bundles {
		ids = append(ids, id)
	}
	return ids, nil
}

// fakeGenerator 按行动者返回预设回复并记录调用
type fakeGenerator struct {
	mu      sync.Mutex
	respond func(ctx context.Context, tc *models.TurnContext) (string, error)
	calls   []string
	seen    []*models.TurnContext
}

func (g *fakeGenerator) Generate(ctx context.Context, tc *models.TurnContext) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, tc.ActorID)
	g.seen = append(g.seen, tc)
	g.mu.Unlock()
	if g.respond == nil {
		return fmt.Sprintf("Ahoy from %s.", tc.ActorName), nil
	}
	return g.respond(ctx, tc)
}

func (g *fakeGenerator) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// failingSink 在指定序号写入失败
type failingSink struct {
	*storage.MemorySink
	failAt int64
}

func (s *failingSink) Append(ctx context.Context, sessionID string, event models.Event) error {
	if event.Seq == s.failAt {
		return fmt.Errorf("disk full")
	}
	return s.MemorySink.Append(ctx, sessionID, event)
}

func kinds(events []models.Event) []models.EventKind {
	out := make([]models.EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}
