package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
)

const testStoryYAML = `id: harbor
title: Harbor Night
initial_scene: dock
director_character: martin
scenes:
  - id: dock
    description: A foggy dock at midnight.
    present: [morgan, marina]
    exits:
      - target: ship
  - id: ship
    description: The deck of the Gull.
    present: [marina]
objectives:
  - id: find-map
    scene_id: dock
    description: Find the map
    position: 1
    predicate:
      type: keyword
      keywords: [map]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func seedStory(t *testing.T, dataDir string) {
	t.Helper()
	base := filepath.Join(dataDir, "stories", "harbor")
	writeFile(t, filepath.Join(base, "story.yaml"), testStoryYAML)
	writeFile(t, filepath.Join(base, "characters", "morgan.yaml"), "id: morgan\nname: Morgan\naliases: [Cap]\ntraits: [gruff]\nspeaking_style: curt\n")
	writeFile(t, filepath.Join(base, "characters", "marina.json"), `{"id":"marina","name":"Marina","traits":["curious"],"speaking_style":"warm"}`)
	writeFile(t, filepath.Join(base, "characters", "martin.yaml"), "id: martin\nname: Martin\ntraits: [omniscient]\nspeaking_style: narrative\n")
	writeFile(t, filepath.Join(base, "characters", "README.txt"), "ignored")
}

func TestLoadStoryMixedFormats(t *testing.T) {
	dataDir := t.TempDir()
	seedStory(t, dataDir)

	loader, err := NewStoryLoader(dataDir, time.Minute)
	if err != nil {
		t.Fatalf("NewStoryLoader: %v", err)
	}

	bundle, err := loader.LoadStory("harbor")
	if err != nil {
		t.Fatalf("LoadStory: %v", err)
	}
	if bundle.Story.InitialScene != "dock" || len(bundle.Story.Scenes) != 2 {
		t.Fatalf("unexpected story: %+v", bundle.Story)
	}
	if len(bundle.Characters) != 3 {
		t.Fatalf("expected 3 characters, got %d", len(bundle.Characters))
	}
	// 按文件名排序
	if bundle.Characters[0].ID != "marina" || bundle.Characters[1].ID != "martin" || bundle.Characters[2].ID != "morgan" {
		t.Fatalf("unexpected character order: %v", bundle.Characters)
	}
	if bundle.Characters[2].Aliases[0] != "Cap" {
		t.Fatalf("expected alias to be parsed, got %+v", bundle.Characters[2])
	}

	ids, err := loader.ListStories()
	if err != nil || len(ids) != 1 || ids[0] != "harbor" {
		t.Fatalf("ListStories = %v, %v", ids, err)
	}
}

func TestLoadStoryNotFound(t *testing.T) {
	loader, err := NewStoryLoader(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("NewStoryLoader: %v", err)
	}
	_, err = loader.LoadStory("missing")
	if !apperrors.IsNotFoundError(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	_, err = loader.LoadStory("../etc")
	if !apperrors.IsValidationError(err) {
		t.Fatalf("expected validation error for path traversal, got %v", err)
	}
}

func TestLoadStoryInvalidReferences(t *testing.T) {
	dataDir := t.TempDir()
	seedStory(t, dataDir)
	// 删除场景引用的角色
	if err := os.Remove(filepath.Join(dataDir, "stories", "harbor", "characters", "morgan.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	loader, _ := NewStoryLoader(dataDir, time.Minute)
	_, err := loader.LoadStory("harbor")
	if !apperrors.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadStoryMalformedCharacter(t *testing.T) {
	dataDir := t.TempDir()
	seedStory(t, dataDir)
	writeFile(t, filepath.Join(dataDir, "stories", "harbor", "characters", "broken.json"), `{"id": "broken", `)

	loader, _ := NewStoryLoader(dataDir, time.Minute)
	_, err := loader.LoadStory("harbor")
	if !apperrors.IsConfigError(err) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadStoryReservedCharacterID(t *testing.T) {
	dataDir := t.TempDir()
	seedStory(t, dataDir)
	writeFile(t, filepath.Join(dataDir, "stories", "harbor", "characters", "zz.yaml"), "id: director\nname: Impostor\n")

	loader, _ := NewStoryLoader(dataDir, time.Minute)
	if _, err := loader.LoadStory("harbor"); !apperrors.IsConfigError(err) {
		t.Fatalf("expected config error for reserved id, got %v", err)
	}
}

func TestFileCacheReloadsModifiedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.txt")
	writeFile(t, path, "one")

	cache := NewFileCache(time.Minute)
	calls := 0
	parse := func(data []byte) (interface{}, error) {
		calls++
		return string(data), nil
	}

	for i := 0; i < 3; i++ {
		v, err := cache.Load(path, parse)
		if err != nil || v.(string) != "one" {
			t.Fatalf("Load = %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one parse, got %d", calls)
	}

	writeFile(t, path, "two!")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	v, err := cache.Load(path, parse)
	if err != nil || v.(string) != "two!" {
		t.Fatalf("expected reloaded value, got %v, %v", v, err)
	}
	if calls != 2 {
		t.Fatalf("expected second parse, got %d", calls)
	}
}

func TestLoadStoryReturnsIndependentCopies(t *testing.T) {
	dataDir := t.TempDir()
	base := filepath.Join(dataDir, "stories", "nameless")
	writeFile(t, filepath.Join(base, "story.yaml"), "title: Nameless\ninitial_scene: dock\nscenes:\n  - id: dock\n    description: Fog.\n    present: [morgan]\n")
	writeFile(t, filepath.Join(base, "characters", "morgan.yaml"), "id: morgan\nname: Morgan\n")

	loader, err := NewStoryLoader(dataDir, time.Minute)
	if err != nil {
		t.Fatalf("NewStoryLoader: %v", err)
	}
	first, err := loader.LoadStory("nameless")
	if err != nil {
		t.Fatalf("LoadStory: %v", err)
	}
	second, err := loader.LoadStory("nameless")
	if err != nil {
		t.Fatalf("LoadStory again: %v", err)
	}

	if first.Story == second.Story {
		t.Fatal("sessions must not share a cached story value")
	}
	if first.Story.ID != "nameless" || second.Story.ID != "nameless" {
		t.Fatalf("story id should default to the directory name, got %q and %q", first.Story.ID, second.Story.ID)
	}

	first.Story.Scenes[0].Present[0] = "someone-else"
	first.Story.Title = "Changed"
	if second.Story.Scenes[0].Present[0] != "morgan" || second.Story.Title != "Nameless" {
		t.Fatalf("mutating one copy leaked into another: %+v", second.Story)
	}
}
