// internal/storage/story_loader.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
	"gopkg.in/yaml.v3"
)

// 故事目录内的文件约定
const (
	storiesDir    = "stories"
	charactersDir = "characters"
)

var storyFileNames = []string{"story.yaml", "story.yml", "story.json"}

// StoryBundle 一个故事及其全部角色
type StoryBundle struct {
	Story      *models.Story
	Characters []models.Character
}

// StoryLoader 从数据目录加载故事与角色定义
type StoryLoader struct {
	files *FileStorage
	cache *FileCache
}

// NewStoryLoader 创建故事加载器
func NewStoryLoader(dataDir string, cacheTTL time.Duration) (*StoryLoader, error) {
	files, err := NewFileStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return &StoryLoader{
		files: files,
		cache: NewFileCache(cacheTTL),
	}, nil
}

// ListStories 列出可用的故事ID
func (l *StoryLoader) ListStories() ([]string, error) {
	dirs, err := l.files.ListDirs(storiesDir)
	if err != nil {
		return nil, apperrors.NewProcessingError("列出故事失败", err)
	}
	ids := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if l.storyFile(dir) != "" {
			ids = append(ids, dir)
		}
	}
	return ids, nil
}

// LoadStory 加载并校验一个故事
func (l *StoryLoader) LoadStory(storyID string) (*StoryBundle, error) {
	storyID = strings.TrimSpace(storyID)
	if storyID == "" || strings.ContainsAny(storyID, `/\`) || storyID == "." || storyID == ".." {
		return nil, apperrors.NewValidationError("无效的故事ID", nil)
	}

	storyDir := filepath.Join(storiesDir, storyID)
	if !l.files.DirExists(storyDir) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("故事不存在: %s", storyID), nil)
	}

	storyPath := l.storyFile(storyID)
	if storyPath == "" {
		return nil, apperrors.NewConfigError(fmt.Sprintf("故事 %s 缺少 story.yaml/story.json", storyID), nil)
	}

	parsed, err := l.cache.Load(storyPath, func(data []byte) (interface{}, error) {
		var story models.Story
		if err := decodeFile(storyPath, data, &story); err != nil {
			return nil, err
		}
		if story.ID == "" {
			story.ID = storyID
		}
		return &story, nil
	})
	if err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("解析故事文件失败: %s", storyPath), err)
	}
	// 缓存中的定义只读，每次加载返回副本
	story := parsed.(*models.Story).Clone()

	characters, err := l.loadCharacters(filepath.Join(l.files.BaseDir, storyDir, charactersDir))
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(characters))
	for _, c := range characters {
		ids[c.ID] = true
	}
	if err := story.Validate(ids); err != nil {
		return nil, apperrors.NewConfigError(fmt.Sprintf("故事 %s 配置无效", storyID), err)
	}

	return &StoryBundle{Story: story, Characters: characters}, nil
}

// storyFile 返回故事定义文件的完整路径，不存在时返回空串
func (l *StoryLoader) storyFile(storyID string) string {
	for _, name := range storyFileNames {
		if l.files.FileExists(filepath.Join(storiesDir, storyID), name) {
			return filepath.Join(l.files.BaseDir, storiesDir, storyID, name)
		}
	}
	return ""
}

// loadCharacters 按文件名顺序加载角色目录
func (l *StoryLoader) loadCharacters(dir string) ([]models.Character, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Character{}, nil
		}
		return nil, apperrors.NewConfigError("读取角色目录失败", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isDataFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	characters := make([]models.Character, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		parsed, err := l.cache.Load(path, func(data []byte) (interface{}, error) {
			var c models.Character
			if err := decodeFile(path, data, &c); err != nil {
				return nil, err
			}
			return c, nil
		})
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("角色加载失败: %s", name), err)
		}

		character := parsed.(models.Character)
		if character.ID == "" {
			character.ID = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if character.Name == "" {
			return nil, apperrors.NewConfigError(fmt.Sprintf("角色 %s 缺少名称", character.ID), nil)
		}
		if character.ID == models.ActorHuman || character.ID == models.ActorDirector {
			return nil, apperrors.NewConfigError(fmt.Sprintf("角色ID为保留字: %s", character.ID), nil)
		}
		if seen[character.ID] {
			return nil, apperrors.NewConfigError(fmt.Sprintf("角色ID重复: %s", character.ID), nil)
		}
		seen[character.ID] = true
		characters = append(characters, character)
	}
	return characters, nil
}

func isDataFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// decodeFile 按扩展名选择 JSON 或 YAML 解码
func decodeFile(path string, data []byte, v interface{}) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("解析YAML失败: %w", err)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("解析JSON失败: %w", err)
		}
	}
	return nil
}
