// internal/storage/file_sink.go
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
)

const (
	sessionsDir     = "sessions"
	sessionFileName = "session.json"
	eventsFileName  = "events.jsonl"
)

// FileSink 每个会话一个目录：session.json 与追加写入的 events.jsonl
type FileSink struct {
	files *FileStorage
}

// NewFileSink 创建文件持久化后端
func NewFileSink(dataDir string) (*FileSink, error) {
	files, err := NewFileStorage(dataDir)
	if err != nil {
		return nil, err
	}
	return &FileSink{files: files}, nil
}

func sessionDir(sessionID string) string {
	return filepath.Join(sessionsDir, sessionID)
}

// Append 追加一行事件记录
func (s *FileSink) Append(ctx context.Context, sessionID string, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.AppendJSONLine(sessionDir(sessionID), eventsFileName, event)
}

// Load 读取全部事件
func (s *FileSink) Load(ctx context.Context, sessionID string) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events := make([]models.Event, 0)
	err := s.files.ReadJSONLines(sessionDir(sessionID), eventsFileName, func(line []byte) error {
		var event models.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("解析事件记录失败: %w", err)
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// SaveSession 原子写入会话元数据
func (s *FileSink) SaveSession(ctx context.Context, info models.SessionInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.files.SaveJSONFile(sessionDir(info.ID), sessionFileName, info)
}

// LoadSession 读取会话元数据
func (s *FileSink) LoadSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.files.FileExists(sessionDir(sessionID), sessionFileName) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", sessionID), nil)
	}
	var info models.SessionInfo
	if err := s.files.LoadJSONFile(sessionDir(sessionID), sessionFileName, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListSessions 列出所有已保存的会话
func (s *FileSink) ListSessions(ctx context.Context) ([]models.SessionInfo, error) {
	dirs, err := s.files.ListDirs(sessionsDir)
	if err != nil {
		return nil, err
	}
	list := make([]models.SessionInfo, 0, len(dirs))
	for _, dir := range dirs {
		info, err := s.LoadSession(ctx, dir)
		if err != nil {
			if apperrors.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		list = append(list, *info)
	}
	sortSessions(list)
	return list, nil
}

// Close 无操作
func (s *FileSink) Close() error { return nil }
