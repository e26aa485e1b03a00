// internal/storage/sqlite_sink.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339Nano

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	story_id   TEXT NOT NULL,
	human_name TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	session_id TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	ts         TEXT    NOT NULL,
	kind       TEXT    NOT NULL,
	originator TEXT    NOT NULL,
	payload    TEXT    NOT NULL,
	tag        TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, seq)
);`

// SQLiteSink 基于 SQLite 的持久化后端
type SQLiteSink struct {
	sqlDB *sql.DB
}

// OpenSQLiteSink 打开（必要时创建）SQLite 数据库
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// 单写连接，避免 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteSink{sqlDB: sqlDB}, nil
}

// Close 关闭数据库
func (s *SQLiteSink) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append 插入一条事件；主键冲突意味着序号被重用
func (s *SQLiteSink) Append(ctx context.Context, sessionID string, event models.Event) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO events (session_id, seq, ts, kind, originator, payload, tag) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, event.Seq, event.Timestamp.UTC().Format(timeFormat), string(event.Kind), event.Originator, event.Payload, event.Tag,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Load 按序号读取全部事件
func (s *SQLiteSink) Load(ctx context.Context, sessionID string) ([]models.Event, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT seq, ts, kind, originator, payload, tag FROM events WHERE session_id = ? ORDER BY seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]models.Event, 0)
	for rows.Next() {
		var (
			event models.Event
			ts    string
			kind  string
		)
		if err := rows.Scan(&event.Seq, &ts, &kind, &event.Originator, &event.Payload, &event.Tag); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		parsed, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		event.Timestamp = parsed
		event.Kind = models.EventKind(kind)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// SaveSession 写入或更新会话元数据
func (s *SQLiteSink) SaveSession(ctx context.Context, info models.SessionInfo) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO sessions (id, story_id, human_name, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET story_id = excluded.story_id, human_name = excluded.human_name`,
		info.ID, info.StoryID, info.HumanName, info.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// LoadSession 读取会话元数据
func (s *SQLiteSink) LoadSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, story_id, human_name, created_at FROM sessions WHERE id = ?`, sessionID)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", sessionID), nil)
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ListSessions 按创建时间列出会话
func (s *SQLiteSink) ListSessions(ctx context.Context) ([]models.SessionInfo, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, story_id, human_name, created_at FROM sessions ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	list := make([]models.SessionInfo, 0)
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.SessionInfo, error) {
	var (
		info      models.SessionInfo
		createdAt string
	)
	if err := row.Scan(&info.ID, &info.StoryID, &info.HumanName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	parsed, err := time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse session time: %w", err)
	}
	info.CreatedAt = parsed
	return &info, nil
}
