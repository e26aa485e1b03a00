// internal/services/session_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/RoleRealm/internal/errors"
	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/storage"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/google/uuid"
)

// StoryProvider 故事加载协作者
type StoryProvider interface {
	LoadStory(storyID string) (*storage.StoryBundle, error)
	ListStories() ([]string, error)
}

// EventObserver 每次会话追加事件后收到通知（例如 WebSocket 推送）
type EventObserver func(sessionID string, events []models.Event)

// SessionOptions 编排参数
type SessionOptions struct {
	ContextBudget     int
	MaxActorsPerRound int
	GenerationTimeout time.Duration
	Addressing        AddressingConfig
	ActionOpen        string
	ActionClose       string
}

// DefaultSessionOptions 默认编排参数
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		ContextBudget:     4000,
		MaxActorsPerRound: 3,
		GenerationTimeout: 20 * time.Second,
		Addressing:        DefaultAddressingConfig(),
		ActionOpen:        "*",
		ActionClose:       "*",
	}
}

// Session 一个会话拥有的全部可变状态
type Session struct {
	Info      models.SessionInfo
	Story     *models.Story
	Registry  *CharacterRegistry
	Timeline  *Timeline
	Addresser *Addresser
}

// SessionSummary 会话列表条目
type SessionSummary struct {
	models.SessionInfo
	Active bool `json:"active"`
}

// SessionService 会话编排器：驱动一次人类消息到回合结束的完整流程
type SessionService struct {
	loader      StoryProvider
	sink        storage.EventSink
	generator   Generator
	assembler   *ContextAssembler
	progression *ProgressionEngine
	parser      *MarkupParser
	locks       *LockManager
	opts        SessionOptions

	mu       sync.RWMutex
	sessions map[string]*Session

	observerMu sync.RWMutex
	observers  map[int]EventObserver
	nextObs    int

	logger  *utils.Logger
	metrics *utils.Metrics
	newID   func() string
}

// NewSessionService 创建会话编排器
func NewSessionService(loader StoryProvider, sink storage.EventSink, generator Generator, opts SessionOptions, logger *utils.Logger) *SessionService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	defaults := DefaultSessionOptions()
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = defaults.ContextBudget
	}
	if opts.MaxActorsPerRound <= 0 {
		opts.MaxActorsPerRound = defaults.MaxActorsPerRound
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaults.GenerationTimeout
	}
	if opts.Addressing.MentionPrefix == "" {
		opts.Addressing = defaults.Addressing
	}

	return &SessionService{
		loader:      loader,
		sink:        sink,
		generator:   generator,
		assembler:   NewContextAssembler(nil, logger),
		progression: NewProgressionEngine(logger),
		parser:      NewMarkupParser(opts.ActionOpen, opts.ActionClose),
		locks:       NewLockManager(),
		opts:        opts,
		sessions:    make(map[string]*Session),
		observers:   make(map[int]EventObserver),
		logger:      logger,
		metrics:     utils.GetMetrics(),
		newID:       uuid.NewString,
	}
}

// Subscribe 注册事件观察者，返回取消函数
func (s *SessionService) Subscribe(observer EventObserver) func() {
	s.observerMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = observer
	s.observerMu.Unlock()

	return func() {
		s.observerMu.Lock()
		delete(s.observers, id)
		s.observerMu.Unlock()
	}
}

func (s *SessionService) publish(sessionID string, events []models.Event) {
	if len(events) == 0 {
		return
	}
	s.observerMu.RLock()
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]EventObserver, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.observerMu.RUnlock()

	for _, observer := range observers {
		observer(sessionID, append([]models.Event(nil), events...))
	}
}

// ListStories 可用故事
func (s *SessionService) ListStories() ([]string, error) {
	return s.loader.ListStories()
}

// InitSession 加载故事与角色，创建会话并写入初始场景事件
func (s *SessionService) InitSession(ctx context.Context, storyID, humanName string) (string, error) {
	humanName = strings.TrimSpace(humanName)
	if humanName == "" {
		humanName = "Player"
	}

	session, err := s.buildSession(storyID)
	if err != nil {
		return "", err
	}

	session.Info = models.SessionInfo{
		ID:        s.newID(),
		StoryID:   session.Story.ID,
		HumanName: humanName,
		CreatedAt: time.Now(),
	}
	session.Timeline = NewTimeline(session.Info.ID, s.sink)

	if err := s.sink.SaveSession(ctx, session.Info); err != nil {
		return "", apperrors.NewTimelineWriteError("保存会话信息失败", err)
	}

	scene, _ := session.Story.SceneByID(session.Story.InitialScene)
	opening, err := session.Timeline.Append(ctx, models.Event{
		Kind:       models.EventSceneChange,
		Originator: models.ActorDirector,
		Payload:    sceneIntro(scene),
		Tag:        scene.ID,
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.sessions[session.Info.ID] = session
	s.mu.Unlock()

	s.metrics.ActiveSessions.Inc()
	s.metrics.RecordEvent(string(opening.Kind))
	s.logger.Info("会话已创建", map[string]interface{}{
		"session": session.Info.ID, "story": session.Story.ID, "scene": scene.ID,
	})

	s.publish(session.Info.ID, []models.Event{opening})
	return session.Info.ID, nil
}

// buildSession 加载故事并构建注册表（配置错误在此暴露）
func (s *SessionService) buildSession(storyID string) (*Session, error) {
	bundle, err := s.loader.LoadStory(storyID)
	if err != nil {
		return nil, err
	}
	registry, err := NewCharacterRegistry(bundle.Characters)
	if err != nil {
		return nil, err
	}
	return &Session{
		Story:     bundle.Story,
		Registry:  registry,
		Addresser: NewAddresser(s.opts.Addressing, registry, bundle.Story.DirectorCharacter),
	}, nil
}

// ResumeSession 从持久化存储恢复会话
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) (*models.SessionInfo, error) {
	if session, ok := s.getSession(sessionID); ok {
		info := session.Info
		return &info, nil
	}

	var info models.SessionInfo
	err := s.locks.ExecuteWithSessionLock(sessionID, func() error {
		if session, ok := s.getSession(sessionID); ok {
			info = session.Info
			return nil
		}

		stored, err := s.sink.LoadSession(ctx, sessionID)
		if err != nil {
			return err
		}
		events, err := s.sink.Load(ctx, sessionID)
		if err != nil {
			return apperrors.NewProcessingError("读取会话事件失败", err)
		}

		session, err := s.buildSession(stored.StoryID)
		if err != nil {
			return err
		}
		session.Info = *stored
		session.Timeline, err = RestoreTimeline(sessionID, s.sink, events)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.sessions[sessionID] = session
		s.mu.Unlock()
		s.metrics.ActiveSessions.Inc()

		s.logger.Info("会话已恢复", map[string]interface{}{
			"session": sessionID, "events": len(events), "scene": CurrentSceneID(session.Story, events),
		})
		info = session.Info
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// CloseSession 释放会话的内存状态（持久化数据保留）
func (s *SessionService) CloseSession(sessionID string) error {
	s.mu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", sessionID), nil)
	}
	s.locks.Remove(sessionID)
	s.metrics.ActiveSessions.Dec()
	s.logger.Info("会话已关闭", map[string]interface{}{"session": sessionID})
	return nil
}

// Close 关闭全部会话并停止后台任务
func (s *SessionService) Close() {
	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	s.metrics.ActiveSessions.Sub(float64(n))
	s.locks.Stop()
}

func (s *SessionService) getSession(sessionID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	return session, ok
}

func (s *SessionService) requireSession(sessionID string) (*Session, error) {
	session, ok := s.getSession(sessionID)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在或未加载: %s", sessionID), nil)
	}
	return session, nil
}

// DisplayName 行动者在会话中的显示名称
func (s *SessionService) DisplayName(sessionID, actorID string) string {
	session, ok := s.getSession(sessionID)
	if !ok {
		return actorID
	}
	switch actorID {
	case models.ActorHuman:
		return session.Info.HumanName
	case models.ActorDirector:
		if session.Story.DirectorCharacter != "" {
			return session.Registry.DisplayName(session.Story.DirectorCharacter)
		}
		return "Director"
	}
	return session.Registry.DisplayName(actorID)
}

// RosterEntry 会话中的一个角色
type RosterEntry struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	Present  bool     `json:"present"`  // 是否在当前场景
	Director bool     `json:"director"` // 担任导演人设
}

// Roster 会话角色表与点名提示
type Roster struct {
	SessionID        string        `json:"session_id"`
	CurrentScene     string        `json:"current_scene"`
	Characters       []RosterEntry `json:"characters"`
	DirectorTriggers []string      `json:"director_triggers"` // 前缀+导演名称
}

// Roster 按ID排序列出角色，标记当前场景在场者
func (s *SessionService) Roster(sessionID string) (*Roster, error) {
	session, err := s.requireSession(sessionID)
	if err != nil {
		return nil, err
	}

	sceneID := CurrentSceneID(session.Story, session.Timeline.All())
	present := make(map[string]bool)
	if scene, ok := session.Story.SceneByID(sceneID); ok {
		for _, id := range scene.Present {
			present[id] = true
		}
	}

	roster := &Roster{SessionID: sessionID, CurrentScene: sceneID}
	for _, id := range session.Registry.IDs() {
		c, _ := session.Registry.Get(id)
		roster.Characters = append(roster.Characters, RosterEntry{
			ID:       id,
			Name:     session.Registry.DisplayName(id),
			Aliases:  c.Aliases,
			Present:  present[id],
			Director: id == session.Story.DirectorCharacter,
		})
	}
	for _, name := range session.Addresser.DirectorNames() {
		roster.DirectorTriggers = append(roster.DirectorTriggers, s.opts.Addressing.MentionPrefix+name)
	}
	return roster, nil
}

// FindCharacter 按名称、昵称或ID查找会话中的角色
func (s *SessionService) FindCharacter(sessionID, name string) (models.Character, error) {
	session, err := s.requireSession(sessionID)
	if err != nil {
		return models.Character{}, err
	}
	c, ok := session.Registry.Lookup(name)
	if !ok {
		return models.Character{}, apperrors.NewNotFoundError(fmt.Sprintf("角色不存在: %s", name), nil)
	}
	return c, nil
}

// History 返回序号在 [from, to] 内的事件
func (s *SessionService) History(sessionID string, from, to int64) ([]models.Event, error) {
	session, err := s.requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Timeline.Slice(from, to), nil
}

// Status 当前场景与目标进展
func (s *SessionService) Status(sessionID string) (*models.StoryProgressStatus, error) {
	session, err := s.requireSession(sessionID)
	if err != nil {
		return nil, err
	}
	status := s.progression.Status(session.Story, session.Timeline.All())
	status.SessionID = sessionID
	return &status, nil
}

// ListSessions 已持久化的会话及其是否在内存中
func (s *SessionService) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	stored, err := s.sink.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	list := make([]SessionSummary, 0, len(stored))
	for _, info := range stored {
		_, active := s.getSession(info.ID)
		list = append(list, SessionSummary{SessionInfo: info, Active: active})
	}
	return list, nil
}

// PostMessage 追加人类消息、执行一轮行动并评估剧情推进，返回本轮追加的全部事件
func (s *SessionService) PostMessage(ctx context.Context, sessionID, text string) ([]models.Event, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("消息不能为空", nil)
	}
	session, err := s.requireSession(sessionID)
	if err != nil {
		return nil, err
	}

	var appended []models.Event
	err = s.locks.ExecuteWithSessionLock(sessionID, func() error {
		round := &roundRunner{service: s, session: session}
		runErr := round.run(ctx, text)
		appended = round.appended
		return runErr
	})

	// 已持久化的事件无论成败都推送给观察者
	s.publish(sessionID, appended)
	if err != nil {
		return nil, err
	}
	return appended, nil
}

// roundRunner 一轮编排的状态
type roundRunner struct {
	service  *SessionService
	session  *Session
	appended []models.Event
}

func (r *roundRunner) append(ctx context.Context, event models.Event) error {
	stored, err := r.session.Timeline.Append(ctx, event)
	if err != nil {
		return err
	}
	r.appended = append(r.appended, stored)
	r.service.metrics.RecordEvent(string(stored.Kind))
	return nil
}

func (r *roundRunner) run(ctx context.Context, text string) error {
	s := r.service
	s.metrics.Rounds.Inc()

	if err := r.append(ctx, models.Event{
		Kind:       models.EventMessage,
		Originator: models.ActorHuman,
		Payload:    text,
	}); err != nil {
		return err
	}
	human := r.appended[0]

	events := r.session.Timeline.All()
	scene, _ := r.session.Story.SceneByID(CurrentSceneID(r.session.Story, events))
	decision := SelectTurn(TurnInput{
		Message:   human,
		Events:    events,
		Present:   scene.Present,
		Addresser: r.session.Addresser,
		Registry:  r.session.Registry,
		MaxActors: s.opts.MaxActorsPerRound,
	})
	s.logger.Debug("回合选择完成", map[string]interface{}{
		"session": r.session.Info.ID, "mode": decision.Mode, "actors": decision.Actors,
	})

	for _, actor := range decision.Actors {
		if err := r.takeTurn(ctx, actor); err != nil {
			return err
		}
	}

	for _, e := range s.progression.Evaluate(r.session.Story, r.session.Timeline.All()) {
		if err := r.append(ctx, e); err != nil {
			return err
		}
		switch e.Kind {
		case models.EventObjectiveComplete:
			s.metrics.ObjectiveCompletion.Inc()
			s.logger.Info("🎯 目标完成", map[string]interface{}{"session": r.session.Info.ID, "objective": e.Tag})
		case models.EventSceneChange:
			s.metrics.SceneChanges.Inc()
			s.logger.Info("🎬 场景切换", map[string]interface{}{"session": r.session.Info.ID, "scene": e.Tag})
		}
	}
	return nil
}

// takeTurn 单个行动者：组装上下文、限时生成、解析并追加
func (r *roundRunner) takeTurn(ctx context.Context, actor string) error {
	s := r.service
	tc, err := s.assembler.Assemble(ContextRequest{
		ActorID:   actor,
		Story:     r.session.Story,
		Registry:  r.session.Registry,
		Addresser: r.session.Addresser,
		HumanName: r.session.Info.HumanName,
		Events:    r.session.Timeline.All(),
		Budget:    s.opts.ContextBudget,
	})
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	start := time.Now()
	raw, err := s.generator.Generate(genCtx, tc)
	s.metrics.ObserveGeneration(start)
	timedOut := errors.Is(genCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		// 调用方取消整个请求时不再继续本轮
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if timedOut && !apperrors.IsGenerationError(err) {
			err = apperrors.NewGenerationTimeoutError("生成超时", err)
		}
		kind := generationFailureKind(err)
		s.metrics.RecordTurn(string(kind))
		s.logger.Warn("行动者生成失败，跳过本回合", map[string]interface{}{
			"session": r.session.Info.ID, "actor": actor, "kind": kind, "error": err.Error(),
		})
		return r.append(ctx, models.Event{
			Kind:       models.EventSystemNote,
			Originator: actor,
			Payload:    fmt.Sprintf("%s did not respond (%s)", tc.ActorName, kind),
			Tag:        string(kind),
		})
	}

	segments := s.parser.Parse(raw, r.speakerNames(actor, tc.ActorName))
	if len(segments) == 0 {
		s.metrics.RecordTurn("declined")
		s.logger.Debug("行动者放弃发言", map[string]interface{}{"session": r.session.Info.ID, "actor": actor})
		return nil
	}

	s.metrics.RecordTurn("spoke")
	for _, seg := range segments {
		if err := r.append(ctx, models.Event{
			Kind:       seg.Kind,
			Originator: actor,
			Payload:    seg.Payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *roundRunner) speakerNames(actor, displayName string) []string {
	names := []string{displayName, actor}
	if c, ok := r.session.Registry.Get(actor); ok {
		names = append(names, c.Names()...)
	}
	return names
}

// generationFailureKind 生成失败的分类，作为 system-note 的标签
func generationFailureKind(err error) apperrors.ErrorType {
	if t, ok := apperrors.TypeOf(err); ok && apperrors.IsGenerationError(err) {
		return t
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.ErrorTypeGenerationTimeout
	}
	return apperrors.ErrorTypeGenerationTransport
}
