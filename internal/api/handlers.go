// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Corphon/RoleRealm/internal/llm"
	"github.com/Corphon/RoleRealm/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	Sessions         *services.SessionService // 会话编排
	LLMService       *services.LLMService     // 生成服务（可为空）
	WebSocketHandler *WebSocketHandler        // WebSocket 处理器
	WSManager        *WebSocketManager        // WebSocket 连接管理
	Response         *ResponseHelper          // 响应助手

	unsubscribe func()
	limiter     *RateLimiter
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	StoryID   string `json:"story_id" binding:"required"`
	HumanName string `json:"human_name"`
}

// PostMessageRequest 发送消息请求
type PostMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// ---------------------------------------------------------
// NewHandler 创建API处理器，并将会话事件转发到 WebSocket
func NewHandler(sessions *services.SessionService, llmService *services.LLMService, manager *WebSocketManager) *Handler {
	h := &Handler{
		Sessions:         sessions,
		LLMService:       llmService,
		WSManager:        manager,
		WebSocketHandler: NewWebSocketHandler(sessions, manager, nil),
		Response:         NewResponseHelper(),
	}
	h.unsubscribe = sessions.Subscribe(manager.PublishEvents)
	return h
}

// Close 取消事件订阅并停止限流器
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// CreateSession 加载故事并开启新会话
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	sessionID, err := h.Sessions.InitSession(c.Request.Context(), req.StoryID, req.HumanName)
	if err != nil {
		h.Response.FromError(c, "创建会话失败", err)
		return
	}

	h.Response.Created(c, gin.H{"session_id": sessionID}, "会话创建成功")
}

// ResumeSession 从持久化存储恢复会话
func (h *Handler) ResumeSession(c *gin.Context) {
	info, err := h.Sessions.ResumeSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "恢复会话失败", err)
		return
	}

	h.Response.Success(c, info, "会话已恢复")
}

// PostMessage 提交人类消息并返回本轮追加的事件
func (h *Handler) PostMessage(c *gin.Context) {
	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorMessageInvalid, "消息格式错误", err.Error())
		return
	}

	events, err := h.Sessions.PostMessage(c.Request.Context(), c.Param("id"), req.Text)
	if err != nil {
		h.Response.FromError(c, "处理消息失败", err)
		return
	}

	h.Response.Success(c, gin.H{"events": events})
}

// GetEvents 返回时间线片段，from/to 为闭区间序号
func (h *Handler) GetEvents(c *gin.Context) {
	from, err := parseSeq(c.DefaultQuery("from", "1"))
	if err != nil {
		h.Response.BadRequest(c, "from 参数无效", err.Error())
		return
	}
	to, err := parseSeq(c.DefaultQuery("to", "0"))
	if err != nil {
		h.Response.BadRequest(c, "to 参数无效", err.Error())
		return
	}

	events, err := h.Sessions.History(c.Param("id"), from, to)
	if err != nil {
		h.Response.FromError(c, "获取事件失败", err)
		return
	}

	h.Response.Success(c, gin.H{"events": events, "count": len(events)})
}

func parseSeq(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

// GetStatus 当前场景与目标进展
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.Sessions.Status(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "获取会话状态失败", err)
		return
	}

	h.Response.Success(c, status)
}

// GetRoster 会话角色表
func (h *Handler) GetRoster(c *gin.Context) {
	roster, err := h.Sessions.Roster(c.Param("id"))
	if err != nil {
		h.Response.FromError(c, "获取角色列表失败", err)
		return
	}

	h.Response.Success(c, roster)
}

// GetCharacter 按名称或昵称查找角色
func (h *Handler) GetCharacter(c *gin.Context) {
	character, err := h.Sessions.FindCharacter(c.Param("id"), c.Param("name"))
	if err != nil {
		h.Response.FromError(c, "获取角色失败", err)
		return
	}

	h.Response.Success(c, character)
}

// CloseSession 释放会话
func (h *Handler) CloseSession(c *gin.Context) {
	if err := h.Sessions.CloseSession(c.Param("id")); err != nil {
		h.Response.FromError(c, "关闭会话失败", err)
		return
	}

	h.Response.Success(c, nil, "会话已关闭")
}

// ListSessions 列出已持久化的会话
func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.Sessions.ListSessions(c.Request.Context())
	if err != nil {
		h.Response.FromError(c, "获取会话列表失败", err)
		return
	}

	h.Response.Success(c, sessions)
}

// ListStories 列出可用故事
func (h *Handler) ListStories(c *gin.Context) {
	stories, err := h.Sessions.ListStories()
	if err != nil {
		h.Response.FromError(c, "获取故事列表失败", err)
		return
	}

	h.Response.Success(c, gin.H{"stories": stories})
}

// Health 服务健康状态
func (h *Handler) Health(c *gin.Context) {
	llmStatus := gin.H{"ready": false, "status": "not configured", "available": llm.ListProviders()}
	if h.LLMService != nil {
		llmStatus = gin.H{
			"ready":     h.LLMService.IsReady(),
			"status":    h.LLMService.GetReadyState(),
			"provider":  h.LLMService.GetProviderName(),
			"available": llm.ListProviders(),
		}
	}

	h.Response.Success(c, gin.H{
		"status":    "ok",
		"llm":       llmStatus,
		"websocket": h.WSManager.GetStatus(),
		"time":      time.Now().Format(time.RFC3339),
	})
}

// SessionWebSocket 会话观察连接
func (h *Handler) SessionWebSocket(c *gin.Context) {
	h.WebSocketHandler.SessionWebSocket(c)
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	h.Response.Success(c, h.WSManager.GetStatus())
}
