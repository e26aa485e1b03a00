// internal/api/websocket_handlers.go
package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Corphon/RoleRealm/internal/services"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 54 * time.Second
)

// WebSocketHandler 处理会话观察连接
type WebSocketHandler struct {
	sessions *services.SessionService
	manager  *WebSocketManager
	logger   *utils.Logger
}

// NewWebSocketHandler 创建 WebSocket 处理器
func NewWebSocketHandler(sessions *services.SessionService, manager *WebSocketManager, logger *utils.Logger) *WebSocketHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebSocketHandler{sessions: sessions, manager: manager, logger: logger}
}

// SessionWebSocket 升级连接并推送会话的新事件
func (wh *WebSocketHandler) SessionWebSocket(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := wh.sessions.Status(sessionID); err != nil {
		NewResponseHelper().FromError(c, "会话不可观察", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wh.logger.Warn("❌ 会话 WebSocket 升级失败", map[string]interface{}{"session": sessionID, "error": err.Error()})
		return
	}

	client := NewWebSocketClient(conn, sessionID, c.DefaultQuery("client_id", uuid.NewString()))
	wh.manager.Register(client)
	defer wh.manager.Unregister(client)

	go wh.handleWebSocketWrites(client)

	client.SendMessage(map[string]interface{}{
		"type":       "connected",
		"session_id": sessionID,
		"client_id":  client.clientID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})

	wh.handleWebSocketReads(client)
}

// handleWebSocketReads 读取客户端消息直到连接关闭
func (wh *WebSocketHandler) handleWebSocketReads(client *WebSocketClient) {
	client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for !client.IsClosed() {
		_, messageBytes, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wh.logger.Debug("WebSocket 读取结束", map[string]interface{}{"session": client.sessionID, "error": err.Error()})
			}
			return
		}
		client.UpdatePing()
		client.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var message map[string]interface{}
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			client.SendError("无效的JSON消息")
			continue
		}
		wh.handleMessage(client, message)
	}
}

// handleWebSocketWrites 写出排队消息并定期发送 ping
func (wh *WebSocketHandler) handleWebSocketWrites(client *WebSocketClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.Close()
				return
			}

		case <-client.done:
			return
		}
	}
}

// handleMessage 处理收到的 WebSocket 消息
func (wh *WebSocketHandler) handleMessage(client *WebSocketClient, message map[string]interface{}) {
	msgType, _ := message["type"].(string)

	switch msgType {
	case "message":
		text, ok := message["text"].(string)
		if !ok {
			client.SendError("缺少消息内容")
			return
		}
		// 本轮事件通过会话观察者广播，这里只回报失败
		go func() {
			if _, err := wh.sessions.PostMessage(context.Background(), client.sessionID, text); err != nil {
				client.SendError(err.Error())
			}
		}()

	case "history":
		from, _ := message["from"].(float64)
		events, err := wh.sessions.History(client.sessionID, int64(from), 0)
		if err != nil {
			client.SendError(err.Error())
			return
		}
		client.SendMessage(map[string]interface{}{
			"type":       "history",
			"session_id": client.sessionID,
			"events":     events,
		})

	case "ping":
		client.SendMessage(map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Unix(),
		})

	default:
		client.SendError("未知的消息类型: " + msgType)
	}
}
