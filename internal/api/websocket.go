// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/RoleRealm/internal/models"
	"github.com/Corphon/RoleRealm/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketConnection 定义 WebSocket 连接的接口
type WebSocketConnection interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// WebSocketClient 表示一个观察会话的 WebSocket 连接
type WebSocketClient struct {
	conn      WebSocketConnection
	sessionID string
	clientID  string
	send      chan []byte
	done      chan struct{}
	closed    int32 // 原子操作标志，0=开启，1=关闭
	lastPing  int64 // UnixNano
	createdAt time.Time
}

// NewWebSocketClient 创建客户端
func NewWebSocketClient(conn WebSocketConnection, sessionID, clientID string) *WebSocketClient {
	now := time.Now()
	return &WebSocketClient{
		conn:      conn,
		sessionID: sessionID,
		clientID:  clientID,
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
		lastPing:  now.UnixNano(),
		createdAt: now,
	}
}

// Close 安全关闭客户端连接
func (client *WebSocketClient) Close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		close(client.done)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// IsClosed 检查连接是否已关闭
func (client *WebSocketClient) IsClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// UpdatePing 更新最后活跃时间
func (client *WebSocketClient) UpdatePing() {
	atomic.StoreInt64(&client.lastPing, time.Now().UnixNano())
}

// IsExpired 检查连接是否超时
func (client *WebSocketClient) IsExpired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return true
	}
	return now.Sub(time.Unix(0, atomic.LoadInt64(&client.lastPing))) > timeout
}

// SendMessage 非阻塞地排队一条JSON消息；队列满时丢弃
func (client *WebSocketClient) SendMessage(message interface{}) bool {
	if client.IsClosed() {
		return false
	}
	msgBytes, err := json.Marshal(message)
	if err != nil {
		return false
	}
	return client.enqueue(msgBytes)
}

func (client *WebSocketClient) enqueue(msg []byte) bool {
	select {
	case <-client.done:
		return false
	case client.send <- msg:
		return true
	default:
		return false
	}
}

// SendError 发送错误消息到客户端
func (client *WebSocketClient) SendError(errorMsg string) {
	client.SendMessage(map[string]interface{}{
		"type":      "error",
		"error":     errorMsg,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// WebSocketManager 按会话管理 WebSocket 连接
type WebSocketManager struct {
	connections map[string]map[*WebSocketClient]struct{} // sessionID -> clients
	mutex       sync.RWMutex
	pingTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   *utils.Logger
	metrics  *utils.Metrics
}

// NewWebSocketManager 创建管理器并启动定期清理
func NewWebSocketManager(logger *utils.Logger) *WebSocketManager {
	if logger == nil {
		logger = utils.GetLogger()
	}
	manager := &WebSocketManager{
		connections: make(map[string]map[*WebSocketClient]struct{}),
		pingTimeout: 90 * time.Second,
		stopCh:      make(chan struct{}),
		logger:      logger,
		metrics:     utils.GetMetrics(),
	}
	go manager.run()
	return manager
}

func (manager *WebSocketManager) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			manager.cleanupExpiredConnections(now)
		case <-manager.stopCh:
			return
		}
	}
}

// Register 注册新客户端
func (manager *WebSocketManager) Register(client *WebSocketClient) {
	manager.mutex.Lock()
	defer manager.mutex.Unlock()

	if manager.connections[client.sessionID] == nil {
		manager.connections[client.sessionID] = make(map[*WebSocketClient]struct{})
	}
	manager.connections[client.sessionID][client] = struct{}{}
	manager.metrics.WebSocketClients.Inc()

	manager.logger.Info("✅ WebSocket 客户端已连接", map[string]interface{}{
		"session": client.sessionID, "client": client.clientID,
	})
}

// Unregister 注销客户端并关闭连接
func (manager *WebSocketManager) Unregister(client *WebSocketClient) {
	manager.mutex.Lock()
	removed := manager.removeLocked(client)
	manager.mutex.Unlock()

	client.Close()
	if removed {
		manager.logger.Info("🔌 WebSocket 客户端已断开连接", map[string]interface{}{
			"session": client.sessionID, "client": client.clientID,
		})
	}
}

func (manager *WebSocketManager) removeLocked(client *WebSocketClient) bool {
	clients, exists := manager.connections[client.sessionID]
	if !exists {
		return false
	}
	if _, ok := clients[client]; !ok {
		return false
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(manager.connections, client.sessionID)
	}
	manager.metrics.WebSocketClients.Dec()
	return true
}

// cleanupExpiredConnections 清理过期和已关闭的连接
func (manager *WebSocketManager) cleanupExpiredConnections(now time.Time) int {
	manager.mutex.Lock()
	expired := make([]*WebSocketClient, 0)
	for _, clients := range manager.connections {
		for client := range clients {
			if client.IsClosed() || client.IsExpired(now, manager.pingTimeout) {
				expired = append(expired, client)
			}
		}
	}
	for _, client := range expired {
		manager.removeLocked(client)
	}
	manager.mutex.Unlock()

	for _, client := range expired {
		client.Close()
	}
	return len(expired)
}

// BroadcastToSession 向观察指定会话的所有客户端广播
func (manager *WebSocketManager) BroadcastToSession(sessionID string, message interface{}) {
	msgBytes, err := json.Marshal(message)
	if err != nil {
		manager.logger.Error("❌ 序列化广播消息失败", map[string]interface{}{"error": err.Error()})
		return
	}

	manager.mutex.RLock()
	clients := make([]*WebSocketClient, 0, len(manager.connections[sessionID]))
	for client := range manager.connections[sessionID] {
		clients = append(clients, client)
	}
	manager.mutex.RUnlock()

	for _, client := range clients {
		if !client.enqueue(msgBytes) && !client.IsClosed() {
			manager.logger.Warn("⚠️ 客户端消息队列已满，消息被丢弃", map[string]interface{}{
				"session": sessionID, "client": client.clientID,
			})
		}
	}
}

// PublishEvents 会话事件观察者：推送本轮新追加的事件
func (manager *WebSocketManager) PublishEvents(sessionID string, events []models.Event) {
	manager.BroadcastToSession(sessionID, map[string]interface{}{
		"type":       "events",
		"session_id": sessionID,
		"events":     events,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// ClientCount 会话的观察者数量
func (manager *WebSocketManager) ClientCount(sessionID string) int {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()
	return len(manager.connections[sessionID])
}

// GetStatus 获取管理器状态
func (manager *WebSocketManager) GetStatus() map[string]interface{} {
	manager.mutex.RLock()
	defer manager.mutex.RUnlock()

	sessions := make(map[string]interface{})
	total := 0
	for sessionID, clients := range manager.connections {
		active := 0
		for client := range clients {
			if !client.IsClosed() {
				active++
			}
		}
		sessions[sessionID] = map[string]interface{}{"client_count": active}
		total += active
	}

	return map[string]interface{}{
		"total_sessions":       len(manager.connections),
		"total_connections":    total,
		"sessions":             sessions,
		"ping_timeout_seconds": int(manager.pingTimeout.Seconds()),
	}
}

// Shutdown 关闭所有连接并停止清理
func (manager *WebSocketManager) Shutdown() {
	manager.stopOnce.Do(func() {
		close(manager.stopCh)

		manager.mutex.Lock()
		clients := make([]*WebSocketClient, 0)
		for _, set := range manager.connections {
			for client := range set {
				clients = append(clients, client)
			}
		}
		manager.metrics.WebSocketClients.Sub(float64(len(clients)))
		manager.connections = make(map[string]map[*WebSocketClient]struct{})
		manager.mutex.Unlock()

		for _, client := range clients {
			client.Close()
		}
		manager.logger.Info("✅ WebSocket 管理器已关闭", nil)
	})
}
