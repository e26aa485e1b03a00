// internal/di/container.go
package di

import (
	"fmt"
	"sort"
	"sync"
)

// 已知服务名称
const (
	ServiceConfig    = "config"
	ServiceLoader    = "loader"
	ServiceSink      = "sink"
	ServiceLLM       = "llm"
	ServiceSession   = "session"
	ServiceWebSocket = "websocket"
)

// Container 按名称保存已装配的服务实例
type Container struct {
	services map[string]interface{}
	mutex    sync.RWMutex
}

// 全局容器实例（单例模式）
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建一个空容器
func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// GetContainer 获取全局容器实例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 注册服务，同名服务会被替换
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// Get 获取服务实例，不存在时返回 nil
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.services[name]
}

// Has 检查服务是否已注册
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// Remove 移除服务
func (c *Container) Remove(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.services, name)
}

// Clear 清空全部服务
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]interface{})
}

// GetNames 已注册服务名称（有序）
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 按类型取出服务
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("服务未注册: %s", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("服务类型不匹配: %s (%T)", name, service)
	}
	return typed, nil
}
