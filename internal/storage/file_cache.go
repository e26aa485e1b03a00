// internal/storage/file_cache.go
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
)

// FileCache 缓存解析后的文件内容，文件被修改时自动失效
type FileCache struct {
	cache *cache.Cache
}

// fileCacheEntry 缓存条目
type fileCacheEntry struct {
	Data    interface{}
	ModTime time.Time
	Size    int64
}

// NewFileCache 创建文件缓存
func NewFileCache(expiration time.Duration) *FileCache {
	if expiration <= 0 {
		expiration = 5 * time.Minute // 默认5分钟过期
	}
	return &FileCache{cache: cache.New(expiration, 2*expiration)}
}

// Load 读取并解析文件；缓存命中且文件未变化时直接返回缓存结果
func (c *FileCache) Load(path string, parse func(data []byte) (interface{}, error)) (interface{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("获取文件绝对路径失败: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		c.cache.Delete(absPath)
		return nil, fmt.Errorf("读取文件信息失败: %w", err)
	}

	if cached, ok := c.cache.Get(absPath); ok {
		entry := cached.(*fileCacheEntry)
		if entry.ModTime.Equal(info.ModTime()) && entry.Size == info.Size() {
			return entry.Data, nil
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}

	parsed, err := parse(data)
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(absPath, &fileCacheEntry{
		Data:    parsed,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	})
	return parsed, nil
}

// Clear 清空缓存
func (c *FileCache) Clear() {
	c.cache.Flush()
}

// Len 当前缓存条目数
func (c *FileCache) Len() int {
	return c.cache.ItemCount()
}
