// internal/storage/file_storage.go
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStorage 提供文件存储服务
type FileStorage struct {
	BaseDir string

	// 并发控制
	fileLocks sync.Map // 文件级别锁 path -> *sync.RWMutex
}

// NewFileStorage 创建文件存储服务
func NewFileStorage(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStorage{BaseDir: baseDir}, nil
}

// 获取文件锁
func (fs *FileStorage) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := fs.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// SaveTextFile 原子性保存文本文件
func (fs *FileStorage) SaveTextFile(dirPath, filename string, content []byte) error {
	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	tempPath := fullPath + ".tmp"
	if err := os.WriteFile(tempPath, content, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			fmt.Printf("Warning: failed to clean up temporary file %s after rename failure: %v\n", tempPath, removeErr)
		}
		return fmt.Errorf("保存文件失败: %w", err)
	}
	return nil
}

// SaveJSONFile 保存JSON文件
func (fs *FileStorage) SaveJSONFile(dirPath, filename string, data interface{}) error {
	content, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}
	return fs.SaveTextFile(dirPath, filename, content)
}

// LoadJSONFile 读取并解析JSON文件
func (fs *FileStorage) LoadJSONFile(dirPath, filename string, v interface{}) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Errorf("读取文件失败: %w", err)
	}
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析JSON失败: %w", err)
	}
	return nil
}

// AppendJSONLine 以JSON Lines格式追加一条记录并落盘
func (fs *FileStorage) AppendJSONLine(dirPath, filename string, record interface{}) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	fullDirPath := filepath.Join(fs.BaseDir, dirPath)
	fullPath := filepath.Join(fullDirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(fullDirPath, 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("追加写入失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("同步文件失败: %w", err)
	}
	return nil
}

// ReadJSONLines 逐行读取JSON Lines文件，对每行调用 fn
func (fs *FileStorage) ReadJSONLines(dirPath, filename string, fn func(line []byte) error) error {
	fullPath := filepath.Join(fs.BaseDir, dirPath, filename)

	lock := fs.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("读取文件失败: %w", err)
	}
	return nil
}

// DirExists 检查目录是否存在
func (fs *FileStorage) DirExists(dirPath string) bool {
	info, err := os.Stat(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// FileExists 检查文件是否存在
func (fs *FileStorage) FileExists(dirPath, filename string) bool {
	_, err := os.Stat(filepath.Join(fs.BaseDir, dirPath, filename))
	return err == nil
}

// ListDirs 列出目录下的所有子目录（按名称排序）
func (fs *FileStorage) ListDirs(dirPath string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.BaseDir, dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
