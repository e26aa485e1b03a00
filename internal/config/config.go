// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *Config
	configMutex   sync.RWMutex
)

// 持久化后端
const (
	PersistenceSQLite = "sqlite"
	PersistenceFile   = "file"
	PersistenceMemory = "memory"
)

// Config 包含应用程序的所有配置
type Config struct {
	// 基础配置
	Port      string `env:"PORT" envDefault:"8080" json:"port"`
	DataDir   string `env:"DATA_DIR" envDefault:"data" json:"data_dir"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs" json:"log_dir"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"false" json:"debug_mode"`

	// LLM相关配置
	LLMProvider string `env:"LLM_PROVIDER" envDefault:"openrouter" json:"llm_provider"`
	LLMAPIKey   string `env:"LLM_API_KEY" json:"-"`
	LLMModel    string `env:"LLM_MODEL" json:"llm_model,omitempty"`
	LLMBaseURL  string `env:"LLM_BASE_URL" json:"llm_base_url,omitempty"`

	// 存储
	Persistence   string        `env:"PERSISTENCE" envDefault:"sqlite" json:"persistence"`
	StoryCacheTTL time.Duration `env:"STORY_CACHE_TTL" envDefault:"5m" json:"story_cache_ttl"`

	// 编排参数
	ContextBudget     int           `env:"CONTEXT_BUDGET" envDefault:"4000" json:"context_budget"`
	MaxActorsPerRound int           `env:"MAX_ACTORS_PER_ROUND" envDefault:"3" json:"max_actors_per_round"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"20s" json:"generation_timeout"`

	// 点名语法
	MentionPrefix   string   `env:"MENTION_PREFIX" envDefault:"@" json:"mention_prefix"`
	DirectorAliases []string `env:"DIRECTOR_ALIASES" envDefault:"director,dm,narrator" envSeparator:"," json:"director_aliases"`
	MatchPlainNames bool     `env:"MATCH_PLAIN_NAMES" envDefault:"true" json:"match_plain_names"`

	// 回复解析
	ActionOpen  string `env:"ACTION_OPEN" envDefault:"*" json:"action_open"`
	ActionClose string `env:"ACTION_CLOSE" envDefault:"*" json:"action_close"`

	// API
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30" json:"rate_limit_per_minute"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境变量失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ensureDir(cfg.DataDir)
	ensureDir(cfg.LogDir)

	if cfg.LLMAPIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置LLM_API_KEY，角色生成调用将失败")
	}

	return cfg, nil
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	if c.ContextBudget <= 0 {
		return fmt.Errorf("CONTEXT_BUDGET 必须为正数: %d", c.ContextBudget)
	}
	if c.MaxActorsPerRound <= 0 {
		return fmt.Errorf("MAX_ACTORS_PER_ROUND 必须为正数: %d", c.MaxActorsPerRound)
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT 必须为正数: %s", c.GenerationTimeout)
	}
	if strings.TrimSpace(c.MentionPrefix) == "" {
		return fmt.Errorf("MENTION_PREFIX 不能为空")
	}
	switch c.Persistence {
	case PersistenceSQLite, PersistenceFile, PersistenceMemory:
	default:
		return fmt.Errorf("未知的持久化后端: %s", c.Persistence)
	}
	return nil
}

// ensureDir 确保目录存在
func ensureDir(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}
}

// InitConfig 初始化配置管理器
func InitConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configMutex.Lock()
	defer configMutex.Unlock()
	currentConfig = cfg

	configCopy := *cfg
	return &configCopy, nil
}

// SetCurrentConfig 直接设置当前配置（用于测试和CLI）
func SetCurrentConfig(cfg *Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	if cfg == nil {
		currentConfig = nil
		return
	}
	configCopy := *cfg
	currentConfig = &configCopy
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回默认配置
		return Defaults()
	}

	// 返回配置的副本
	configCopy := *currentConfig
	configCopy.DirectorAliases = append([]string(nil), currentConfig.DirectorAliases...)
	return &configCopy
}

// Defaults 返回不读取环境变量的默认配置
func Defaults() *Config {
	return &Config{
		Port:               "8080",
		DataDir:            "data",
		LogDir:             "logs",
		LLMProvider:        "openrouter",
		Persistence:        PersistenceSQLite,
		StoryCacheTTL:      5 * time.Minute,
		ContextBudget:      4000,
		MaxActorsPerRound:  3,
		GenerationTimeout:  20 * time.Second,
		MentionPrefix:      "@",
		DirectorAliases:    []string{"director", "dm", "narrator"},
		MatchPlainNames:    true,
		ActionOpen:         "*",
		ActionClose:        "*",
		RateLimitPerMinute: 30,
	}
}
