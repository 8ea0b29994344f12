package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/spf13/viper"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig `mapstructure:"server"`
	Store       StoreConfig  `mapstructure:"store"`
	AI          AIConfig     `mapstructure:"ai"`
	Chat        ChatConfig   `mapstructure:"chat"`
	Events      EventsConfig `mapstructure:"events"`
	Log         LogConfig    `mapstructure:"log"`
	PersonaFile string       `mapstructure:"persona_file"`
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Addr        string   `mapstructure:"-"`
}

// StoreConfig 选择消息存储后端。
type StoreConfig struct {
	Driver string       `mapstructure:"driver"` // mongo, sqlite, memory
	Mongo  MongoConfig  `mapstructure:"mongo"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// MongoConfig 描述 MongoDB 连接。
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// SQLiteConfig 描述本地 SQLite 文件。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string        `mapstructure:"provider"` // gemini, ark
	Timeout  time.Duration `mapstructure:"timeout"`
	Gemini   GeminiConfig  `mapstructure:"gemini"`
	Ark      ArkConfig     `mapstructure:"ark"`
}

// GeminiConfig 描述 Google Gemini 配置。
type GeminiConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	Model           string   `mapstructure:"model"`
	Temperature     *float64 `mapstructure:"temperature"`
	MaxOutputTokens *int     `mapstructure:"max_output_tokens"`
}

// Enabled 表示是否提供了 Gemini 密钥。
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != "" && c.Model != ""
}

// ArkConfig 描述火山方舟配置。
type ArkConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	AccessKey   string   `mapstructure:"access_key"`
	SecretKey   string   `mapstructure:"secret_key"`
	Model       string   `mapstructure:"model"`
	BaseURL     string   `mapstructure:"base_url"`
	Region      string   `mapstructure:"region"`
	Temperature *float64 `mapstructure:"temperature"`
	TopP        *float64 `mapstructure:"top_p"`
	MaxTokens   *int     `mapstructure:"max_tokens"`
}

// Enabled 表示是否提供了必需的密钥。
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c ArkConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// ChatConfig 控制上下文窗口。PromptLimit 不得大于 HistoryLimit。
type ChatConfig struct {
	HistoryLimit    int  `mapstructure:"history_limit"`
	PromptLimit     int  `mapstructure:"prompt_limit"`
	PromptMaxTokens int  `mapstructure:"prompt_max_tokens"`
	SerializeTurns  bool `mapstructure:"serialize_turns"`
}

// EventsConfig 控制对话事件的发布方式。
type EventsConfig struct {
	RedisEnabled bool   `mapstructure:"redis_enabled"`
	RedisAddr    string `mapstructure:"redis_addr"`
	TopicPrefix  string `mapstructure:"topic_prefix"`
}

// LogConfig 控制日志输出。
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

// envBindings 保持与部署环境一致的环境变量名。
var envBindings = map[string][]string{
	"server.port":                 {"PORT"},
	"server.cors_origins":         {"CORS_ALLOWED_ORIGINS"},
	"store.driver":                {"STORE_DRIVER"},
	"store.mongo.uri":             {"MONGODB_URL"},
	"store.mongo.database":        {"MONGODB_DATABASE"},
	"store.mongo.collection":      {"MONGODB_COLLECTION"},
	"store.sqlite.path":           {"SQLITE_PATH"},
	"ai.provider":                 {"AI_PROVIDER"},
	"ai.timeout":                  {"AI_TIMEOUT"},
	"ai.gemini.api_key":           {"GEMINI_API_KEY"},
	"ai.gemini.model":             {"GEMINI_MODEL"},
	"ai.gemini.temperature":       {"GEMINI_TEMPERATURE"},
	"ai.gemini.max_output_tokens": {"GEMINI_MAX_OUTPUT_TOKENS"},
	"ai.ark.api_key":              {"ARK_API_KEY"},
	"ai.ark.access_key":           {"ARK_ACCESS_KEY"},
	"ai.ark.secret_key":           {"ARK_SECRET_KEY"},
	"ai.ark.model":                {"ARK_MODEL", "Model"},
	"ai.ark.base_url":             {"ARK_BASE_URL"},
	"ai.ark.region":               {"ARK_REGION"},
	"ai.ark.temperature":          {"ARK_TEMPERATURE"},
	"ai.ark.top_p":                {"ARK_TOP_P"},
	"ai.ark.max_tokens":           {"ARK_MAX_TOKENS"},
	"chat.history_limit":          {"CHAT_HISTORY_LIMIT"},
	"chat.prompt_limit":           {"CHAT_PROMPT_LIMIT"},
	"chat.prompt_max_tokens":      {"CHAT_PROMPT_MAX_TOKENS"},
	"chat.serialize_turns":        {"CHAT_SERIALIZE_TURNS"},
	"persona_file":                {"PERSONA_FILE"},
	"events.redis_enabled":        {"EVENTS_REDIS_ENABLED"},
	"events.redis_addr":           {"EVENTS_REDIS_ADDR"},
	"events.topic_prefix":         {"EVENTS_TOPIC_PREFIX"},
	"log.level":                   {"LOG_LEVEL"},
	"log.format":                  {"LOG_FORMAT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})

	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.mongo.uri", "mongodb://mongodb:27017")
	v.SetDefault("store.mongo.database", "vettalaw")
	v.SetDefault("store.mongo.collection", "chat_history")
	v.SetDefault("store.sqlite.path", "vettalaw.db")

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.timeout", "30s")
	v.SetDefault("ai.gemini.model", "gemini-3-flash-preview")
	v.SetDefault("ai.ark.base_url", "https://ark.cn-beijing.volces.com/api/v3")
	v.SetDefault("ai.ark.region", "cn-beijing")

	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.prompt_limit", 5)
	v.SetDefault("chat.prompt_max_tokens", 0)
	v.SetDefault("chat.serialize_turns", false)

	v.SetDefault("events.redis_enabled", false)
	v.SetDefault("events.redis_addr", "localhost:6379")
	v.SetDefault("events.topic_prefix", "vettalaw")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load 从配置文件（可选）与环境变量加载配置。configPath 为空时在当前目录查找 config.yaml。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	addr, err := listenAddr(c.Server.Port)
	if err != nil {
		return err
	}
	c.Server.Addr = addr
	c.Server.CORSOrigins = trimAll(c.Server.CORSOrigins)

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case "mongo", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER value %q: want mongo, sqlite or memory", c.Store.Driver)
	}

	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	switch c.AI.Provider {
	case "gemini", "ark":
	default:
		return fmt.Errorf("invalid AI_PROVIDER value %q: want gemini or ark", c.AI.Provider)
	}
	if c.AI.Timeout < 0 {
		return fmt.Errorf("invalid AI_TIMEOUT value %s", c.AI.Timeout)
	}
	c.AI.Gemini.APIKey = strings.TrimSpace(c.AI.Gemini.APIKey)
	c.AI.Ark.APIKey = strings.TrimSpace(c.AI.Ark.APIKey)
	c.AI.Ark.AccessKey = strings.TrimSpace(c.AI.Ark.AccessKey)
	c.AI.Ark.SecretKey = strings.TrimSpace(c.AI.Ark.SecretKey)
	c.AI.Ark.Model = strings.TrimSpace(c.AI.Ark.Model)

	if c.Chat.HistoryLimit < 1 {
		return fmt.Errorf("invalid CHAT_HISTORY_LIMIT value %d: must be at least 1", c.Chat.HistoryLimit)
	}
	if c.Chat.PromptLimit < 1 || c.Chat.PromptLimit > c.Chat.HistoryLimit {
		return fmt.Errorf("invalid CHAT_PROMPT_LIMIT value %d: must be between 1 and CHAT_HISTORY_LIMIT (%d)", c.Chat.PromptLimit, c.Chat.HistoryLimit)
	}
	if c.Chat.PromptMaxTokens < 0 {
		c.Chat.PromptMaxTokens = 0
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	return nil
}

// listenAddr 解析服务器监听地址。
func listenAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	return ":" + port, nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
