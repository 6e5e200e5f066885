package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// TelegramConfig 定义 Telegram Bot API 相关配置
type TelegramConfig struct {
	BotToken      string        // Bot API 令牌，必填
	APIBase       string        // Bot API 基础地址，默认官方地址，测试时可替换
	WebhookURL    string        // Webhook 公网地址，留空表示不注册 webhook
	WebhookSecret string        // Webhook 秘密令牌，用于校验请求来源
	SendTimeout   time.Duration // 单次发送请求超时，默认 10s
	SendRate      float64       // 全局发送速率（条/秒），默认 25
}

// MailTMConfig 定义 Mail.tm 邮件提供方客户端配置
type MailTMConfig struct {
	BaseURL       string          // API 基础地址，默认 "https://api.mail.tm"
	Timeout       time.Duration   // 单次请求超时，默认 15s
	RetryAttempts int             // 请求重试次数，默认 3
	RetryBackoff  []time.Duration // 重试退避序列，默认 1s, 2s, 4s
}

// WatcherConfig 定义后台邮箱轮询的核心业务配置
type WatcherConfig struct {
	PollInterval    time.Duration // 轮询间隔，默认 45s
	MailboxTTL      time.Duration // 邮箱过期提醒时间，默认 1h
	MaxPollWorkers  int           // 每轮并发轮询的最大协程数，默认 16
	MaxLinks        int           // 单封邮件最多展示的链接按钮数，默认 5
	DeliveryRetries int           // 投递失败后的最大尝试次数，默认 3
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	LogFile     string // 日志文件路径，留空仅输出到标准输出
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis 已读缓存
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // HTTP 服务器配置
	Telegram TelegramConfig // Telegram Bot 配置
	MailTM   MailTMConfig   // Mail.tm 客户端配置
	Watcher  WatcherConfig  // 邮箱轮询配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Redis    RedisConfig    // Redis 配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TMBOT_
// 例如: TMBOT_TELEGRAM_BOT_TOKEN, TMBOT_WATCHER_POLL_INTERVAL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("tmbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.api_base", "https://api.telegram.org")
	viper.SetDefault("telegram.webhook_url", "")
	viper.SetDefault("telegram.webhook_secret", "")
	viper.SetDefault("telegram.send_timeout", "10s")
	viper.SetDefault("telegram.send_rate", 25.0)
	viper.SetDefault("mailtm.base_url", "https://api.mail.tm")
	viper.SetDefault("mailtm.timeout", "15s")
	viper.SetDefault("mailtm.retry_attempts", 3)
	viper.SetDefault("watcher.poll_interval", "45s")
	viper.SetDefault("watcher.mailbox_ttl", "1h")
	viper.SetDefault("watcher.max_poll_workers", 16)
	viper.SetDefault("watcher.max_links", 5)
	viper.SetDefault("watcher.delivery_retries", 3)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	botToken := viper.GetString("telegram.bot_token")
	if botToken == "" {
		return nil, fmt.Errorf("telegram.bot_token is required (set TMBOT_TELEGRAM_BOT_TOKEN)")
	}

	sendTimeout, err := time.ParseDuration(viper.GetString("telegram.send_timeout"))
	if err != nil {
		sendTimeout = 10 * time.Second
	}

	sendRate := viper.GetFloat64("telegram.send_rate")
	if sendRate <= 0 {
		sendRate = 25.0
	}

	mailtmTimeout, err := time.ParseDuration(viper.GetString("mailtm.timeout"))
	if err != nil {
		mailtmTimeout = 15 * time.Second
	}

	retryAttempts := viper.GetInt("mailtm.retry_attempts")
	if retryAttempts <= 0 {
		retryAttempts = 3
	}

	pollInterval, err := time.ParseDuration(viper.GetString("watcher.poll_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid watcher.poll_interval: %w", err)
	}

	mailboxTTL, err := time.ParseDuration(viper.GetString("watcher.mailbox_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid watcher.mailbox_ttl: %w", err)
	}

	maxWorkers := viper.GetInt("watcher.max_poll_workers")
	if maxWorkers <= 0 {
		maxWorkers = 16
	}

	maxLinks := viper.GetInt("watcher.max_links")
	if maxLinks <= 0 {
		maxLinks = 5
	}

	deliveryRetries := viper.GetInt("watcher.delivery_retries")
	if deliveryRetries <= 0 {
		deliveryRetries = 3
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Telegram: TelegramConfig{
			BotToken:      botToken,
			APIBase:       strings.TrimRight(viper.GetString("telegram.api_base"), "/"),
			WebhookURL:    strings.TrimRight(viper.GetString("telegram.webhook_url"), "/"),
			WebhookSecret: viper.GetString("telegram.webhook_secret"),
			SendTimeout:   sendTimeout,
			SendRate:      sendRate,
		},
		MailTM: MailTMConfig{
			BaseURL:       strings.TrimRight(viper.GetString("mailtm.base_url"), "/"),
			Timeout:       mailtmTimeout,
			RetryAttempts: retryAttempts,
			RetryBackoff:  []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		},
		Watcher: WatcherConfig{
			PollInterval:    pollInterval,
			MailboxTTL:      mailboxTTL,
			MaxPollWorkers:  maxWorkers,
			MaxLinks:        maxLinks,
			DeliveryRetries: deliveryRetries,
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			LogFile:     viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env（用于从 backend/ 子目录运行的情况）
//
// 如果文件不存在，静默失败（.env 是可选的）；
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
