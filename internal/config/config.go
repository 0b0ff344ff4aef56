// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Slack         SlackConfig         `mapstructure:"slack"`
	Mail          MailConfig          `mapstructure:"mail"`
	Escalation    EscalationConfig    `mapstructure:"escalation"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// 每个队列类别（analysis/critical/default）对应一个独立主题：
// <topic_prefix>.<class>。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	GroupID     string `mapstructure:"group_id"`
}

// ChatConfig 存储消息入口相关的配置。
type ChatConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
}

// AnalysisConfig 存储分析调度相关的配置。
type AnalysisConfig struct {
	PreviewEnabled  bool `mapstructure:"preview_enabled"`
	PreviewMinTurns int  `mapstructure:"preview_min_turns"`
	PreviewMaxTurns int  `mapstructure:"preview_max_turns"`
}

// LLMConfig 存储分析/回复模型相关的配置。
type LLMConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// SlackConfig 存储 chat-ops Webhook 相关的配置。
type SlackConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// MailConfig 存储邮件通知相关的配置。
type MailConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// EscalationConfig 存储升级通知相关的配置。
type EscalationConfig struct {
	Channels []string `mapstructure:"channels"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults()
}

// applyDefaults 给未在配置文件中出现的关键字段补默认值。
func applyDefaults() {
	if Conf.Chat.MaxMessageLength <= 0 {
		Conf.Chat.MaxMessageLength = 4000
	}
	if Conf.Analysis.PreviewMinTurns <= 0 {
		Conf.Analysis.PreviewMinTurns = 2
	}
	if Conf.Analysis.PreviewMaxTurns <= 0 {
		Conf.Analysis.PreviewMaxTurns = 3
	}
	if Conf.Kafka.TopicPrefix == "" {
		Conf.Kafka.TopicPrefix = "support-chat"
	}
	if Conf.Kafka.GroupID == "" {
		Conf.Kafka.GroupID = "support-chat-worker"
	}
	if Conf.LLM.TimeoutSeconds <= 0 {
		Conf.LLM.TimeoutSeconds = 60
	}
}
