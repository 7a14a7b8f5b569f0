package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Media   MediaConfig   `mapstructure:"media"`
	Task    TaskConfig    `mapstructure:"task"`
	RSS     RSSConfig     `mapstructure:"rss"`
	Whisper WhisperConfig `mapstructure:"whisper"`
	LLM     LLMConfig     `mapstructure:"llm"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type MediaConfig struct {
	Root string `mapstructure:"root"` // 媒体文件根目录
}

type TaskConfig struct {
	Workers         int `mapstructure:"workers"`          // 最大并发任务数
	ScanIntervalSec int `mapstructure:"scan_interval"`    // 队列扫描间隔（秒）
	CleanupDays     int `mapstructure:"cleanup_days"`     // 已完成任务保留天数
	FailedKeepDays  int `mapstructure:"failed_keep_days"` // 失败/取消任务保留天数
}

type RSSConfig struct {
	Timeout     int    `mapstructure:"timeout"`      // 请求超时（秒）
	UserAgent   string `mapstructure:"user_agent"`   // 请求User-Agent
	RefreshCron string `mapstructure:"refresh_cron"` // 自动刷新cron表达式，空则不启用
}

type WhisperConfig struct {
	BaseURL string `mapstructure:"base_url"` // faster-whisper服务地址
	Model   string `mapstructure:"model"`    // 模型名称
}

type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"` // OpenAI兼容网关地址
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 媒体目录默认配置
	viper.SetDefault("media.root", "data/media")

	// 任务队列默认配置
	viper.SetDefault("task.workers", 3)
	viper.SetDefault("task.scan_interval", 1)
	viper.SetDefault("task.cleanup_days", 7)
	viper.SetDefault("task.failed_keep_days", 30)

	// RSS默认配置
	viper.SetDefault("rss.timeout", 30)
	viper.SetDefault("rss.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	viper.SetDefault("rss.refresh_cron", "")

	// Whisper默认配置
	viper.SetDefault("whisper.base_url", "http://localhost:8000")
	viper.SetDefault("whisper.model", "small")

	// LLM默认配置
	viper.SetDefault("llm.base_url", "http://localhost:4000")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.max_tokens", 4096)
	viper.SetDefault("llm.temperature", 0.3)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Task.Workers <= 0 {
		return fmt.Errorf("任务并发数必须大于0")
	}
	if config.Media.Root == "" {
		return fmt.Errorf("媒体目录未设置")
	}
	return nil
}
