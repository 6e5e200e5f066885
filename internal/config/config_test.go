package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"TMBOT_TELEGRAM_BOT_TOKEN",
		"TMBOT_SERVER_HOST",
		"TMBOT_SERVER_PORT",
		"TMBOT_WATCHER_POLL_INTERVAL",
		"TMBOT_WATCHER_MAILBOX_TTL",
		"TMBOT_MAILTM_BASE_URL",
		"TMBOT_LOG_LEVEL",
		"TMBOT_LOG_DEVELOPMENT",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("默认配置", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("TMBOT_TELEGRAM_BOT_TOKEN", "123456:test-token")

		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "https://api.mail.tm", cfg.MailTM.BaseURL)
		assert.Equal(t, 45*time.Second, cfg.Watcher.PollInterval)
		assert.Equal(t, time.Hour, cfg.Watcher.MailboxTTL)
		assert.Equal(t, 5, cfg.Watcher.MaxLinks)
		assert.Equal(t, 3, cfg.Watcher.DeliveryRetries)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, cfg.MailTM.RetryBackoff)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
	})

	t.Run("缺少 bot token 时报错", func(t *testing.T) {
		os.Unsetenv("TMBOT_TELEGRAM_BOT_TOKEN")

		_, err := Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "bot_token")
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		os.Setenv("TMBOT_TELEGRAM_BOT_TOKEN", "123456:test-token")
		os.Setenv("TMBOT_SERVER_PORT", "9090")
		os.Setenv("TMBOT_WATCHER_POLL_INTERVAL", "30s")
		os.Setenv("TMBOT_LOG_LEVEL", "debug")

		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Watcher.PollInterval)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("非法轮询间隔报错", func(t *testing.T) {
		os.Setenv("TMBOT_TELEGRAM_BOT_TOKEN", "123456:test-token")
		os.Setenv("TMBOT_WATCHER_POLL_INTERVAL", "not-a-duration")
		defer os.Unsetenv("TMBOT_WATCHER_POLL_INTERVAL")

		_, err := Load()
		assert.Error(t, err)
	})
}
