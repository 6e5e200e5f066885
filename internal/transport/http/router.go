package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmailbot/backend/internal/bot"
	"tempmailbot/backend/internal/config"
	"tempmailbot/backend/internal/domain"
	"tempmailbot/backend/internal/health"
	"tempmailbot/backend/internal/middleware"
	"tempmailbot/backend/internal/monitoring"
	"tempmailbot/backend/internal/telegram"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config        *config.Config
	BotHandler    *bot.Handler
	HealthChecker *health.HealthChecker
	Metrics       *monitoring.Metrics
	Store         domain.Store
	Logger        *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())

	// webhook 载荷很小，1MB 已留足余量
	router.Use(middleware.BodySizeLimit(1 * 1024 * 1024))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:  deps.Config.CORS.AllowedOrigins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	router.Use(gincors.New(corsConfig))

	// Bot API 更新入口
	router.POST("/webhook",
		middleware.WebhookAuth(deps.Config.Telegram.WebhookSecret),
		webhookHandler(deps.BotHandler, deps.Logger))

	// 健康检查
	router.GET("/health/live", gin.WrapF(deps.HealthChecker.LiveEndpoint))
	router.GET("/health/ready", gin.WrapF(deps.HealthChecker.ReadyEndpoint))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.HealthChecker.CheckHealth())
	})

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	// 运行状态概览
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"active_mailboxes": len(deps.Store.ListActiveMailboxes()),
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
		})
	})

	return router
}

// webhookHandler 解码一次 Bot API 更新并交给命令层。
//
// 无论业务处理结果如何都回 200：非 2xx 响应会让
// Telegram 反复重推同一条更新。
func webhookHandler(handler *bot.Handler, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update telegram.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			log.Warn("malformed webhook payload", zap.Error(err))
			c.Status(http.StatusOK)
			return
		}

		handler.HandleUpdate(c.Request.Context(), &update)
		log.Debug("webhook update handled",
			zap.Int64("update_id", update.UpdateID),
			zap.Int64("chat_id", update.ChatID()))
		c.Status(http.StatusOK)
	}
}
