// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"support-chat-go/internal/config"
	"support-chat-go/internal/handler"
	"support-chat-go/internal/hub"
	"support-chat-go/internal/middleware"
	"support-chat-go/internal/model"
	"support-chat-go/internal/pipeline"
	"support-chat-go/internal/repository"
	"support-chat-go/internal/service"
	"support-chat-go/pkg/database"
	"support-chat-go/pkg/es"
	"support-chat-go/pkg/llm"
	"support-chat-go/pkg/log"
	"support-chat-go/pkg/mail"
	"support-chat-go/pkg/queue"
	"support-chat-go/pkg/slack"
	"support-chat-go/pkg/storage"
	"support-chat-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、MinIO 和 Elasticsearch
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
		&model.Analysis{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}

	// 4. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	analysisRepo := repository.NewAnalysisRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	slackClient := slack.NewClient(cfg.Slack)
	mailSender := mail.NewSender(cfg.Mail)
	queueClient := queue.NewKafkaClient(cfg.Kafka)

	userService := service.NewUserService(userRepo, jwtManager)
	conversationService := service.NewConversationService(conversationRepo, messageRepo, sessionRepo, queueClient)
	dispatchService := service.NewDispatchService(queueClient)
	broadcastHub := hub.New(conversationService)
	messageService := service.NewMessageService(conversationRepo, messageRepo, dispatchService, broadcastHub, slackClient, cfg.Chat, cfg.Analysis)
	escalationService := service.NewEscalationService(analysisRepo, broadcastHub, slackClient, mailSender, config.Conf.Escalation)
	searchService := service.NewSearchService()

	// 6. 初始化分析管道 (Processor)
	processor := pipeline.NewProcessor(
		conversationRepo,
		messageRepo,
		analysisRepo,
		llmClient,
		broadcastHub,
		dispatchService,
		escalationService,
		messageService,
	)

	// 7. 启动后台 Kafka 消费者，每个队列类别一个
	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()
	deadLetters := queue.NewDeadLetterStore(database.RDB)
	for _, class := range []string{queue.ClassAnalysis, queue.ClassCritical, queue.ClassDefault} {
		consumer := queue.NewConsumer(cfg.Kafka, class, processor.Handle, deadLetters, database.RDB).
			OnExhausted(processor.OnExhausted)
		go consumer.Start(consumerCtx)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	conversationHandler := handler.NewConversationHandler(conversationService, messageService)
	analysisHandler := handler.NewAnalysisHandler(dispatchService, escalationService, analysisRepo)
	chatHandler := handler.NewChatHandler(broadcastHub, messageService)
	userHandler := handler.NewUserHandler(userService)
	adminHandler := handler.NewAdminHandler(conversationService, searchService)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.SessionContext(jwtManager))
	{
		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录坐席访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
			}
		}

		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", userHandler.RefreshToken)
		}

		// Conversation 路由组，访客凭会话标识即可访问
		conversations := apiV1.Group("/conversations")
		{
			conversations.POST("", conversationHandler.Start)
			conversations.GET("/:id", conversationHandler.Get)
			conversations.GET("/:id/messages", conversationHandler.Messages)
			conversations.POST("/:id/messages", conversationHandler.SubmitMessage)
			conversations.POST("/:id/end", conversationHandler.End)
			conversations.POST("/:id/resume", conversationHandler.Resume)
			conversations.POST("/:id/analysis", analysisHandler.Dispatch)
			conversations.GET("/:id/analyses", analysisHandler.List)

			// Chat 路由 (WebSocket)
			conversations.GET("/:id/ws", chatHandler.Handle)
		}

		analysis := apiV1.Group("/analysis")
		{
			analysis.POST("/batch", analysisHandler.DispatchBatch)
			analysis.POST("/:id/escalation", analysisHandler.Notify)
		}

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/conversations", adminHandler.ListConversations)
			admin.GET("/messages/search", adminHandler.SearchMessages)
			admin.GET("/dashboard/ws", chatHandler.HandleDashboard)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停消费者，再关 HTTP 服务器
	cancelConsumers()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	if err := queueClient.Close(); err != nil {
		log.Warnf("Kafka 生产者关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
