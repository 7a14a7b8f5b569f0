package server

import (
	"context"
	"net/http"
	"podcast-fusion/app/config"
	"podcast-fusion/app/database"
	"podcast-fusion/app/handler"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"
	"podcast-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// Server 表示 HTTP 服务器
type Server struct {
	Config    *config.Config
	Logger    *logger.Logger
	gin       *gin.Engine
	http      *http.Server
	queue     *service.TaskQueue
	rss       *service.RSSService
	scheduler *service.RefreshScheduler
}

// New 创建一个新的 Server 实例
func New(cfg *config.Config, log *logger.Logger) *Server {
	router := gin.Default()

	queue := service.NewTaskQueue(database.DB, cfg, log)
	rss := service.NewRSSService(database.DB, cfg, log)
	download := service.NewDownloadService(database.DB, cfg, log)
	transcript := service.NewTranscriptService(database.DB, cfg, log)
	summary := service.NewSummaryService(database.DB, cfg, log)

	// 注册各任务类型的执行器
	queue.RegisterExecutor(model.TaskTypeDownload, download.Execute)
	queue.RegisterExecutor(model.TaskTypeTranscribe, transcript.Execute)
	queue.RegisterExecutor(model.TaskTypeSummarize, summary.Execute)
	queue.RegisterExecutor(model.TaskTypeRefresh, rss.RefreshFeed)

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:    ":" + cfg.Server.Port,
			Handler: router,
		},
		Config:    cfg,
		Logger:    log,
		queue:     queue,
		rss:       rss,
		scheduler: service.NewRefreshScheduler(database.DB, cfg, log, queue),
	}

	// 设置路由
	s.setupRoutes()

	return s
}

// Queue 暴露任务队列，供命令层和测试使用
func (s *Server) Queue() *service.TaskQueue {
	return s.queue
}

// Start 启动服务器
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)

	// 启动任务队列和定时刷新
	s.queue.Start()
	if err := s.scheduler.Start(); err != nil {
		s.Logger.Errorf("启动定时刷新失败: %v", err)
	}

	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// 停止定时刷新和任务队列
	s.scheduler.Stop()
	s.queue.Stop()

	// 关闭数据库连接
	if err := database.Close(); err != nil {
		s.Logger.Errorf("关闭数据库连接失败: %v", err)
	}
	return s.http.Shutdown(ctx)
}

// setupRoutes 设置API路由
func (s *Server) setupRoutes() {
	// 创建处理器实例
	feedHandler := handler.NewFeedHandler(s.rss, s.queue)
	episodeHandler := handler.NewEpisodeHandler(s.queue)
	taskHandler := handler.NewTaskHandler(s.queue)
	transcriptHandler := handler.NewTranscriptHandler(s.queue)
	summaryHandler := handler.NewSummaryHandler(s.queue)
	statsHandler := handler.NewStatsHandler(s.queue)

	// API路由组
	api := s.gin.Group("/api")

	// 订阅源相关路由
	feeds := api.Group("/feeds")
	{
		feeds.GET("", feedHandler.ListFeeds)
		feeds.POST("", feedHandler.CreateFeed)
		feeds.GET("/:id", feedHandler.GetFeed)
		feeds.PUT("/:id", feedHandler.UpdateFeed)
		feeds.DELETE("/:id", feedHandler.DeleteFeed)
		feeds.POST("/:id/refresh", feedHandler.RefreshFeed)
	}

	// 单集相关路由
	episodes := api.Group("/episodes")
	{
		episodes.GET("", episodeHandler.ListEpisodes)
		episodes.GET("/:id", episodeHandler.GetEpisode)
		episodes.PUT("/:id", episodeHandler.UpdateEpisode)
		episodes.POST("/:id/star", episodeHandler.StarEpisode)
		episodes.POST("/:id/read", episodeHandler.MarkRead)
		episodes.POST("/:id/download", episodeHandler.DownloadEpisode)
	}

	// 任务相关路由
	tasks := api.Group("/tasks")
	{
		tasks.GET("", taskHandler.ListTasks)
		tasks.GET("/status", taskHandler.GetQueueStatus)
		tasks.GET("/:task_id", taskHandler.GetTask)
		tasks.POST("/:task_id/cancel", taskHandler.CancelTask)
	}

	// 转录相关路由
	transcripts := api.Group("/transcripts")
	{
		transcripts.GET("/:episode_id", transcriptHandler.GetTranscript)
		transcripts.POST("/:episode_id", transcriptHandler.CreateTranscript)
	}

	// 摘要相关路由
	summaries := api.Group("/summaries")
	{
		summaries.GET("/:episode_id", summaryHandler.GetSummary)
		summaries.POST("/:episode_id", summaryHandler.CreateSummary)
	}

	// 全局统计
	api.GET("/stats", statsHandler.GetStats)
}
