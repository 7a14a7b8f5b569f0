package service

import (
	"errors"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// RefreshScheduler 定时为所有活跃订阅提交refresh任务。
// 单飞约束天然去重：上一轮还没刷完的订阅会被跳过。
type RefreshScheduler struct {
	db    *gorm.DB
	cfg   *config.Config
	log   *logger.Logger
	queue *TaskQueue
	cron  *cron.Cron
}

// NewRefreshScheduler 创建定时刷新调度器
func NewRefreshScheduler(db *gorm.DB, cfg *config.Config, log *logger.Logger, queue *TaskQueue) *RefreshScheduler {
	return &RefreshScheduler{
		db:    db,
		cfg:   cfg,
		log:   log,
		queue: queue,
		cron:  cron.New(),
	}
}

// Start 启动定时刷新，cron表达式为空则不启用
func (s *RefreshScheduler) Start() error {
	spec := s.cfg.RSS.RefreshCron
	if spec == "" {
		s.log.Info("未配置自动刷新，跳过定时任务")
		return nil
	}

	if _, err := s.cron.AddFunc(spec, s.refreshAllFeeds); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Infof("定时刷新已启动: cron=%s", spec)
	return nil
}

// Stop 停止定时刷新
func (s *RefreshScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// refreshAllFeeds 给所有活跃订阅各提交一个refresh任务
func (s *RefreshScheduler) refreshAllFeeds() {
	var feeds []model.Feed
	if err := s.db.Where("status = ?", model.FeedStatusActive).Find(&feeds).Error; err != nil {
		s.log.Errorf("查询活跃订阅失败: %v", err)
		return
	}

	submitted := 0
	for _, feed := range feeds {
		_, err := s.queue.Submit(SubmitOptions{
			Type:   model.TaskTypeRefresh,
			FeedID: feed.ID,
		})
		if err != nil {
			if !errors.Is(err, ErrTaskInProgress) {
				s.log.Errorf("提交刷新任务失败: FeedID=%d, 错误: %v", feed.ID, err)
			}
			continue
		}
		submitted++
	}

	if submitted > 0 {
		s.log.Infof("定时刷新提交了 %d 个任务（共%d个订阅）", submitted, len(feeds))
	}
}
