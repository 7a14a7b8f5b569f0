package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"
	"podcast-fusion/app/utils/downloader"

	"gorm.io/gorm"
)

// DownloadService 单集音频下载服务
type DownloadService struct {
	db  *gorm.DB
	cfg *config.Config
	log *logger.Logger
}

// NewDownloadService 创建下载服务
func NewDownloadService(db *gorm.DB, cfg *config.Config, log *logger.Logger) *DownloadService {
	return &DownloadService{
		db:  db,
		cfg: cfg,
		log: log,
	}
}

// Execute 下载单集音频。注册为download类型任务的执行器。
// 成功时先写入LocalPath和downloaded状态，再返回让队列标记completed。
func (s *DownloadService) Execute(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
	var episode model.Episode
	if err := s.db.First(&episode, task.EpisodeID).Error; err != nil {
		return nil, fmt.Errorf("单集不存在: %w", err)
	}

	if episode.AudioURL == "" {
		return nil, fmt.Errorf("单集没有音频地址")
	}

	report(10)

	ext := audioExt(episode.AudioURL)
	relativePath := filepath.Join("audio", fmt.Sprintf("%d", episode.FeedID), fmt.Sprintf("%d%s", episode.ID, ext))
	savePath := filepath.Join(s.cfg.Media.Root, relativePath)

	dlConfig := downloader.DefaultDownloadConfig()
	dlConfig.UserAgent = s.cfg.RSS.UserAgent
	dlConfig.OverwriteFile = true
	dlConfig.OnProgress = func(downloaded, total int64) {
		// 下载占10%-90%区间
		if total > 0 {
			report(10 + int(80*downloaded/total))
		}
	}

	result, err := downloader.DownloadFromURL(ctx, episode.AudioURL, savePath, dlConfig)
	if err != nil {
		return nil, err
	}

	report(95)

	// 先落库再返回：轮询方看到completed时local_path一定可读
	if err := s.db.Model(&episode).Updates(map[string]any{
		"status":     model.EpisodeStatusDownloaded,
		"local_path": relativePath,
		"audio_size": result.Size,
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("更新单集下载状态失败: %w", err)
	}

	s.log.Infof("音频下载完成: EpisodeID=%d, 大小=%d bytes, 耗时=%v", episode.ID, result.Size, result.Duration)

	return map[string]any{
		"local_path": relativePath,
		"size":       result.Size,
	}, nil
}

// audioExt 根据音频URL推断扩展名
func audioExt(audioURL string) string {
	lower := strings.ToLower(audioURL)
	switch {
	case strings.Contains(lower, ".m4a"):
		return ".m4a"
	case strings.Contains(lower, ".wav"):
		return ".wav"
	case strings.Contains(lower, ".ogg"):
		return ".ogg"
	default:
		return ".mp3"
	}
}
