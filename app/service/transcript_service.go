package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"
	"podcast-fusion/app/utils/transcriptfetcher"
	"podcast-fusion/app/utils/whisperhelper"

	"gorm.io/gorm"
)

// TranscriptService 转录服务。
// 优先抓取RSS自带的官方字幕，没有官方字幕时走whisper引擎转录本地音频。
type TranscriptService struct {
	db      *gorm.DB
	cfg     *config.Config
	log     *logger.Logger
	whisper *whisperhelper.Client
}

// NewTranscriptService 创建转录服务
func NewTranscriptService(db *gorm.DB, cfg *config.Config, log *logger.Logger) *TranscriptService {
	return &TranscriptService{
		db:      db,
		cfg:     cfg,
		log:     log,
		whisper: whisperhelper.New(cfg.Whisper),
	}
}

// Execute 执行转录。注册为transcribe类型任务的执行器。
func (s *TranscriptService) Execute(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
	var episode model.Episode
	if err := s.db.First(&episode, task.EpisodeID).Error; err != nil {
		return nil, fmt.Errorf("单集不存在: %w", err)
	}

	report(10)

	// 优先官方字幕
	if episode.TranscriptURL != "" {
		text, source, err := transcriptfetcher.Fetch(episode.TranscriptURL, s.cfg.RSS.UserAgent)
		if err == nil && text != "" {
			report(60)
			if err := s.saveTranscript(&episode, text, nil, "", source, ""); err != nil {
				return nil, err
			}
			return map[string]any{"text_length": len(text), "source": source}, nil
		}
		s.log.Warnf("官方字幕获取失败，回退到whisper转录: EpisodeID=%d, 错误: %v", episode.ID, err)
	}

	// whisper转录需要已下载的音频
	if episode.LocalPath == "" {
		return nil, fmt.Errorf("音频尚未下载，无法转录")
	}
	audioPath := filepath.Join(s.cfg.Media.Root, episode.LocalPath)

	report(20)

	result, err := s.whisper.TranscribeFile(audioPath)
	if err != nil {
		return nil, err
	}

	report(90)

	if err := s.saveTranscript(&episode, result.Text, result.Segments, result.Language, model.TranscriptSourceWhisper, s.cfg.Whisper.Model); err != nil {
		return nil, err
	}

	s.log.Infof("转录完成: EpisodeID=%d, 文本长度=%d, 分段数=%d", episode.ID, len(result.Text), len(result.Segments))

	return map[string]any{
		"text_length": len(result.Text),
		"source":      model.TranscriptSourceWhisper,
	}, nil
}

// saveTranscript 保存转录并推进单集状态，在任务completed之前完成落库
func (s *TranscriptService) saveTranscript(episode *model.Episode, text string, segments []model.TranscriptSegment, language, source, modelName string) error {
	segmentsJSON := "[]"
	if segments != nil {
		if data, err := json.Marshal(segments); err == nil {
			segmentsJSON = string(data)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Transcript
		err := tx.Where("episode_id = ?", episode.ID).First(&existing).Error
		switch err {
		case nil:
			if uerr := tx.Model(&existing).Updates(map[string]any{
				"text":       text,
				"segments":   segmentsJSON,
				"language":   language,
				"word_count": model.CountWords(text),
				"source":     source,
				"model":      modelName,
			}).Error; uerr != nil {
				return uerr
			}
		case gorm.ErrRecordNotFound:
			if cerr := tx.Create(&model.Transcript{
				EpisodeID: episode.ID,
				Text:      text,
				Segments:  segmentsJSON,
				Language:  language,
				WordCount: model.CountWords(text),
				Source:    source,
				Model:     modelName,
			}).Error; cerr != nil {
				return cerr
			}
		default:
			return err
		}

		return tx.Model(&model.Episode{}).Where("id = ?", episode.ID).Updates(map[string]any{
			"status":         model.EpisodeStatusTranscribed,
			"has_transcript": true,
			"updated_at":     time.Now(),
		}).Error
	})
}
