package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"
	"podcast-fusion/app/utils/llmclient"

	"gorm.io/gorm"
)

// 转录文本过长时截断，避免超出模型上下文
const maxTranscriptChars = 60000

// SummaryService AI摘要服务，调用LLM网关对转录生成结构化摘要
type SummaryService struct {
	db  *gorm.DB
	cfg *config.Config
	log *logger.Logger
	llm *llmclient.Client
}

// NewSummaryService 创建摘要服务
func NewSummaryService(db *gorm.DB, cfg *config.Config, log *logger.Logger) *SummaryService {
	return &SummaryService{
		db:  db,
		cfg: cfg,
		log: log,
		llm: llmclient.New(cfg.LLM),
	}
}

// summarizeParams 摘要任务参数，提交时序列化进任务的Params字段
type summarizeParams struct {
	SummaryType string `json:"summary_type"`
	Force       bool   `json:"force"`
}

// EncodeSummarizeParams 序列化摘要任务参数
func EncodeSummarizeParams(summaryType string, force bool) string {
	data, _ := json.Marshal(summarizeParams{SummaryType: summaryType, Force: force})
	return string(data)
}

// Execute 生成摘要。注册为summarize类型任务的执行器。
func (s *SummaryService) Execute(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
	var episode model.Episode
	if err := s.db.First(&episode, task.EpisodeID).Error; err != nil {
		return nil, fmt.Errorf("单集不存在: %w", err)
	}

	params := summarizeParams{SummaryType: model.SummaryTypeGeneral}
	if task.Params != "" {
		_ = json.Unmarshal([]byte(task.Params), &params)
	}
	summaryType := model.ValidateSummaryType(params.SummaryType)

	var transcript model.Transcript
	if err := s.db.Where("episode_id = ?", episode.ID).First(&transcript).Error; err != nil {
		return nil, fmt.Errorf("转录不存在，请先生成转录: %w", err)
	}
	if transcript.Text == "" {
		return nil, fmt.Errorf("转录内容为空")
	}

	report(10)

	text := transcript.Text
	if len(text) > maxTranscriptChars {
		text = text[:maxTranscriptChars]
	}

	messages := buildSummaryMessages(summaryType, episode.Title, text)

	var content map[string]any
	result, err := s.llm.ChatJSON(messages, &content)
	if err != nil {
		return nil, err
	}

	report(70)

	tldr, _ := content["tldr"].(string)
	tagsJSON := "[]"
	if tags, ok := content["tags"]; ok {
		if data, merr := json.Marshal(tags); merr == nil {
			tagsJSON = string(data)
		}
	}
	contentJSON, _ := json.Marshal(content)
	usageJSON, _ := json.Marshal(result.Usage)

	summary := &model.Summary{
		EpisodeID:   episode.ID,
		SummaryType: summaryType,
		TLDR:        tldr,
		Tags:        tagsJSON,
		Content:     string(contentJSON),
		Model:       result.Model,
		TokensUsed:  string(usageJSON),
		ElapsedSecs: result.ElapsedSecs,
	}

	// 先落库再返回：轮询方看到completed时摘要一定可读
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var existing model.Summary
		ferr := tx.Where("episode_id = ? AND summary_type = ?", episode.ID, summaryType).First(&existing).Error
		switch ferr {
		case nil:
			summary.ID = existing.ID
			summary.CreatedAt = existing.CreatedAt
			if uerr := tx.Save(summary).Error; uerr != nil {
				return uerr
			}
		case gorm.ErrRecordNotFound:
			if cerr := tx.Create(summary).Error; cerr != nil {
				return cerr
			}
		default:
			return ferr
		}

		return tx.Model(&model.Episode{}).Where("id = ?", episode.ID).Updates(map[string]any{
			"status":      model.EpisodeStatusSummarized,
			"has_summary": true,
			"updated_at":  time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	report(95)

	s.log.Infof("摘要生成完成: EpisodeID=%d, 类型=%s, tokens=%d, 耗时=%.1fs",
		episode.ID, summaryType, result.Usage.Total, result.ElapsedSecs)

	return map[string]any{
		"summary_id":   summary.ID,
		"summary_type": summaryType,
		"tokens_used":  result.Usage,
	}, nil
}
