package whisperhelper

import (
	"fmt"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/model"

	"resty.dev/v3"
)

// Client faster-whisper服务客户端。
// 对接OpenAI兼容的 /v1/audio/transcriptions 接口（verbose_json格式）。
type Client struct {
	cfg    config.WhisperConfig
	client *resty.Client
}

// New 创建转录客户端
func New(cfg config.WhisperConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	// 长音频转录可能持续数十分钟
	client.SetTimeout(60 * time.Minute)

	return &Client{
		cfg:    cfg,
		client: client,
	}
}

// transcriptionResponse verbose_json响应体
type transcriptionResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// TranscribeResult 转录结果
type TranscribeResult struct {
	Text     string
	Segments []model.TranscriptSegment
	Language string
}

// TranscribeFile 转录本地音频文件
func (c *Client) TranscribeFile(audioPath string) (*TranscribeResult, error) {
	var result transcriptionResponse

	resp, err := c.client.R().
		SetFile("file", audioPath).
		SetFormData(map[string]string{
			"model":           c.cfg.Model,
			"response_format": "verbose_json",
		}).
		SetResult(&result).
		Post("/v1/audio/transcriptions")
	if err != nil {
		return nil, fmt.Errorf("转录请求失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("转录请求失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	if result.Text == "" && len(result.Segments) == 0 {
		return nil, fmt.Errorf("转录结果为空")
	}

	segments := make([]model.TranscriptSegment, 0, len(result.Segments))
	for _, seg := range result.Segments {
		segments = append(segments, model.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Time:  FormatTimestamp(seg.Start),
			Text:  seg.Text,
		})
	}

	return &TranscribeResult{
		Text:     result.Text,
		Segments: segments,
		Language: result.Language,
	}, nil
}

// FormatTimestamp 格式化时间戳为 MM:SS 或 H:MM:SS
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}
