package client

import (
	"encoding/json"
	"fmt"
	"time"

	"podcast-fusion/app/model"

	"resty.dev/v3"
)

// APIError 服务端返回的业务错误
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API错误 [%d %s]: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// envelope 统一响应包装
type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"error_code"`
}

// SubmitResult 任务提交响应
type SubmitResult struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Client REST API客户端
type Client struct {
	http *resty.Client
}

// New 创建API客户端
func New(baseURL string) *Client {
	http := resty.New()
	http.SetBaseURL(baseURL)
	http.SetTimeout(15 * time.Second)

	return &Client{http: http}
}

// Close 释放底层连接
func (c *Client) Close() error {
	return c.http.Close()
}

// do 发送请求并解包统一响应，out为nil时只检查成败
func (c *Client) do(method, path string, body, out any) error {
	req := c.http.R()
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("请求失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Bytes(), &env); err != nil {
		return fmt.Errorf("响应解析失败 [%d]: %w", resp.StatusCode(), err)
	}

	if !env.Success {
		return &APIError{
			StatusCode: resp.StatusCode(),
			ErrorCode:  env.ErrorCode,
			Message:    env.Message,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("数据解析失败: %w", err)
		}
	}
	return nil
}

// GetTask 查询任务状态
func (c *Client) GetTask(taskID string) (*model.Task, error) {
	var task model.Task
	if err := c.do("GET", "/api/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask 取消任务（仅pending可取消）
func (c *Client) CancelTask(taskID string) (*model.Task, error) {
	var task model.Task
	if err := c.do("POST", "/api/tasks/"+taskID+"/cancel", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DownloadEpisode 提交下载任务
func (c *Client) DownloadEpisode(episodeID uint) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.do("POST", fmt.Sprintf("/api/episodes/%d/download", episodeID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TranscribeEpisode 提交转录任务
func (c *Client) TranscribeEpisode(episodeID uint) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.do("POST", fmt.Sprintf("/api/transcripts/%d", episodeID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SummarizeEpisode 提交摘要任务
func (c *Client) SummarizeEpisode(episodeID uint, summaryType string, force bool) (*SubmitResult, error) {
	var result SubmitResult
	body := map[string]any{"summary_type": summaryType, "force": force}
	if err := c.do("POST", fmt.Sprintf("/api/summaries/%d", episodeID), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RefreshFeed 提交订阅刷新任务
func (c *Client) RefreshFeed(feedID uint) (*SubmitResult, error) {
	var result SubmitResult
	if err := c.do("POST", fmt.Sprintf("/api/feeds/%d/refresh", feedID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetEpisode 获取单集详情
func (c *Client) GetEpisode(episodeID uint) (*model.Episode, error) {
	var episode model.Episode
	if err := c.do("GET", fmt.Sprintf("/api/episodes/%d", episodeID), nil, &episode); err != nil {
		return nil, err
	}
	return &episode, nil
}

// GetTranscript 获取单集转录
func (c *Client) GetTranscript(episodeID uint) (*model.Transcript, error) {
	var transcript model.Transcript
	if err := c.do("GET", fmt.Sprintf("/api/transcripts/%d", episodeID), nil, &transcript); err != nil {
		return nil, err
	}
	return &transcript, nil
}

// GetSummary 获取单集摘要
func (c *Client) GetSummary(episodeID uint, summaryType string) (*model.Summary, error) {
	path := fmt.Sprintf("/api/summaries/%d", episodeID)
	if summaryType != "" {
		path += "?summary_type=" + summaryType
	}
	var summary model.Summary
	if err := c.do("GET", path, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// StarEpisode 标星/取消标星
func (c *Client) StarEpisode(episodeID uint, starred bool) error {
	body := map[string]any{"starred": starred}
	return c.do("POST", fmt.Sprintf("/api/episodes/%d/star", episodeID), body, nil)
}
