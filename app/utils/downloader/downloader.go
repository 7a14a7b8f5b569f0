package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DownloadConfig 下载配置
type DownloadConfig struct {
	UserAgent     string                 // User-Agent
	Timeout       time.Duration          // 超时时间
	UseTemp       bool                   // 是否使用临时文件
	OverwriteFile bool                   // 是否覆盖已存在的文件
	OnProgress    func(downloaded, total int64) // 进度回调，total为0表示未知大小
}

// DefaultDownloadConfig 默认下载配置
func DefaultDownloadConfig() *DownloadConfig {
	return &DownloadConfig{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Timeout:   time.Minute * 30,
		UseTemp:   true,
	}
}

// DownloadResult 下载结果
type DownloadResult struct {
	Size     int64         // 下载的文件大小
	Duration time.Duration // 下载耗时
	Path     string        // 保存的文件路径
}

// progressWriter 包装写入，按块上报下载进度
type progressWriter struct {
	total      int64
	downloaded int64
	onProgress func(downloaded, total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	if w.onProgress != nil {
		w.onProgress(w.downloaded, w.total)
	}
	return len(p), nil
}

// DownloadFromURL 从URL下载文件到savePath
func DownloadFromURL(ctx context.Context, url, savePath string, config *DownloadConfig) (*DownloadResult, error) {
	if config == nil {
		config = DefaultDownloadConfig()
	}

	// 检查文件是否已存在
	if !config.OverwriteFile {
		if _, err := os.Stat(savePath); err == nil {
			return nil, fmt.Errorf("文件已存在: %s", savePath)
		}
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	req.Header.Set("User-Agent", config.UserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity") // 禁用压缩，避免 Content-Length 不匹配
	req.Header.Set("Connection", "keep-alive")

	client := &http.Client{
		Timeout: config.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			// 允许最多 10 次重定向
			if len(via) >= 10 {
				return fmt.Errorf("重定向次数过多")
			}
			req.Header.Set("User-Agent", config.UserAgent)
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("HTTP请求失败，状态码: %d, 响应: %s", resp.StatusCode, string(bodyBytes))
	}

	contentLength := resp.ContentLength

	// 确保保存目录存在
	if err := os.MkdirAll(filepath.Dir(savePath), 0755); err != nil {
		return nil, fmt.Errorf("创建保存目录失败: %w", err)
	}

	targetPath := savePath
	if config.UseTemp {
		targetPath = savePath + ".tmp"
	}

	file, err := os.Create(targetPath)
	if err != nil {
		return nil, fmt.Errorf("创建文件失败: %w", err)
	}
	defer func() {
		file.Close()
		if err != nil {
			os.Remove(targetPath)
		}
	}()

	startTime := time.Now()

	var writer io.Writer = file
	if config.OnProgress != nil {
		writer = io.MultiWriter(file, &progressWriter{
			total:      contentLength,
			onProgress: config.OnProgress,
		})
	}

	written, err := io.Copy(writer, resp.Body)
	if err != nil {
		return nil, fmt.Errorf("写入文件内容失败: %w", err)
	}

	if err = file.Sync(); err != nil {
		return nil, fmt.Errorf("刷新文件到磁盘失败: %w", err)
	}
	if err = file.Close(); err != nil {
		return nil, fmt.Errorf("关闭文件失败: %w", err)
	}

	// 验证文件大小（如果服务器提供了Content-Length）
	if contentLength > 0 && written != contentLength {
		os.Remove(targetPath)
		return nil, fmt.Errorf("下载不完整: 期望 %d bytes, 实际 %d bytes", contentLength, written)
	}

	if config.UseTemp {
		if err = os.Rename(targetPath, savePath); err != nil {
			os.Remove(targetPath)
			return nil, fmt.Errorf("重命名文件失败: %w", err)
		}
	}

	return &DownloadResult{
		Size:     written,
		Duration: time.Since(startTime),
		Path:     savePath,
	}, nil
}
