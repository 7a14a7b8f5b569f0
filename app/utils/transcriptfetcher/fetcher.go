package transcriptfetcher

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"resty.dev/v3"
)

// 官方字幕抓取。部分播客在RSS里带 <podcast:transcript> 链接，
// 能拿到官方字幕就不必再走语音转录。

var (
	srtIndexRe  = regexp.MustCompile(`^\d+$`)
	timestampRe = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3}`)
	vttTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// Fetch 下载并解析官方字幕，返回纯文本和来源标识
func Fetch(url, userAgent string) (text string, source string, err error) {
	client := resty.New()
	client.SetTimeout(60 * time.Second)

	resp, err := client.R().
		SetHeader("User-Agent", userAgent).
		Get(url)
	if err != nil {
		return "", "", fmt.Errorf("下载字幕失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", "", fmt.Errorf("下载字幕失败，状态码: %d", resp.StatusCode())
	}

	body := resp.String()
	if strings.TrimSpace(body) == "" {
		return "", "", fmt.Errorf("字幕内容为空")
	}

	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, ".srt"):
		return parseCues(body), "official_srt", nil
	case strings.Contains(lower, ".vtt") || strings.HasPrefix(strings.TrimSpace(body), "WEBVTT"):
		return parseCues(body), "official_vtt", nil
	default:
		return strings.TrimSpace(body), "official", nil
	}
}

// parseCues 把SRT/VTT字幕剥离为纯文本
func parseCues(body string) string {
	var parts []string

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "WEBVTT" {
			continue
		}
		if srtIndexRe.MatchString(line) {
			continue
		}
		if timestampRe.MatchString(line) {
			continue
		}
		if strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") {
			continue
		}
		line = vttTagRe.ReplaceAllString(line, "")
		if line != "" {
			parts = append(parts, line)
		}
	}

	return strings.Join(parts, " ")
}
