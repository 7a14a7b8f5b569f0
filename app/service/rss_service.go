package service

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"podcast-fusion/app/config"
	"podcast-fusion/app/logger"
	"podcast-fusion/app/model"

	"gorm.io/gorm"
	"resty.dev/v3"
)

// RSSService RSS解析服务，负责抓取订阅源并同步单集
type RSSService struct {
	db     *gorm.DB
	cfg    *config.Config
	log    *logger.Logger
	client *resty.Client
}

// NewRSSService 创建RSS服务
func NewRSSService(db *gorm.DB, cfg *config.Config, log *logger.Logger) *RSSService {
	client := resty.New()
	client.SetTimeout(time.Duration(cfg.RSS.Timeout) * time.Second)
	client.SetHeader("User-Agent", cfg.RSS.UserAgent)
	client.SetHeader("Accept", "application/rss+xml, application/xml, text/xml, */*")

	return &RSSService{
		db:     db,
		cfg:    cfg,
		log:    log,
		client: client,
	}
}

// rssDocument RSS 2.0文档（含itunes/podcast命名空间的常用扩展）
type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string     `xml:"title"`
	Link        string     `xml:"link"`
	Description string     `xml:"description"`
	Language    string     `xml:"language"`
	Author      string     `xml:"author"`
	Images      []rssImage `xml:"image"`
	Items       []rssItem  `xml:"item"`
}

// rssImage 同时兼容 <image><url>...</url></image> 和 <itunes:image href="..."/>
type rssImage struct {
	URL  string `xml:"url"`
	Href string `xml:"href,attr"`
}

func (i rssImage) value() string {
	if i.Href != "" {
		return i.Href
	}
	return i.URL
}

type rssItem struct {
	GUID        string        `xml:"guid"`
	Title       string        `xml:"title"`
	Link        string        `xml:"link"`
	Description string        `xml:"description"`
	PubDate     string        `xml:"pubDate"`
	Duration    string        `xml:"duration"`
	Enclosure   rssEnclosure  `xml:"enclosure"`
	Images      []rssImage    `xml:"image"`
	Transcript  rssURLElement `xml:"transcript"`
	Chapters    rssURLElement `xml:"chapters"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Length string `xml:"length,attr"`
}

type rssURLElement struct {
	URL string `xml:"url,attr"`
}

// FeedInfo 解析出的订阅源信息
type FeedInfo struct {
	Title       string
	Website     string
	Description string
	Author      string
	Language    string
	Image       string
	Episodes    []EpisodeInfo
}

// EpisodeInfo 解析出的单集信息
type EpisodeInfo struct {
	GUID          string
	Title         string
	Summary       string
	Link          string
	Published     *time.Time
	AudioURL      string
	AudioType     string
	AudioSize     int64
	Duration      int
	Image         string
	ChaptersURL   string
	TranscriptURL string
}

// ParseFeed 抓取并解析RSS
func (s *RSSService) ParseFeed(rssURL string) (*FeedInfo, error) {
	resp, err := s.client.R().Get(rssURL)
	if err != nil {
		return nil, fmt.Errorf("抓取RSS失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("抓取RSS失败，状态码: %d", resp.StatusCode())
	}

	var doc rssDocument
	if err := xml.Unmarshal(resp.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("解析RSS失败: %w", err)
	}

	ch := doc.Channel
	if ch.Title == "" && len(ch.Items) == 0 {
		return nil, fmt.Errorf("无效的RSS: 没有标题也没有条目")
	}

	info := &FeedInfo{
		Title:       strings.TrimSpace(ch.Title),
		Website:     strings.TrimSpace(ch.Link),
		Description: cleanHTML(ch.Description),
		Author:      strings.TrimSpace(ch.Author),
		Language:    strings.TrimSpace(ch.Language),
	}
	for _, img := range ch.Images {
		if v := img.value(); v != "" {
			info.Image = v
			break
		}
	}

	for _, item := range ch.Items {
		ep := s.extractEpisode(item)
		// 没有音频的条目不是播客单集，跳过
		if ep != nil && ep.AudioURL != "" {
			info.Episodes = append(info.Episodes, *ep)
		}
	}

	return info, nil
}

// extractEpisode 提取单集信息
func (s *RSSService) extractEpisode(item rssItem) *EpisodeInfo {
	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = strings.TrimSpace(item.Link)
	}
	if guid == "" {
		return nil
	}

	ep := &EpisodeInfo{
		GUID:          guid,
		Title:         strings.TrimSpace(item.Title),
		Summary:       cleanHTML(item.Description),
		Link:          strings.TrimSpace(item.Link),
		AudioURL:      item.Enclosure.URL,
		AudioType:     item.Enclosure.Type,
		Duration:      parseDuration(item.Duration),
		ChaptersURL:   item.Chapters.URL,
		TranscriptURL: item.Transcript.URL,
	}

	if ep.AudioType == "" {
		ep.AudioType = "audio/mpeg"
	}
	if size, err := strconv.ParseInt(item.Enclosure.Length, 10, 64); err == nil {
		ep.AudioSize = size
	}
	for _, img := range item.Images {
		if v := img.value(); v != "" {
			ep.Image = v
			break
		}
	}
	if t := parsePubDate(item.PubDate); t != nil {
		ep.Published = t
	}

	return ep
}

// CreateFeed 添加订阅：同步解析RSS并入库全部单集
func (s *RSSService) CreateFeed(rssURL string, tags []string) (*model.Feed, error) {
	info, err := s.ParseFeed(rssURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	tagsJSON, _ := json.Marshal(tags)

	feed := &model.Feed{
		RSSURL:       rssURL,
		Title:        info.Title,
		Website:      info.Website,
		Image:        info.Image,
		Description:  info.Description,
		Author:       info.Author,
		Language:     info.Language,
		Status:       model.FeedStatusActive,
		Tags:         string(tagsJSON),
		LastChecked:  &now,
		EpisodeCount: len(info.Episodes),
		UnreadCount:  len(info.Episodes),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(feed).Error; err != nil {
			return err
		}
		for _, epInfo := range info.Episodes {
			episode := buildEpisode(feed.ID, epInfo)
			if err := tx.Create(episode).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("添加订阅成功: %s, 单集数=%d", feed.Title, len(info.Episodes))
	return feed, nil
}

// RefreshFeed 刷新订阅：重新抓取RSS，按GUID补充新单集。
// 注册为refresh类型任务的执行器。
func (s *RSSService) RefreshFeed(ctx context.Context, task *model.Task, report ProgressFunc) (any, error) {
	var feed model.Feed
	if err := s.db.First(&feed, task.FeedID).Error; err != nil {
		return nil, fmt.Errorf("订阅不存在: %w", err)
	}

	report(10)

	info, err := s.ParseFeed(feed.RSSURL)
	now := time.Now()
	if err != nil {
		// 抓取失败记录在订阅上，供UI展示
		s.db.Model(&feed).Updates(map[string]any{
			"status":       model.FeedStatusError,
			"check_error":  err.Error(),
			"last_checked": &now,
		})
		return nil, err
	}

	report(50)

	newCount := 0
	for _, epInfo := range info.Episodes {
		var existing model.Episode
		err := s.db.Where("feed_id = ? AND guid = ?", feed.ID, epInfo.GUID).First(&existing).Error
		if err == gorm.ErrRecordNotFound {
			if cerr := s.db.Create(buildEpisode(feed.ID, epInfo)).Error; cerr != nil {
				s.log.Errorf("写入新单集失败: feed=%d, guid=%s, 错误: %v", feed.ID, epInfo.GUID, cerr)
				continue
			}
			newCount++
		}
	}

	report(90)

	updates := map[string]any{
		"status":       model.FeedStatusActive,
		"check_error":  "",
		"last_checked": &now,
		"title":        info.Title,
		"image":        info.Image,
	}
	if newCount > 0 {
		updates["last_updated"] = &now
	}
	s.db.Model(&feed).Updates(updates)
	s.syncFeedCounts(feed.ID)

	s.log.Infof("刷新订阅完成: %s, 新增单集=%d", feed.Title, newCount)
	return map[string]any{"new_episodes": newCount}, nil
}

// syncFeedCounts 重算订阅的单集数与未读数
func (s *RSSService) syncFeedCounts(feedID uint) {
	var episodeCount, unreadCount int64
	s.db.Model(&model.Episode{}).Where("feed_id = ?", feedID).Count(&episodeCount)
	s.db.Model(&model.Episode{}).Where("feed_id = ? AND is_read = ?", feedID, false).Count(&unreadCount)
	s.db.Model(&model.Feed{}).Where("id = ?", feedID).Updates(map[string]any{
		"episode_count": episodeCount,
		"unread_count":  unreadCount,
	})
}

// buildEpisode 由解析结果构造单集记录
func buildEpisode(feedID uint, info EpisodeInfo) *model.Episode {
	return &model.Episode{
		FeedID:        feedID,
		GUID:          info.GUID,
		Title:         info.Title,
		Summary:       info.Summary,
		Link:          info.Link,
		Published:     info.Published,
		AudioURL:      info.AudioURL,
		AudioType:     info.AudioType,
		AudioSize:     info.AudioSize,
		Duration:      info.Duration,
		Image:         info.Image,
		ChaptersURL:   info.ChaptersURL,
		TranscriptURL: info.TranscriptURL,
		Status:        model.EpisodeStatusNew,
	}
}

// parsePubDate 解析RSS发布时间，兼容常见格式
func parsePubDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	formats := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, raw); err == nil {
			return &t
		}
	}
	return nil
}

// parseDuration 解析itunes:duration，支持秒数或 HH:MM:SS / MM:SS
func parseDuration(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}

	if !strings.Contains(raw, ":") {
		if secs, err := strconv.Atoi(raw); err == nil {
			return secs
		}
		return 0
	}

	parts := strings.Split(raw, ":")
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// cleanHTML 去掉描述里的HTML标签
func cleanHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
