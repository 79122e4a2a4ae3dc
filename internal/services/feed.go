package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

// feedItem accepts the field spellings seen in the wild.
type feedItem struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Genre    string `json:"genre"`
	AudioURL string `json:"audio_url"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url"`
	Cover    string `json:"cover"`
}

func (f feedItem) item() models.ImportItem {
	return models.ImportItem{
		Title:    strings.TrimSpace(firstNonEmpty(f.Title, f.Name)),
		Artist:   strings.TrimSpace(f.Artist),
		Genre:    strings.TrimSpace(f.Genre),
		SourceID: firstNonEmpty(f.SourceID, f.ID),
		AudioURL: firstNonEmpty(f.AudioURL, f.URL),
		ImageURL: firstNonEmpty(f.ImageURL, f.Cover),
	}
}

// FeedClient downloads JSON track feeds.
type FeedClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewFeedClient creates a feed client with the configured timeout.
func NewFeedClient(cfg shared.FeedConfig, limiter *rate.Limiter) *FeedClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &FeedClient{client: newClient("", timeout), limiter: limiter}
}

// Fetch downloads and parses the feed at url.
func (f *FeedClient) Fetch(ctx context.Context, url string) ([]models.ImportItem, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: feed url must be http or https", shared.ErrInvalidInput)
	}
	if err := throttle(ctx, f.limiter); err != nil {
		return nil, err
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return nil, requestError(ctx, "feed", err)
	}
	if resp.IsError() {
		return nil, responseError("feed", resp)
	}
	return ParseFeed(resp.Body())
}

// ParseFeed decodes a feed document. It accepts a bare array or an object with a
// "tracks" or "items" array.
func ParseFeed(data []byte) ([]models.ImportItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty feed", shared.ErrInvalidInput)
	}

	var raw []feedItem
	if data[0] == '[' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: malformed feed: %v", shared.ErrInvalidInput, err)
		}
	} else {
		var doc struct {
			Tracks []feedItem `json:"tracks"`
			Items  []feedItem `json:"items"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: malformed feed: %v", shared.ErrInvalidInput, err)
		}
		raw = append(doc.Tracks, doc.Items...)
	}

	items := make([]models.ImportItem, len(raw))
	for i, r := range raw {
		items[i] = r.item()
	}
	return items, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
