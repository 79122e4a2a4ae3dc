package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/trackline/internal/shared"
)

const defaultSunoBaseURL = "https://studio-api.suno.ai"

// SunoMetadata holds the generation details of a clip.
type SunoMetadata struct {
	Tags     string  `json:"tags"`
	Prompt   string  `json:"prompt"`
	Duration float64 `json:"duration"`
}

// SunoSong is a clip as returned by the Suno feed endpoint.
type SunoSong struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	DisplayName   string       `json:"display_name"`
	Status        string       `json:"status"`
	AudioURL      string       `json:"audio_url"`
	ImageURL      string       `json:"image_url"`
	ImageLargeURL string       `json:"image_large_url"`
	Metadata      SunoMetadata `json:"metadata"`
}

// Ready reports whether the clip finished generating and has audio.
func (s *SunoSong) Ready() bool {
	return s.Status == "complete" && s.AudioURL != ""
}

// Cover returns the best available cover image URL.
func (s *SunoSong) Cover() string {
	if s.ImageLargeURL != "" {
		return s.ImageLargeURL
	}
	return s.ImageURL
}

// SunoClient reads songs from the Suno API.
type SunoClient struct {
	client  *resty.Client
	limiter *rate.Limiter
}

// NewSunoClient creates a client for cfg. An empty base URL uses the public API.
func NewSunoClient(cfg shared.SunoConfig, limiter *rate.Limiter) *SunoClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultSunoBaseURL
	}

	client := newClient(baseURL, defaultTimeout)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &SunoClient{client: client, limiter: limiter}
}

// GetSong fetches one song by id. An unknown id wraps [shared.ErrTrackNotFound].
func (s *SunoClient) GetSong(ctx context.Context, id string) (*SunoSong, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: suno song id", shared.ErrMissingArgument)
	}

	songs, err := s.GetSongs(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	for i := range songs {
		if songs[i].ID == id {
			return &songs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: suno song %s", shared.ErrTrackNotFound, id)
}

// GetSongs fetches several songs in one request. Unknown ids are left out of the result.
func (s *SunoClient) GetSongs(ctx context.Context, ids []string) ([]SunoSong, error) {
	if err := throttle(ctx, s.limiter); err != nil {
		return nil, err
	}

	var songs []SunoSong
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("ids", strings.Join(ids, ",")).
		SetResult(&songs).
		Get("/api/feed/")
	if err != nil {
		return nil, requestError(ctx, "suno", err)
	}
	if resp.IsError() {
		return nil, responseError("suno", resp)
	}
	return songs, nil
}
