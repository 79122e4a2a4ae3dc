// YouTube Data API upload client
//
// Videos are sent as a single multipart/related request: the JSON resource first, then the media.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/trackline/internal/shared"
)

const (
	youtubeAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	youtubeTokenURL    = "https://oauth2.googleapis.com/token"
	youtubeUploadScope = "https://www.googleapis.com/auth/youtube.upload"
	defaultUploadURL   = "https://www.googleapis.com/upload/youtube/v3/videos"
	musicCategoryID    = "10"
)

// YouTubeOAuthConfig builds the OAuth client configuration for uploads.
func YouTubeOAuthConfig(cfg shared.YouTubeConfig) (*oauth2.Config, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: youtube client_id and client_secret are required", shared.ErrMissingCredentials)
	}

	redirectURI := cfg.RedirectURI
	if redirectURI == "" {
		redirectURI = "http://localhost:8421/callback"
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       []string{youtubeUploadScope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  youtubeAuthURL,
			TokenURL: youtubeTokenURL,
		},
	}, nil
}

// SavingTokenSource wraps src and writes every new token to path.
type SavingTokenSource struct {
	src  oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

// NewSavingTokenSource refreshes token through conf and persists refreshed tokens to path.
func NewSavingTokenSource(ctx context.Context, conf *oauth2.Config, token *oauth2.Token, path string) *SavingTokenSource {
	return &SavingTokenSource{
		src:  conf.TokenSource(ctx, token),
		path: path,
		last: token.AccessToken,
	}
}

func (s *SavingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := shared.WriteToken(s.path, token); err != nil {
			return nil, err
		}
		s.last = token.AccessToken
	}
	return token, nil
}

// Video describes the resource created by an upload.
type Video struct {
	Title       string
	Description string
	Tags        []string
	Privacy     string
}

type videoResource struct {
	Snippet struct {
		Title       string   `json:"title"`
		Description string   `json:"description,omitempty"`
		Tags        []string `json:"tags,omitempty"`
		CategoryID  string   `json:"categoryId"`
	} `json:"snippet"`
	Status struct {
		PrivacyStatus string `json:"privacyStatus"`
	} `json:"status"`
}

// YouTubeUploader uploads videos with an OAuth authorized client.
type YouTubeUploader struct {
	client    *resty.Client
	uploadURL string
	privacy   string
	limiter   *rate.Limiter
}

// NewYouTubeUploader creates an uploader whose requests are authorized by ts.
func NewYouTubeUploader(ctx context.Context, cfg shared.YouTubeConfig, ts oauth2.TokenSource, limiter *rate.Limiter) *YouTubeUploader {
	uploadURL := cfg.UploadURL
	if uploadURL == "" {
		uploadURL = defaultUploadURL
	}
	privacy := cfg.Privacy
	if privacy == "" {
		privacy = "private"
	}

	client := resty.NewWithClient(oauth2.NewClient(ctx, ts)).SetHeader("User-Agent", userAgent)
	return &YouTubeUploader{client: client, uploadURL: uploadURL, privacy: privacy, limiter: limiter}
}

// Upload sends media as a new video and returns its id.
func (u *YouTubeUploader) Upload(ctx context.Context, video Video, media io.Reader) (string, error) {
	if video.Title == "" {
		return "", fmt.Errorf("%w: video title", shared.ErrMissingArgument)
	}
	if err := throttle(ctx, u.limiter); err != nil {
		return "", err
	}

	var resource videoResource
	resource.Snippet.Title = truncate(video.Title, 100)
	resource.Snippet.Description = video.Description
	resource.Snippet.Tags = video.Tags
	resource.Snippet.CategoryID = musicCategoryID
	resource.Status.PrivacyStatus = video.Privacy
	if resource.Status.PrivacyStatus == "" {
		resource.Status.PrivacyStatus = u.privacy
	}

	body, contentType := multipartRelated(resource, media)
	defer body.Close()

	var result struct {
		ID string `json:"id"`
	}
	resp, err := u.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"uploadType": "multipart", "part": "snippet,status"}).
		SetHeader("Content-Type", contentType).
		SetBody(body).
		SetResult(&result).
		Post(u.uploadURL)
	if err != nil {
		return "", requestError(ctx, "youtube", err)
	}
	if resp.IsError() {
		return "", responseError("youtube", resp)
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: youtube response has no video id", shared.ErrAPIRequest)
	}
	return result.ID, nil
}

// multipartRelated streams the resource and media parts through a pipe.
func multipartRelated(resource any, media io.Reader) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
			if err != nil {
				return err
			}
			if err := json.NewEncoder(part).Encode(resource); err != nil {
				return err
			}

			part, err = mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"video/*"}})
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, media); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, "multipart/related; boundary=" + mw.Boundary()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
