package models

import (
	"strings"
	"time"
)

// Status is the processing state of a [Track].
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// Statuses lists every track status in display order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusStopped}

// ParseStatus validates s as a [Status].
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, true
		}
	}
	return "", false
}

// Source names where a track was registered from.
type Source string

const (
	SourceSuno   Source = "suno"
	SourceFeed   Source = "feed"
	SourceManual Source = "manual"
)

// Track is a catalog entry processed into media and uploaded to YouTube.
type Track struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Artist         string    `json:"artist"`
	GenreID        *int64    `json:"genre_id,omitempty"`
	Source         Source    `json:"source"`
	SourceID       string    `json:"source_id,omitempty"`
	AudioURL       string    `json:"audio_url,omitempty"`
	ImageURL       string    `json:"image_url,omitempty"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	ErrorMessage   *string   `json:"error_message"`
	AudioPath      *string   `json:"audio_path,omitempty"`
	ImagePath      *string   `json:"image_path,omitempty"`
	VideoPath      *string   `json:"video_path,omitempty"`
	YouTubeVideoID *string   `json:"youtube_video_id,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Validate checks the fields a track must carry before it is stored.
func (t *Track) Validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(t.Title) == "" {
		v.Add("title", "is required")
	}
	switch t.Source {
	case SourceSuno, SourceFeed, SourceManual:
	default:
		v.Add("source", "must be one of suno, feed, manual")
	}
	if t.Source == SourceSuno && t.SourceID == "" {
		v.Add("source_id", "is required for suno tracks")
	}
	if _, ok := ParseStatus(string(t.Status)); !ok {
		v.Add("status", "is not a known status")
	}
	if t.Progress < 0 || t.Progress > 100 {
		v.Add("progress", "must be between 0 and 100")
	}
	return v.OrNil()
}

// MediaPaths returns the non-empty media file paths of the track.
func (t *Track) MediaPaths() []string {
	var paths []string
	for _, p := range []*string{t.AudioPath, t.ImagePath, t.VideoPath} {
		if p != nil && *p != "" {
			paths = append(paths, *p)
		}
	}
	return paths
}

// ErrorText returns the error message or an empty string.
func (t *Track) ErrorText() string {
	if t.ErrorMessage == nil {
		return ""
	}
	return *t.ErrorMessage
}

// Snapshot is the status view of a track returned by status endpoints.
type Snapshot struct {
	ID           int64     `json:"id"`
	Title        string    `json:"title"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"`
	ErrorMessage *string   `json:"error_message"`
	HasVideo     bool      `json:"has_video"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Snapshot returns the status view of t.
func (t *Track) Snapshot() Snapshot {
	return Snapshot{
		ID:           t.ID,
		Title:        t.Title,
		Status:       t.Status,
		Progress:     t.Progress,
		ErrorMessage: t.ErrorMessage,
		HasVideo:     t.VideoPath != nil && *t.VideoPath != "",
		UpdatedAt:    t.UpdatedAt,
	}
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Genre groups tracks.
type Genre struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the genre name.
func (g *Genre) Validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(g.Name) == "" {
		v.Add("name", "is required")
	}
	return v.OrNil()
}

// TrackQuery filters track listings.
type TrackQuery struct {
	IDs      []int64
	Statuses []Status
	GenreID  *int64
	AfterID  int64
	Limit    int
}
