package models

import "encoding/json"

// Response is the JSON envelope of every API endpoint.
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    any               `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// RawResponse is [Response] with the payload left undecoded, for clients.
type RawResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// ActionResult is returned by single-track actions.
type ActionResult struct {
	Snapshot
	JobID string `json:"job_id,omitempty"`
}

// StartRequest is the body of POST /tracks/:id/start.
type StartRequest struct {
	ForceRedownload bool `json:"force_redownload"`
}

// BulkRequest is the body of POST /tracks/bulk and POST /uploads/bulk.
type BulkRequest struct {
	Action   string   `json:"action"`
	TrackIDs []int64  `json:"track_ids"`
	Statuses []Status `json:"statuses"`
	GenreID  *int64   `json:"genre_id"`
}

// Filter returns the selection part of the request.
func (r BulkRequest) Filter() BulkFilter {
	return BulkFilter{TrackIDs: r.TrackIDs, Statuses: r.Statuses, GenreID: r.GenreID}
}

// StatusBulkRequest is the body of POST /tracks/status-bulk.
type StatusBulkRequest struct {
	IDs []int64 `json:"ids"`
}

// JobIDsRequest selects failed jobs to retry or clear.
type JobIDsRequest struct {
	IDs []string `json:"ids"`
}

// CountResult reports how many items an operation touched.
type CountResult struct {
	Count int `json:"count"`
}

// CreateTrackRequest is the body of POST /tracks.
type CreateTrackRequest struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Genre       string `json:"genre,omitempty"`
	Source      Source `json:"source,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	AutoProcess bool   `json:"auto_process"`
}

// Track builds the pending track described by the request. The genre is resolved by the caller.
func (r CreateTrackRequest) Track() *Track {
	source := r.Source
	if source == "" {
		source = SourceManual
	}
	return &Track{
		Title:    r.Title,
		Artist:   r.Artist,
		Source:   source,
		SourceID: r.SourceID,
		AudioURL: r.AudioURL,
		ImageURL: r.ImageURL,
		Status:   StatusPending,
	}
}

// GenreRequest is the body of POST /genres.
type GenreRequest struct {
	Name string `json:"name"`
}
