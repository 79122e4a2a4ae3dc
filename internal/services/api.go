// Client for trackline's own HTTP API
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

const defaultAPIBaseURL = "http://127.0.0.1:8420"

// APIError is a failed API call. It carries the envelope message and field errors.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode >= 500 {
		return shared.ErrServiceUnavailable
	}
	return shared.ErrAPIRequest
}

// APIClient calls the trackline HTTP API.
type APIClient struct {
	client *resty.Client
}

// NewAPIClient creates a client for the server at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	return &APIClient{client: newClient(baseURL, defaultTimeout)}
}

// BaseURL returns the server address the client talks to.
func (a *APIClient) BaseURL() string {
	return a.client.BaseURL
}

// do sends a request and decodes the envelope data into out when out is not nil.
func (a *APIClient) do(ctx context.Context, method, path string, body, out any, query map[string]string) error {
	var env models.RawResponse
	req := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&env).
		SetError(&env)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return requestError(ctx, "trackline", err)
	}
	if resp.IsError() || !env.Success {
		return &APIError{StatusCode: resp.StatusCode(), Message: env.Message, Fields: env.Errors}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Health checks that the server is up.
func (a *APIClient) Health(ctx context.Context) error {
	return a.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// ListTracks lists tracks, optionally filtered by status and genre.
func (a *APIClient) ListTracks(ctx context.Context, statuses []models.Status, genreID *int64, limit int) ([]models.Track, error) {
	query := map[string]string{}
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		query["status"] = strings.Join(parts, ",")
	}
	if genreID != nil {
		query["genre_id"] = strconv.FormatInt(*genreID, 10)
	}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}

	var tracks []models.Track
	if err := a.do(ctx, http.MethodGet, "/tracks", nil, &tracks, query); err != nil {
		return nil, err
	}
	return tracks, nil
}

// CreateTrack registers a new pending track.
func (a *APIClient) CreateTrack(ctx context.Context, req models.CreateTrackRequest) (*models.Track, error) {
	var created models.Track
	if err := a.do(ctx, http.MethodPost, "/tracks", req, &created, nil); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTrack fetches one track.
func (a *APIClient) GetTrack(ctx context.Context, id int64) (*models.Track, error) {
	var track models.Track
	if err := a.do(ctx, http.MethodGet, trackPath(id, ""), nil, &track, nil); err != nil {
		return nil, err
	}
	return &track, nil
}

// DeleteTrack removes a track and its media.
func (a *APIClient) DeleteTrack(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodDelete, trackPath(id, ""), nil, nil, nil)
}

// StartTrack queues a track for processing.
func (a *APIClient) StartTrack(ctx context.Context, id int64, force bool) (*models.ActionResult, error) {
	return a.action(ctx, id, "start", models.StartRequest{ForceRedownload: force})
}

// StopTrack stops a pending or processing track.
func (a *APIClient) StopTrack(ctx context.Context, id int64) (*models.ActionResult, error) {
	return a.action(ctx, id, "stop", nil)
}

// RetryTrack requeues a failed track.
func (a *APIClient) RetryTrack(ctx context.Context, id int64) (*models.ActionResult, error) {
	return a.action(ctx, id, "retry", nil)
}

// UploadTrack queues the upload of a completed track.
func (a *APIClient) UploadTrack(ctx context.Context, id int64) (*models.ActionResult, error) {
	return a.action(ctx, id, "upload", nil)
}

func (a *APIClient) action(ctx context.Context, id int64, name string, body any) (*models.ActionResult, error) {
	var result models.ActionResult
	if err := a.do(ctx, http.MethodPost, trackPath(id, name), body, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// TrackStatus returns the status snapshot of a track.
func (a *APIClient) TrackStatus(ctx context.Context, id int64) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := a.do(ctx, http.MethodGet, trackPath(id, "status"), nil, &snap, nil); err != nil {
		return nil, err
	}
	return &snap, nil
}

// StatusBulk returns the snapshots of several tracks.
func (a *APIClient) StatusBulk(ctx context.Context, ids []int64) ([]models.Snapshot, error) {
	var snaps []models.Snapshot
	if err := a.do(ctx, http.MethodPost, "/tracks/status-bulk", models.StatusBulkRequest{IDs: ids}, &snaps, nil); err != nil {
		return nil, err
	}
	return snaps, nil
}

// Bulk applies action to the tracks selected by filter.
func (a *APIClient) Bulk(ctx context.Context, action models.Action, filter models.BulkFilter) (*models.BulkResult, error) {
	body := models.BulkRequest{Action: string(action), TrackIDs: filter.TrackIDs, Statuses: filter.Statuses, GenreID: filter.GenreID}
	var result models.BulkResult
	if err := a.do(ctx, http.MethodPost, "/tracks/bulk", body, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// BulkUpload queues uploads for the completed tracks selected by filter.
func (a *APIClient) BulkUpload(ctx context.Context, filter models.BulkFilter) (*models.BulkResult, error) {
	body := models.BulkRequest{TrackIDs: filter.TrackIDs, Statuses: filter.Statuses, GenreID: filter.GenreID}
	var result models.BulkResult
	if err := a.do(ctx, http.MethodPost, "/uploads/bulk", body, &result, nil); err != nil {
		return nil, err
	}
	return &result, nil
}

// Import starts an import session.
func (a *APIClient) Import(ctx context.Context, req models.ImportRequest) (*models.ImportSession, error) {
	var session models.ImportSession
	if err := a.do(ctx, http.MethodPost, "/import", req, &session, nil); err != nil {
		return nil, err
	}
	return &session, nil
}

// ImportProgress polls an import session.
func (a *APIClient) ImportProgress(ctx context.Context, sessionID string) (*models.ProgressRecord, error) {
	var rec models.ProgressRecord
	if err := a.do(ctx, http.MethodGet, "/import/progress/"+sessionID, nil, &rec, nil); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Genres lists every genre.
func (a *APIClient) Genres(ctx context.Context) ([]models.Genre, error) {
	var genres []models.Genre
	if err := a.do(ctx, http.MethodGet, "/genres", nil, &genres, nil); err != nil {
		return nil, err
	}
	return genres, nil
}

// CreateGenre adds a genre.
func (a *APIClient) CreateGenre(ctx context.Context, name string) (*models.Genre, error) {
	var genre models.Genre
	if err := a.do(ctx, http.MethodPost, "/genres", models.GenreRequest{Name: name}, &genre, nil); err != nil {
		return nil, err
	}
	return &genre, nil
}

// QueueStats returns the counters of a queue.
func (a *APIClient) QueueStats(ctx context.Context, queue string) (*models.QueueStats, error) {
	var stats models.QueueStats
	if err := a.do(ctx, http.MethodGet, "/queues/"+queue, nil, &stats, nil); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PauseQueue stops workers from taking jobs of queue.
func (a *APIClient) PauseQueue(ctx context.Context, queue string) error {
	return a.do(ctx, http.MethodPost, "/queues/"+queue+"/pause", nil, nil, nil)
}

// ResumeQueue lets workers take jobs of queue again.
func (a *APIClient) ResumeQueue(ctx context.Context, queue string) error {
	return a.do(ctx, http.MethodPost, "/queues/"+queue+"/resume", nil, nil, nil)
}

// FailedJobs lists failed jobs, optionally for one queue.
func (a *APIClient) FailedJobs(ctx context.Context, queue string) ([]models.Job, error) {
	var query map[string]string
	if queue != "" {
		query = map[string]string{"queue": queue}
	}
	var jobs []models.Job
	if err := a.do(ctx, http.MethodGet, "/jobs/failed", nil, &jobs, query); err != nil {
		return nil, err
	}
	return jobs, nil
}

// RetryJobs requeues failed jobs.
func (a *APIClient) RetryJobs(ctx context.Context, ids []string) (int, error) {
	var res models.CountResult
	err := a.do(ctx, http.MethodPost, "/jobs/failed/retry", models.JobIDsRequest{IDs: ids}, &res, nil)
	return res.Count, err
}

// ClearJobs deletes failed jobs. No ids clears all of them.
func (a *APIClient) ClearJobs(ctx context.Context, ids []string) (int, error) {
	var res models.CountResult
	err := a.do(ctx, http.MethodPost, "/jobs/failed/clear", models.JobIDsRequest{IDs: ids}, &res, nil)
	return res.Count, err
}

// Batch returns a batch with its counters.
func (a *APIClient) Batch(ctx context.Context, id string) (*models.BatchStats, error) {
	var stats models.BatchStats
	if err := a.do(ctx, http.MethodGet, "/batches/"+id, nil, &stats, nil); err != nil {
		return nil, err
	}
	return &stats, nil
}

// CancelBatch cancels a batch.
func (a *APIClient) CancelBatch(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPost, "/batches/"+id+"/cancel", nil, nil, nil)
}

// RetryBatch requeues the failed jobs of a batch.
func (a *APIClient) RetryBatch(ctx context.Context, id string) (int, error) {
	var res models.CountResult
	err := a.do(ctx, http.MethodPost, "/batches/"+id+"/retry", nil, &res, nil)
	return res.Count, err
}

func trackPath(id int64, action string) string {
	path := "/tracks/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}
