package models

// Action is a user requested transition applied by the bulk coordinator.
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionRetry  Action = "retry"
	ActionDelete Action = "delete"
	// ActionUpload is only produced by bulk uploads; ParseAction rejects it.
	ActionUpload Action = "upload"
)

// ParseAction validates s as an [Action].
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionStart, ActionStop, ActionRetry, ActionDelete:
		return a, true
	}
	return "", false
}

// BulkFilter selects the tracks of a bulk operation.
type BulkFilter struct {
	TrackIDs []int64  `json:"track_ids,omitempty"`
	Statuses []Status `json:"statuses,omitempty"`
	GenreID  *int64   `json:"genre_id,omitempty"`
}

// Empty reports whether no criterion is set.
func (f BulkFilter) Empty() bool {
	return len(f.TrackIDs) == 0 && len(f.Statuses) == 0 && f.GenreID == nil
}

// BulkItem is the outcome for one track of a bulk operation.
type BulkItem struct {
	ID     int64  `json:"id"`
	Status Status `json:"status,omitempty"`
	JobID  string `json:"job_id,omitempty"`
}

// SkippedItem is a track the bulk operation did not touch.
type SkippedItem struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// BulkResult aggregates a bulk operation.
type BulkResult struct {
	Action         Action        `json:"action"`
	BatchID        string        `json:"batch_id,omitempty"`
	ProcessedCount int           `json:"processed_count"`
	Processed      []BulkItem    `json:"processed"`
	Skipped        []SkippedItem `json:"skipped"`
}

// Add records a processed track.
func (r *BulkResult) Add(item BulkItem) {
	r.Processed = append(r.Processed, item)
	r.ProcessedCount = len(r.Processed)
}

// Skip records a track that was left untouched.
func (r *BulkResult) Skip(id int64, reason string) {
	r.Skipped = append(r.Skipped, SkippedItem{ID: id, Reason: reason})
}

// ImportItem is one track described inline or by a feed.
type ImportItem struct {
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Genre    string `json:"genre,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ImportRequest starts an import session.
type ImportRequest struct {
	FeedURL     string       `json:"feed_url,omitempty"`
	SunoIDs     []string     `json:"suno_ids,omitempty"`
	Items       []ImportItem `json:"items,omitempty"`
	Genre       string       `json:"genre,omitempty"`
	AutoProcess bool         `json:"auto_process"`
}

// Validate requires exactly one kind of input.
func (r *ImportRequest) Validate() error {
	v := &ValidationError{}
	kinds := 0
	if r.FeedURL != "" {
		kinds++
	}
	if len(r.SunoIDs) > 0 {
		kinds++
	}
	if len(r.Items) > 0 {
		kinds++
	}
	if kinds != 1 {
		v.Add("source", "provide exactly one of feed_url, suno_ids, items")
	}
	return v.OrNil()
}

// ImportSession is returned when an import is accepted.
type ImportSession struct {
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id"`
}
