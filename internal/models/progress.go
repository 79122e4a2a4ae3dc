package models

// ProgressStatus is the state of a long running operation.
type ProgressStatus string

const (
	ProgressStarting  ProgressStatus = "starting"
	ProgressRunning   ProgressStatus = "running"
	ProgressCompleted ProgressStatus = "completed"
	ProgressFailed    ProgressStatus = "failed"
)

// ProgressRecord is the polled snapshot of an import session.
type ProgressRecord struct {
	Status   ProgressStatus `json:"status"`
	Progress int            `json:"progress"`
	Imported int            `json:"imported"`
	Failed   int            `json:"failed"`
	Total    int            `json:"total"`
	Message  string         `json:"message"`
	Error    *string        `json:"error"`
}

// Terminal reports whether the operation has finished.
func (r ProgressRecord) Terminal() bool {
	return r.Status == ProgressCompleted || r.Status == ProgressFailed
}

// Percent derives progress from the counters when a total is known.
func (r ProgressRecord) Percent() int {
	if r.Total <= 0 {
		return r.Progress
	}
	pct := (r.Imported + r.Failed) * 100 / r.Total
	if pct > 100 {
		pct = 100
	}
	return pct
}
