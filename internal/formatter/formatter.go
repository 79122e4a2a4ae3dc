// package formatter renders API results for the terminal as tables, CSV or JSON
package formatter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/trackline/internal/models"
)

// Format is an output format.
type Format string

const (
	Text Format = "text"
	CSV  Format = "csv"
	JSON Format = "json"
)

// ParseFormat parses a --format value. The empty string means [Text].
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return Text, nil
	case Text, CSV, JSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, csv or json)", s)
	}
}

// grid is a header row plus data rows, written as a table or as CSV.
type grid struct {
	headers []string
	rows    [][]string
}

func (g grid) write(w io.Writer, f Format) error {
	if f == CSV {
		return writeCSV(w, g.headers, g.rows)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(g.headers...).
		Rows(g.rows...)
	_, err := fmt.Fprintln(w, t.String())
	return err
}

// writeCSV writes headers and rows with encoding/csv.
func writeCSV(w io.Writer, headers []string, rows [][]string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Tracks writes one row per track.
func Tracks(w io.Writer, f Format, tracks []models.Track) error {
	if f == JSON {
		return writeJSON(w, tracks)
	}
	g := grid{headers: []string{"ID", "Title", "Artist", "Genre", "Status", "Progress", "Video", "Error"}}
	for _, t := range tracks {
		genre := ""
		if t.GenreID != nil {
			genre = strconv.FormatInt(*t.GenreID, 10)
		}
		g.rows = append(g.rows, []string{
			strconv.FormatInt(t.ID, 10),
			t.Title,
			t.Artist,
			genre,
			string(t.Status),
			percent(t.Progress),
			deref(t.YouTubeVideoID),
			deref(t.ErrorMessage),
		})
	}
	return g.write(w, f)
}

// Snapshots writes one row per status snapshot.
func Snapshots(w io.Writer, f Format, snaps []models.Snapshot) error {
	if f == JSON {
		return writeJSON(w, snaps)
	}
	g := grid{headers: []string{"ID", "Title", "Status", "Progress", "Video", "Error"}}
	for _, s := range snaps {
		g.rows = append(g.rows, []string{
			strconv.FormatInt(s.ID, 10),
			s.Title,
			string(s.Status),
			percent(s.Progress),
			strconv.FormatBool(s.HasVideo),
			deref(s.ErrorMessage),
		})
	}
	return g.write(w, f)
}

// Bulk writes the processed and skipped tracks of a bulk action, processed first.
// Text output starts with a summary line.
func Bulk(w io.Writer, f Format, res *models.BulkResult) error {
	if f == JSON {
		return writeJSON(w, res)
	}

	g := grid{headers: []string{"ID", "Outcome", "Status", "Job", "Reason"}}
	for _, p := range res.Processed {
		g.rows = append(g.rows, []string{strconv.FormatInt(p.ID, 10), "processed", string(p.Status), p.JobID, ""})
	}
	for _, s := range res.Skipped {
		g.rows = append(g.rows, []string{strconv.FormatInt(s.ID, 10), "skipped", "", "", s.Reason})
	}

	if f == Text {
		if _, err := fmt.Fprintln(w, BulkSummary(res)); err != nil {
			return err
		}
		if len(g.rows) == 0 {
			return nil
		}
	}
	return g.write(w, f)
}

// BulkSummary is a one-line description of res.
func BulkSummary(res *models.BulkResult) string {
	msg := fmt.Sprintf("%s: %d processed, %d skipped", res.Action, res.ProcessedCount, len(res.Skipped))
	if res.BatchID != "" {
		msg += " (batch " + res.BatchID + ")"
	}
	return msg
}

// Jobs writes one row per job.
func Jobs(w io.Writer, f Format, jobs []models.Job) error {
	if f == JSON {
		return writeJSON(w, jobs)
	}
	g := grid{headers: []string{"ID", "Queue", "Type", "Track", "Attempts", "Error"}}
	for _, j := range jobs {
		track := ""
		if j.TrackID != nil {
			track = strconv.FormatInt(*j.TrackID, 10)
		}
		g.rows = append(g.rows, []string{
			j.ID,
			j.Queue,
			j.Type,
			track,
			fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
			deref(j.Error),
		})
	}
	return g.write(w, f)
}

// Batch writes the counters of a batch.
func Batch(w io.Writer, f Format, stats *models.BatchStats) error {
	if f == JSON {
		return writeJSON(w, stats)
	}
	name := stats.Name
	if stats.Cancelled {
		name += " (cancelled)"
	}
	return counts(w, f, []string{"Batch", "Name", "Progress"}, []string{stats.ID, name, percent(stats.Progress)}, stats.Jobs)
}

// Queue writes the counters of a queue.
func Queue(w io.Writer, f Format, stats *models.QueueStats) error {
	if f == JSON {
		return writeJSON(w, stats)
	}
	return counts(w, f, []string{"Queue", "Paused"}, []string{stats.Name, strconv.FormatBool(stats.Paused)}, stats.JobCounts)
}

func counts(w io.Writer, f Format, headers, values []string, c models.JobCounts) error {
	g := grid{
		headers: append(headers, "Total", "Pending", "Running", "Processed", "Failed", "Cancelled"),
		rows: [][]string{append(values,
			strconv.Itoa(c.Total),
			strconv.Itoa(c.Pending),
			strconv.Itoa(c.Running),
			strconv.Itoa(c.Processed),
			strconv.Itoa(c.Failed),
			strconv.Itoa(c.Cancelled),
		)},
	}
	return g.write(w, f)
}

// Progress writes an import progress record on one line, or as JSON.
func Progress(w io.Writer, f Format, rec *models.ProgressRecord) error {
	if f == JSON {
		return writeJSON(w, rec)
	}
	line := fmt.Sprintf("%s %s: %d/%d imported, %d failed", rec.Status, percent(rec.Percent()), rec.Imported, rec.Total, rec.Failed)
	if rec.Message != "" {
		line += " - " + rec.Message
	}
	if rec.Error != nil {
		line += " (error: " + *rec.Error + ")"
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func percent(n int) string {
	return strconv.Itoa(n) + "%"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
