package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/desertthunder/trackline/internal/models"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// listTracks serves GET /tracks?status=a,b&genre_id=&after_id=&limit=
func (s *Server) listTracks(c *gin.Context) {
	q, err := trackQuery(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	tracks, err := s.engine.List(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	if tracks == nil {
		tracks = []*models.Track{}
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d tracks", len(tracks)), tracks)
}

func trackQuery(c *gin.Context) (models.TrackQuery, error) {
	v := &models.ValidationError{}
	q := models.TrackQuery{Limit: defaultListLimit}

	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, ok := models.ParseStatus(strings.TrimSpace(part))
			if !ok {
				v.Add("status", fmt.Sprintf("unknown status %q", part))
				continue
			}
			q.Statuses = append(q.Statuses, st)
		}
	}
	if raw := c.Query("genre_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			v.Add("genre_id", "must be an integer")
		}
		q.GenreID = &id
	}
	if raw := c.Query("after_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			v.Add("after_id", "must be an integer")
		}
		q.AfterID = id
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			v.Add("limit", "must be a positive integer")
		}
		q.Limit = min(n, maxListLimit)
	}
	return q, v.OrNil()
}

func (s *Server) createTrack(c *gin.Context) {
	var req models.CreateTrackRequest
	if !s.bind(c, &req) {
		return
	}

	track, err := s.engine.Create(c.Request.Context(), req)
	switch {
	case err == nil:
		s.ok(c, http.StatusCreated, "Track created", track)
	case track != nil:
		// stored, but the auto start could not be dispatched
		s.ok(c, http.StatusCreated, "Track created but not queued: "+err.Error(), track)
	default:
		s.fail(c, err)
	}
}

func (s *Server) getTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	track, err := s.engine.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track found", track)
}

func (s *Server) deleteTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	if err := s.engine.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track deleted", nil)
}

func (s *Server) trackStatus(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	snap, err := s.engine.Status(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track status", snap)
}

func (s *Server) statusBulk(c *gin.Context) {
	var req models.StatusBulkRequest
	if !s.bind(c, &req) {
		return
	}
	snaps, err := s.engine.StatusBulk(c.Request.Context(), req.IDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d tracks", len(snaps)), snaps)
}

func (s *Server) startTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	var req models.StartRequest
	if !s.bind(c, &req) {
		return
	}

	res, err := s.engine.Start(c.Request.Context(), id, req.ForceRedownload)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track queued for processing", res)
}

func (s *Server) stopTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.Stop(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track stopped", res)
}

func (s *Server) retryTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.Retry(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Track queued for retry", res)
}

func (s *Server) uploadTrack(c *gin.Context) {
	id, ok := s.paramID(c, "id")
	if !ok {
		return
	}
	res, err := s.engine.Upload(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Upload queued", res)
}

// bulk answers 200 for any valid request; per-track rejections are reported as skipped.
func (s *Server) bulk(c *gin.Context) {
	var req models.BulkRequest
	if !s.bind(c, &req) {
		return
	}
	action, ok := models.ParseAction(req.Action)
	if !ok {
		v := &models.ValidationError{}
		v.Add("action", "must be one of start, stop, retry, delete")
		s.fail(c, v)
		return
	}

	res, err := s.engine.Bulk(c.Request.Context(), action, req.Filter())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, bulkMessage(res), res)
}

func (s *Server) bulkUpload(c *gin.Context) {
	var req models.BulkRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.BulkUpload(c.Request.Context(), req.Filter())
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, bulkMessage(res), res)
}

func bulkMessage(res *models.BulkResult) string {
	msg := fmt.Sprintf("Bulk %s: %d processed", res.Action, res.ProcessedCount)
	if n := len(res.Skipped); n > 0 {
		msg += fmt.Sprintf(", %d skipped", n)
	}
	return msg
}

func (s *Server) listGenres(c *gin.Context) {
	genres, err := s.engine.Genres(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if genres == nil {
		genres = []*models.Genre{}
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d genres", len(genres)), genres)
}

func (s *Server) createGenre(c *gin.Context) {
	var req models.GenreRequest
	if !s.bind(c, &req) {
		return
	}
	genre, err := s.engine.CreateGenre(c.Request.Context(), req.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusCreated, "Genre created", genre)
}

func (s *Server) beginImport(c *gin.Context) {
	var req models.ImportRequest
	if !s.bind(c, &req) {
		return
	}
	session, err := s.engine.BeginImport(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusAccepted, "Import queued", session)
}

func (s *Server) importProgress(c *gin.Context) {
	rec, err := s.engine.ImportProgress(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, rec.Message, rec)
}
