package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/desertthunder/trackline/internal/models"
)

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.dispatcher.QueueStats(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Queue stats", stats)
}

func (s *Server) pauseQueue(c *gin.Context) {
	name := c.Param("name")
	if err := s.dispatcher.Pause(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("Queue %s paused", name), nil)
}

func (s *Server) resumeQueue(c *gin.Context) {
	name := c.Param("name")
	if err := s.dispatcher.Resume(c.Request.Context(), name); err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("Queue %s resumed", name), nil)
}

func (s *Server) batchStats(c *gin.Context) {
	stats, err := s.dispatcher.BatchStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, "Batch stats", stats)
}

func (s *Server) cancelBatch(c *gin.Context) {
	res, err := s.dispatcher.CancelBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("Batch cancelled: %d queued, %d running", res.Queued, res.Running), res)
}

func (s *Server) retryBatch(c *gin.Context) {
	n, err := s.dispatcher.RetryBatchFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d jobs requeued", n), models.CountResult{Count: n})
}

func (s *Server) failedJobs(c *gin.Context) {
	jobs, err := s.dispatcher.Failed(c.Request.Context(), c.Query("queue"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d failed jobs", len(jobs)), jobs)
}

func (s *Server) retryJobs(c *gin.Context) {
	var req models.JobIDsRequest
	if !s.bind(c, &req) {
		return
	}
	if len(req.IDs) == 0 {
		v := &models.ValidationError{}
		v.Add("ids", "at least one job id is required")
		s.fail(c, v)
		return
	}

	n, err := s.dispatcher.RetryFailed(c.Request.Context(), req.IDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d jobs requeued", n), models.CountResult{Count: n})
}

// clearJobs deletes the given failed jobs, or all of them when no ids are sent.
func (s *Server) clearJobs(c *gin.Context) {
	var req models.JobIDsRequest
	if !s.bind(c, &req) {
		return
	}
	n, err := s.dispatcher.ClearFailed(c.Request.Context(), req.IDs)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, http.StatusOK, fmt.Sprintf("%d jobs cleared", n), models.CountResult{Count: n})
}
