package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/desertthunder/trackline/internal/models"
	"github.com/desertthunder/trackline/internal/shared"
)

var errRouteNotFound = errors.New("route not found")

// StatusOf maps an error to the HTTP status reported for it.
func StatusOf(err error) int {
	var v *models.ValidationError
	switch {
	case errors.As(err, &v),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidArgument),
		errors.Is(err, shared.ErrMissingArgument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errRouteNotFound),
		errors.Is(err, shared.ErrTrackNotFound),
		errors.Is(err, shared.ErrGenreNotFound),
		errors.Is(err, shared.ErrJobNotFound),
		errors.Is(err, shared.ErrBatchNotFound),
		errors.Is(err, shared.ErrProgressNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrDispatch), errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) ok(c *gin.Context, status int, msg string, data any) {
	c.JSON(status, models.Response{Success: true, Message: msg, Data: data})
}

// fail writes the error envelope. Server errors keep their text only in debug mode.
func (s *Server) fail(c *gin.Context, err error) {
	status := StatusOf(err)
	resp := models.Response{Success: false, Message: err.Error()}

	var v *models.ValidationError
	if errors.As(err, &v) {
		resp.Message = "validation failed"
		resp.Errors = v.Fields
	}
	if status >= http.StatusInternalServerError && !s.debug {
		resp.Message = genericMessage(status)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}

func genericMessage(status int) string {
	if status == http.StatusServiceUnavailable {
		return "The service is temporarily unavailable, try again later"
	}
	return "An internal error occurred"
}

func (s *Server) onPanic(c *gin.Context, recovered any) {
	s.fail(c, fmt.Errorf("panic: %v", recovered))
}

// bind decodes the JSON body into v. An empty body leaves v untouched.
func (s *Server) bind(c *gin.Context, v any) bool {
	err := c.ShouldBindJSON(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	verr := &models.ValidationError{}
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &typ):
		verr.Add(typ.Field, fmt.Sprintf("must be %s", typ.Type))
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		verr.Add("body", "is not valid JSON")
	default:
		verr.Add("body", err.Error())
	}
	s.fail(c, verr)
	return false
}

// paramID parses the named path parameter as a positive id.
func (s *Server) paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		verr := &models.ValidationError{}
		verr.Add(name, "must be a positive integer")
		s.fail(c, verr)
		return 0, false
	}
	return id, true
}
