package server

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/desertthunder/trackline/internal/shared"
)

const callbackPath = "/callback"

// OAuthResult is the outcome of one authorization code callback.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler receives the YouTube authorization code callback and exchanges the code.
// Only the first callback counts; later ones get 400.
type OAuthHandler struct {
	router  *gin.Engine
	config  *oauth2.Config
	state   string
	handled atomic.Bool
	once    sync.Once
	results chan OAuthResult
}

// NewOAuthHandler creates a handler for config. state must be unguessable.
func NewOAuthHandler(config *oauth2.Config, state string) *OAuthHandler {
	h := &OAuthHandler{
		router:  gin.New(),
		config:  config,
		state:   state,
		results: make(chan OAuthResult, 1),
	}
	h.router.GET(callbackPath, h.callback)
	return h
}

// Routes returns the paths the callback is served on.
func (h *OAuthHandler) Routes() []string {
	return []string{callbackPath}
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *OAuthHandler) callback(c *gin.Context) {
	if !h.handled.CompareAndSwap(false, true) {
		c.String(http.StatusBadRequest, "Callback already processed")
		return
	}

	if c.Query("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("%w: state parameter does not match", shared.ErrAuthFailed)})
		c.String(http.StatusBadRequest, "Invalid state parameter")
		return
	}

	code := c.Query("code")
	if code == "" {
		h.Send(OAuthResult{err: fmt.Errorf("%w: %s %s", shared.ErrAuthFailed, c.Query("error"), c.Query("error_description"))})
		c.String(http.StatusBadRequest, "Authorization failed")
		return
	}

	token, err := h.config.Exchange(c.Request.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		c.String(http.StatusInternalServerError, "Token exchange failed")
		return
	}

	h.Send(OAuthResult{Token: token})
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(callbackPage))
}

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>trackline</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
    <h1>YouTube connected</h1>
    <p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// Send delivers result to [OAuthHandler.Result]. Calls after the first are dropped.
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.results <- result
		close(h.results)
	})
}

// Result yields exactly one result and is then closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

// CallbackRouter serves h on every route it declares, with request logging.
func CallbackRouter(h Handler, logger *log.Logger) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(logger), gin.Recovery())
	for _, route := range h.Routes() {
		r.GET(route, gin.WrapH(h))
	}
	return r
}
