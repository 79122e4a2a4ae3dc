package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/trackline/internal/server"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
)

const authTimeout = 2 * time.Minute

// authCommand handles authentication operations
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:    "youtube",
				Aliases: []string{"yt"},
				Usage:   "Authorize uploads to YouTube with OAuth2 and store the token",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the consent URL instead of opening a browser",
					},
				},
				Action: r.AuthYouTube,
			},
			{
				Name:   "status",
				Usage:  "Check the stored YouTube token and the API health",
				Action: r.AuthStatus,
			},
		},
	}
}

// AuthYouTube runs the authorization code flow with a local callback server and writes the token file.
func (r *Runner) AuthYouTube(ctx context.Context, cmd *cli.Command) error {
	yt := r.config.Credentials.YouTube
	conf, err := services.YouTubeOAuthConfig(yt)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, conf, !cmd.Bool("no-browser"))
	if err != nil {
		return err
	}
	if err := shared.WriteToken(yt.TokenFile, token); err != nil {
		return err
	}

	r.writePlain("✓ YouTube authorized\n")
	r.writePlain("Token saved to: %s\n", yt.TokenFile)
	if token.RefreshToken == "" {
		r.writePlain("⚠ No refresh token was returned; uploads stop working when the access token expires.\n")
	}
	return nil
}

// doOAuth executes the OAuth2 authorization flow with a local HTTP server on the redirect URI's port.
func (r *Runner) doOAuth(ctx context.Context, conf *oauth2.Config, openBrowser bool) (*oauth2.Token, error) {
	redirect, err := url.Parse(conf.RedirectURL)
	if err != nil {
		return nil, fmt.Errorf("%w: redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(conf, state)
	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", redirect.Host, err)
	}
	httpServer := &http.Server{
		Handler:           server.CallbackRouter(handler, r.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Info("starting OAuth callback server", "addr", redirect.Host)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	if openBrowser {
		r.writePlain("→ Opening browser for YouTube authorization...\n")
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "err", err)
			openBrowser = false
		}
	}
	if !openBrowser {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", authTimeout)

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("server error: %w", err)
	case <-timeout.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, authTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, result.Error())
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrAuthFailed)
	}
	return result.Token, nil
}

// AuthStatus reports whether a YouTube token is stored and whether the API answers.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	yt := r.config.Credentials.YouTube
	token, err := shared.ReadToken(yt.TokenFile)
	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
		r.writePlain("YouTube: ✗ Not authenticated (run 'trackline auth youtube')\n")
	case err != nil:
		r.writePlain("YouTube: ✗ %v\n", err)
	case token.RefreshToken == "" && !token.Valid():
		r.writePlain("YouTube: ✗ Token expired at %s\n", token.Expiry.Format(time.RFC3339))
	default:
		r.writePlain("YouTube: ✓ Authenticated\n")
	}

	if err := r.api.Health(ctx); err != nil {
		r.writePlain("API: ✗ %s unreachable: %v\n", r.api.BaseURL(), err)
		return nil
	}
	return r.writePlain("API: ✓ %s is healthy\n", r.api.BaseURL())
}
