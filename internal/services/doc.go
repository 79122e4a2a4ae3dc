// Package services implements the HTTP clients trackline talks to.
//
// # Providers
//
// [SunoClient] resolves song metadata and media URLs from the Suno API.
// [FeedClient] fetches and parses JSON track feeds for imports.
// [Downloader] streams remote audio and cover art into the media store.
// [YouTubeUploader] uploads rendered videos through the YouTube Data API.
//
// All provider clients are built on resty and share a token bucket limiter ([NewLimiter]) so
// a busy worker pool cannot hammer a provider.
//
// # OAuth
//
// YouTube uses the authorization code flow. [YouTubeOAuthConfig] builds the [oauth2.Config]
// for the CLI auth command, and [SavingTokenSource] writes refreshed tokens back to the token file.
//
// # API Client
//
// [APIClient] talks to trackline's own HTTP API and is what the CLI and the progress watcher use.
//
// # Error Handling
//
// Errors wrap sentinels from the shared package:
//   - [shared.ErrServiceUnavailable] : network failures, 429 and 5xx responses; worth retrying ([IsRetryable])
//   - [shared.ErrAPIRequest] : any other non-2xx response
//   - [shared.ErrNotAuthenticated] : no YouTube token
package services
