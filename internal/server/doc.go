// Package server exposes the track catalog over HTTP and handles the OAuth callback of the CLI
// authorization flow.
//
// # API
//
// [Server] is a gin engine whose handlers are thin: they bind the request, call the
// tasks.Engine or the queue.Dispatcher and wrap the result in a [models.Response] envelope.
// Nothing media related happens on the request path; actions that need work enqueue a job.
//
// Errors are mapped to status codes by [StatusOf]:
//
//   - validation and malformed input: 422 with per-field errors
//   - unknown tracks, genres, batches, jobs and progress sessions: 404
//   - transitions the lifecycle rejects: 422
//   - version conflicts: 409
//   - dispatch failures: 503
//   - anything else: 500
//
// Outside debug mode the message of a 5xx response is replaced by a generic one; the error is
// logged by the request logger instead.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the authorization code callback. It validates the state parameter,
// exchanges the code for a token and sends the result through a channel. Only the first callback
// is processed. `trackline auth youtube` serves it with [CallbackRouter] on the host of the
// configured redirect URI and shuts the listener down once a token arrived.
package server
