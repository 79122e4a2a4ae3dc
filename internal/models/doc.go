// Package models defines the entities shared by the trackline packages.
//
// Persistent entities:
//   - [Track] : the unit of work, with its processing [Status], progress and media paths
//   - [Genre] : grouping used by bulk filters
//   - [Job] : dispatcher bookkeeping for one enqueued unit of work
//   - [Batch] : a named group of jobs that can be cancelled and retried together
//
// Ephemeral records:
//   - [ProgressRecord] : TTL-bound snapshot of a long running import, polled by clients
//
// Request and response shapes for the HTTP API ([BulkFilter], [BulkResult], [Snapshot]) also live here
// so the server, the CLI client and the task engine agree on them.
package models
