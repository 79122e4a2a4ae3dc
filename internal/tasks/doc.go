// Package tasks runs every track operation, on the request side and in the workers.
//
// # Request side
//
// [Engine] validates a request, applies the lifecycle transition with a version-checked write and
// enqueues the follow-up job. It never downloads or renders anything inline:
//
//  1. [Engine.Start], [Engine.Stop], [Engine.Retry] : single-track transitions
//     - Status is committed first, then the processing job is enqueued
//     - When the enqueue fails the previous state is restored and shared.ErrDispatch is returned
//
//  2. [Engine.Bulk] : the bulk coordinator
//     - Selects tracks by ids, statuses and genre, walking the table 100 rows at a time
//     - Applies the action per track and reports processed and skipped items with reasons
//     - Enqueued jobs share one batch so they can be cancelled together
//
//  3. [Engine.BeginImport] : accepts an import and returns the session id to poll
//
// # Workers
//
// Job handlers registered with the dispatcher:
//   - [Processor] : track.process, downloads media and renders the video
//   - [Uploader] : track.upload, uploads the rendered video to YouTube
//   - [Importer] : import.feed, creates tracks from a feed, Suno ids or inline items
//
// Handlers re-read the track before each write and stop as soon as it is no longer theirs to
// change: a stop, a delete or a forced restart all end a running job at its next step.
//
// # Recovery
//
// [Reconciler] re-enqueues pending tracks whose job was never published and purges expired
// progress records.
package tasks
