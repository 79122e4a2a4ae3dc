// Package repositories implements SQLite persistence for all domain entities.
//
// Key Implementations:
//   - [TrackRepository] : tracks with optimistic concurrency on status writes and keyset chunking
//   - [GenreRepository] : genres, created on demand by imports
//   - [JobRepository] : dispatcher bookkeeping, the source of batch and queue counts
//   - [BatchRepository] : job groups with a per-table sequence number
//   - [ProgressRepository] : TTL progress records shared between processes
//
// User facing status writes go through [TrackRepository.Update], which compares the version column and
// fails with [shared.ErrConflict] when another writer got there first. Worker progress writes use
// [TrackRepository.UpdateProgress], guarded by status and the version the worker claimed so a stop
// or a restart always wins.
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
