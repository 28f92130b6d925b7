// Package sync provides the reconciler that drains the pending-op
// queue against the remote collaborator.
//
// The reconciler drives eventual, exactly-once delivery of local
// mutations:
//
//  1. Local writes enqueue pending ops (in the same transaction).
//  2. The daemon wakes the reconciler on every mutation, on media
//     spool activity, and on a periodic tick.
//  3. ProcessPendingOps lists due ops in global FIFO order, groups
//     them into per-entity lanes, and applies each op to the remote
//     backend. A failing op skips the remainder of its own lane only;
//     independent entities keep draining.
//  4. An op is cleared only after its remote effect is confirmed.
//     Transient failures keep the op queued with exponential backoff
//     and jitter. Terminal failures (missing local file, malformed
//     payload) move the op to the dead-letter table where it stays
//     queryable instead of being silently dropped.
//
// Media uploads are strictly ordered: the blob is uploaded and its
// remote content URL confirmed before any metadata referencing that
// URL is written.
//
// Op payloads are not snapshots. Each drain re-reads current local
// state, so replaying an op after further local edits re-syncs the
// newer state. This is safe because every remote write is an id-keyed
// overwrite (last-local-state-wins).
package sync
