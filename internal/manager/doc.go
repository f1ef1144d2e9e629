// Package manager is the model-swap cache. It keeps at most one resident
// pipeline per task bucket of the active model family and decides, on every
// request, whether the bucket's pipeline can be reused or other buckets must
// be flushed first. It also serializes generations through a bounded
// admission queue.
//
// Files by concern:
//
//   - types.go: TaskKind, Bucket, EvictionPolicy, SlotState.
//   - family.go: Family and its task → bucket table.
//   - config.go: Config and package defaults; New applies defaults.
//   - manager.go: Manager type, Ready, Close.
//   - prepare.go: Prepare (cache hit / miss, construction).
//   - evict.go: Evict, Flush, Invalidate and budget eviction.
//   - admission.go: queueing and the single in-flight slot; Do.
//   - status_report.go: Status for /status.
//   - errors.go: error types and Is* helpers.
//   - events.go, eventpub_memory.go: lifecycle events.
//   - metrics.go: Prometheus collectors.
package manager
