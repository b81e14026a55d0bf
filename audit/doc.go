// Package audit records server lifecycle events to pluggable sinks.
//
// The factory emits created and create-failed events, the instance
// watchdog emits stopped and failed events. Sinks are addressed by URI
// through SinkFor: files get JSON lines appended, S3 buckets get batched
// JSONL objects, stderr streams lines for development, and noop drops
// everything. Several URIs compose into one fan-out sink via Combined.
//
// Recording is best-effort from the caller's point of view: lifecycle
// operations log sink failures but never fail because of them.
package audit
