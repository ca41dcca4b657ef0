package executor

// Package executor drives one job from Pending to a terminal state: resolve
// stream tokens, download one or two streams concurrently into scratch files
// with stall detection and bounded retries, optionally mux, then move the
// output into place atomically. Cancellation is cooperative and observed at
// phase boundaries and at chunk-read granularity.
