package batch

// Package batch owns the set of jobs derived from one user submission. The
// coordinator aggregates member snapshots into a batch status and an overall
// progress figure, propagates cancellation, and resubmits failed members on
// request; the manager enforces that at most one batch is active at a time.
