package queue

// Package queue schedules jobs onto a fixed-size worker pool: FIFO admission
// in submission order, at most K jobs running at once, one shared
// cancellation signal, and an event feed that coalesces per job so a slow
// consumer sees the latest snapshot instead of an unbounded backlog.
