package model

// Package model defines the domain data structures shared across the engine:
// media entries and format options produced by metadata resolution, jobs with
// atomically published state/progress snapshots, and batch-level status
// aggregation.
