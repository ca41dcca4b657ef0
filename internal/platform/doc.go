package platform

// Package platform contains filesystem glue: directory creation, the default
// downloads location, atomic file moves with a cross-device fallback, and
// per-job scratch directory lifecycle.
