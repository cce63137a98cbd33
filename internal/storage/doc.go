// Package storage persists tasks, assignees, group timezones and the
// bookkeeping of bot messages (tracked and pinned).
//
// The SQLite backend is the source of truth shared by the scheduler tick
// and every interaction handler; nothing above it caches task state.
package storage
