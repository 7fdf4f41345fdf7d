// Package store defines the persistence contracts of the task engine: the
// task table, the append-only history log, the notification outbox, and the
// unit of work that binds a task mutation to its history row. Backends live
// under internal/platform.
package store
