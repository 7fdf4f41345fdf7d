// Package lifecycle implements the task state machine.
//
// Every operation is a single unit of work: the task row is rewritten with a
// conditional update keyed on its status and version, exactly one history
// row is appended, and any notifications are enqueued. Either all of it
// commits or none of it does. Concurrent engines sharing one store therefore
// never both win the same transition; the loser gets an InvalidStateError or
// a ConflictError.
package lifecycle
