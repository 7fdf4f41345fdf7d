// Package sweeper enforces task deadlines. On a fixed interval it selects
// overdue OPEN, RESERVED and ASSIGNED tasks and either escalates them to
// their queue's configured target or closes them on behalf of the system.
// Each task is handled in its own unit of work; a task that fails is logged
// and picked up again by the next run.
package sweeper
