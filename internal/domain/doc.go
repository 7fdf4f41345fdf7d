// Package domain contains the casework entities the lifecycle engine operates
// on: tasks, their append-only history, the notifications raised for users,
// and the closed role table used to project tasks for different callers.
// It is independent of any storage or delivery mechanism.
package domain
