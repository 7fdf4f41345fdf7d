// Package api exposes the task lifecycle engine over HTTP. It handles
// routing, request validation, role-based projection of task fields and
// mapping of engine errors to status codes. Caller identity arrives in
// trusted headers set by the surrounding application.
package api
