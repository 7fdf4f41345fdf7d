// Package postgres implements the task, history and notification stores on
// PostgreSQL through database/sql and the pgx driver. Every task write is a
// conditional UPDATE on id, status and version, and Transactor binds the
// three stores to one transaction per unit of work. Schema changes are goose
// migrations embedded in the binary.
package postgres
