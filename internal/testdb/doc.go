// Package testdb provides helpers for integration tests that need a real
// PostgreSQL database. Tests using it are skipped unless DATABASE_URL or
// CASEQ_TEST_DB_URL is set.
package testdb
