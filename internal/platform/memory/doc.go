// Package memory provides an in-process implementation of the store
// interfaces. It honors the same conditional-update and unit-of-work
// semantics as the PostgreSQL stores and backs tests and the "memory"
// store driver.
package memory
