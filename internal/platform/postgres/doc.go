// Package postgres contains the PostgreSQL implementations of the store
// interfaces. All database errors are mapped onto the shared store error
// values via MapError so callers never depend on driver-specific types.
package postgres
