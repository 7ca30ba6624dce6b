// Package store defines the persistence interfaces consumed by the core
// components, along with the shared error values implementations map their
// backend failures onto. Concrete backends live under internal/platform.
package store
