// Package storage defines the ProjectStore interface implemented by the
// storage adapters (memory, postgres, sqlite), together with the sentinel
// errors and tenant context helpers they share.
package storage
