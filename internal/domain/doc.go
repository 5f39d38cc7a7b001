// Package domain defines the poll, vote and user types plus the contracts
// between the vote path, the fan-out subsystem and storage.
//
// No implementation lives here; packages depend on these interfaces so that
// storage and transport can be swapped without import cycles.
package domain
