// Package db defines the ability to create a new database for the ceremony
// coordinator.
package db

import (
	"context"

	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/db/kv"
	"github.com/zkmpc/ceremonyd/time/clock"
)

// Database defines the necessary methods for the coordinator backend which
// may be implemented by any key-value or relational database in practice.
type Database = iface.Database

// ReadOnlyDatabase exposes the coordinator document reads.
type ReadOnlyDatabase = iface.ReadOnlyDatabase

// Batch is an atomic, conditionally guarded set of document writes.
type Batch = iface.Batch

// ErrConflict is returned when a guarded write in a batch observed a document
// modified since it was read.
var ErrConflict = kv.ErrConflict

// NewDatabase initializes a key-value store at the directory path specified.
func NewDatabase(ctx context.Context, dirPath string, c clock.Clock) (Database, error) {
	return kv.NewKVStore(ctx, dirPath, &kv.Config{Clock: c})
}
