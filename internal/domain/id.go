package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for application-owned entities.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

var runSeq atomic.Int64

func init() {
	runSeq.Store(time.Now().UnixMilli())
}

// NewRunID returns a process-unique, monotonically increasing run id. It is
// embedded in staging table names, so it must stay a plain positive integer.
func NewRunID() int64 {
	return runSeq.Add(1)
}
