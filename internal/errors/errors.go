package errors

import (
	"errors"
	"fmt"
)

// Local store errors.
var (
	ErrNoMapping  = errors.New("no column mapping for resource")
	ErrNotFound   = errors.New("record not found")
	ErrTombstoned = errors.New("record is deleted")
)

// Sync errors.
var (
	ErrOffline        = errors.New("no network connection")
	ErrRemoteRejected = errors.New("remote rejected request")
	ErrPullFailed     = errors.New("pull from server failed")
	ErrSyncInProgress = errors.New("full sync already in progress")
)

// Server/transport errors.
var (
	ErrAPIRequest  = errors.New("API request failed")
	ErrAPIResponse = errors.New("unexpected API response")
)

// SyncError records which operation on which resource failed. Err is one
// of the sentinels above, usually wrapped with more context.
type SyncError struct {
	Op       string
	Resource string
	Err      error
}

func (e *SyncError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Op, e.Resource, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
