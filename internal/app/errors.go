package app

import "errors"

var (
	ErrQuotaExceeded           = errors.New("room quota exceeded")
	ErrMasterRoomMissing       = errors.New("master room missing")
	ErrPlatformOperationFailed = errors.New("platform operation failed")
	ErrRegistryWriteFailed     = errors.New("registry write failed")
	// ErrStaleRoom marks a room that was already gone when re-verified. Not a failure.
	ErrStaleRoom       = errors.New("room already gone")
	ErrSweepInProgress = errors.New("sweep already in progress")
)
