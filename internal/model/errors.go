package model

import (
	"errors"
)

var (
	ErrRunFailed      = errors.New("roam run failed")
	ErrRunRejected    = errors.New("roam run rejected: another run is active")
	ErrNoSchedule     = errors.New("service.schedule is required in timer mode")
	ErrUploaderClosed = errors.New("uploader already closed")
)
