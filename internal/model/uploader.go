package model

import "context"

// Uploader publishes the JSON encoded result of a finished run.
type Uploader interface {
	Upload(ctx context.Context, raw []byte) error
}

type UploadCloser interface {
	Uploader
	Close() error
}
