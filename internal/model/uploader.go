package model

import "context"

// Uploader publishes a finished run, raw is the JSON encoded RunRecord.
type Uploader interface {
	Upload(ctx context.Context, runID string, raw []byte) error
}

type UploadCloser interface {
	Uploader
	Close() error
}
