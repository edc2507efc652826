package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/diskbench-bridge/internal/model"
)

// Uploaders builds the result sinks configured in cfg. Nil cfg means no sink.
func Uploaders(cfg *model.Results) ([]model.Uploader, error) {
	if cfg == nil {
		return nil, nil
	}
	var uploaders []model.Uploader
	if cfg.Dir != "" {
		u, err := NewOSRootUploader(cfg.Dir)
		if err != nil {
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	if cfg.URL != "" {
		u, err := NewRepoUploader(cfg.URL)
		if err != nil {
			for _, prev := range uploaders {
				if c, ok := prev.(model.UploadCloser); ok {
					_ = c.Close()
				}
			}
			return nil, err
		}
		uploaders = append(uploaders, u)
	}
	return uploaders, nil
}

// WriteUploader writes each result followed by a newline.
type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, _ string, raw []byte) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	if _, err := u.w.Write(raw); err != nil {
		return err
	}
	_, err := u.w.Write([]byte{'\n'})
	return err
}

// OSRootUploader stores each result as diskbench-<run id>.json in a directory.
type OSRootUploader struct {
	root *os.Root
}

func NewOSRootUploader(path string) (*OSRootUploader, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating results dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &OSRootUploader{root: root}, nil
}

func (u *OSRootUploader) Upload(ctx context.Context, runID string, b []byte) error {
	if u.root == nil {
		return errors.New("root already closed")
	}

	path := "diskbench-" + runID + ".json"
	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating result file: %w", err)
	}
	if _, err = f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("saving result: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing result: %w", err)
	}
	slog.InfoContext(ctx, "result saved", "path", path)
	return nil
}

func (u *OSRootUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}
