package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/session"
)

// Screenshot captures the surface and writes it to disk. Compression selects
// JPEG at the requested quality, otherwise PNG. Without a path the image goes
// to <screenshot dir>/screenshot-<timestamp>.<ext>.
func (o surfaceOps) Screenshot(ctx context.Context, s *session.Session, req ScreenshotRequest) (*ScreenshotResult, error) {
	sf, err := o.surface(OpScreenshot, s, req.Surface)
	if err != nil {
		return nil, err
	}

	compress := o.cfg.Screenshot.Compress
	if req.Compress != nil {
		compress = *req.Compress
	}
	quality := req.Quality
	if quality <= 0 {
		quality = o.cfg.Screenshot.Quality
	}
	if quality > 100 {
		quality = 100
	}

	opts := engine.ScreenshotOptions{Format: "png", FullPage: req.FullPage}
	ext, mime := ".png", "image/png"
	if compress {
		opts.Format, opts.Quality = "jpeg", quality
		ext, mime = ".jpg", "image/jpeg"
	}

	path := req.Path
	if path == "" {
		name := fmt.Sprintf("screenshot-%s%s", o.now().Format("20060102-150405.000"), ext)
		path = filepath.Join(o.cfg.Screenshot.Dir, name)
	}
	if path, err = filepath.Abs(path); err != nil {
		return nil, &DriverError{Op: OpScreenshot, Err: err}
	}

	data, err := sf.Page.Screenshot(ctx, opts)
	if err != nil {
		return nil, wrapErr(OpScreenshot, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, &DriverError{Op: OpScreenshot, Err: fmt.Errorf("failed to create screenshot directory: %w", err)}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, &DriverError{Op: OpScreenshot, Err: fmt.Errorf("failed to write screenshot: %w", err)}
	}

	return &ScreenshotResult{Path: path, Data: data, MIMEType: mime}, nil
}
