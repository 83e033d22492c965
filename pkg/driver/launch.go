package driver

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pilot/pkg/engine"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/session"
)

const defaultLaunchTimeout = 30 * time.Second

// newSessionID issues session identifiers. Replaced in tests.
var newSessionID = func() string { return uuid.NewString() }

type launchResult struct {
	ctx engine.Context
	err error
}

// startEngine runs launcher.Launch bounded by timeout. On expiry it returns a
// TimeoutError at once and closes whatever context the launcher produces
// later, so nothing outlives a failed launch.
func startEngine(ctx context.Context, kind session.Kind, launcher engine.Launcher, opts engine.LaunchOptions, timeout time.Duration, log *logging.Logger) (engine.Context, error) {
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	opts.Timeout = timeout

	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan launchResult, 1)
	go func() {
		ectx, err := launcher.Launch(launchCtx, opts)
		done <- launchResult{ctx: ectx, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if launchCtx.Err() != nil {
				return nil, &TimeoutError{Op: OpLaunch, Timeout: timeout, Err: r.err}
			}
			return nil, &LaunchError{Kind: kind, Reason: "engine failed to start", Err: r.err}
		}
		return r.ctx, nil
	case <-launchCtx.Done():
		go func() {
			r := <-done
			if r.ctx == nil {
				return
			}
			if err := r.ctx.Close(context.Background()); err != nil {
				log.Warnf("Closing late %s context failed: %v", kind, err)
			}
		}()
		return nil, &TimeoutError{Op: OpLaunch, Timeout: timeout, Err: launchCtx.Err()}
	}
}

// discard closes an engine context after a launch step failed.
func discard(ectx engine.Context, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ectx.Close(ctx); err != nil {
		log.Warnf("Closing context after failed launch: %v", err)
	}
}

// firstPage returns the engine's first page, opening one if none exist.
func firstPage(ctx context.Context, ectx engine.Context) (engine.Page, []engine.Page, error) {
	pages, err := ectx.Pages(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(pages) > 0 {
		return pages[0], pages, nil
	}
	p, err := ectx.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, []engine.Page{p}, nil
}
