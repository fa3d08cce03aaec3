package session

import (
	"context"
)

// include runs the create-time script, if any. A synchronous include runs
// on the calling goroutine and its error is returned. An asynchronous one
// runs outside the registry lock on its own goroutine; its error goes only
// to the session. Create has already counted an asynchronous include in
// r.includes.
func (r *Registry) include(ctx context.Context, e *entry, co createConfig) error {
	if co.include == "" {
		return nil
	}

	if !co.async {
		if err := e.in.Include(ctx, co.include); err != nil {
			r.cfg.logger.Debug("include failed", "handle", e.handle, "path", co.include, "error", err)
			return err
		}
		return nil
	}

	go func() {
		defer r.includes.Done()
		// not tied to the creator's lifetime
		if err := e.in.Include(context.Background(), co.include); err != nil {
			r.cfg.logger.Error("background include failed", "handle", e.handle, "path", co.include, "error", err)
			e.in.ReportError(err)
			return
		}
		r.cfg.logger.Debug("background include finished", "handle", e.handle, "path", co.include)
	}()
	return nil
}
