package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/GIScience/oshdb-sub001/kernel"
	"github.com/GIScience/oshdb-sub001/oshdb_errors"
)

type outcome struct {
	val any
	err error
}

// Supervise runs fn and waits for it for at most timeout (forever when
// timeout is zero). On expiry the token and the context passed to fn are
// cancelled and an ErrTimeout error is returned right away; fn keeps
// running until it notices. Cancellation of ctx is handled the same way
// and returns ctx.Err().
func Supervise(ctx context.Context, timeout time.Duration, token *kernel.Token, fn func(context.Context) (any, error)) (any, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		out.err = guard(func() (err error) {
			out.val, err = fn(runCtx)
			return err
		})()
		done <- out
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case out := <-done:
		cancel()
		return out.val, out.err
	case <-expired:
		token.Cancel()
		cancel()
		return nil, fmt.Errorf("%w after %s", oshdb_errors.ErrTimeout, timeout)
	case <-ctx.Done():
		token.Cancel()
		cancel()
		return nil, ctx.Err()
	}
}
