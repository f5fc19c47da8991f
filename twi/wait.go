package twi

import (
	"context"
	"runtime"
	"time"

	"asynctwi/errcode"
)

var errNotSubmitted = &errcode.E{C: errcode.InvalidParams, Op: "twi.wait", Msg: "status cell never submitted"}

// Wait polls st until it is terminal or ctx ends. poll is the sleep
// between loads; poll <= 0 yields the processor instead of sleeping.
// It returns the last status observed and ctx.Err() on cancellation.
func Wait(ctx context.Context, st *StatusCell, poll time.Duration) (Status, error) {
	for {
		s := st.Load()
		if s.Terminal() {
			return s, nil
		}
		if s == Unused {
			return s, errNotSubmitted
		}
		select {
		case <-ctx.Done():
			if s := st.Load(); s.Terminal() {
				return s, nil
			}
			return Running, ctx.Err()
		default:
		}
		if poll > 0 {
			time.Sleep(poll)
		} else {
			runtime.Gosched()
		}
	}
}
