package twi

import (
	"context"
	"time"

	"asynctwi/errcode"
	"asynctwi/x/conv"

	"tinygo.org/x/drivers"
)

// I2C adapts a Driver to the blocking tinygo.org/x/drivers.I2C contract
// so that existing device drivers can share the asynchronous queue.
// It is safe for concurrent use.
type I2C struct {
	d *Driver
	// Timeout bounds both admission and completion of each Tx; 0 waits
	// forever.
	Timeout time.Duration
	// Poll is the sleep between status loads; 0 yields instead.
	Poll time.Duration
}

// Ensure compile-time conformance with drivers.I2C
var _ drivers.I2C = (*I2C)(nil)

// I2C returns a blocking view of d.
func (d *Driver) I2C(timeout time.Duration) *I2C {
	return &I2C{d: d, Timeout: timeout}
}

// Tx writes w and then reads into r with a repeated start, blocking until
// the request finishes. Either slice may be empty; both empty only addresses addr.
//
// On errcode.Timeout the request is still queued or in flight and will
// complete in the background: w and r stay borrowed until then.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if addr > 0x7F || len(w) > MaxTransfer || len(r) > MaxTransfer {
		return &errcode.E{C: errcode.InvalidParams, Op: "i2c.tx", Msg: "address or length out of range"}
	}

	ctx := context.Background()
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}

	var st StatusCell
	if err := b.d.Submit(ctx, addr, w, r, &st); err != nil {
		return err
	}
	s, err := Wait(ctx, &st, b.Poll)
	if err != nil {
		return &errcode.E{C: errcode.Timeout, Op: "i2c.tx", Msg: "addr " + conv.Hex8(byte(addr)), Err: err}
	}
	if s != Success {
		return &errcode.E{C: s.Code(), Op: "i2c.tx", Msg: "addr " + conv.Hex8(byte(addr))}
	}
	return nil
}
