// Package periphbus exposes a twi.Driver as a periph.io I²C bus, so
// periph device drivers and i2c.Dev can run on the asynchronous queue.
package periphbus

import (
	"time"

	"asynctwi/errcode"
	"asynctwi/twi"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// Bus implements i2c.BusCloser on top of a twi.Driver.
type Bus struct {
	name string
	d    *twi.Driver
	tx   *twi.I2C
}

// Ensure compile-time conformance with i2c.BusCloser
var _ i2c.BusCloser = (*Bus)(nil)

// New wraps d. timeout bounds each Tx (0 waits forever).
func New(name string, d *twi.Driver, timeout time.Duration) *Bus {
	return &Bus{name: name, d: d, tx: d.I2C(timeout)}
}

func (b *Bus) String() string { return b.name }

// Tx runs one combined transaction and blocks until it finishes.
func (b *Bus) Tx(addr uint16, w, r []byte) error { return b.tx.Tx(addr, w, r) }

// SetSpeed only accepts the frequency the driver was configured with;
// the driver runs at a single fixed clock.
func (b *Bus) SetSpeed(f physic.Frequency) error {
	want := physic.Frequency(b.d.Config().Frequency) * physic.Hertz
	if f == want {
		return nil
	}
	return &errcode.E{C: errcode.Unsupported, Op: "periphbus.setspeed", Msg: "bus runs at " + want.String()}
}

// Close disables the underlying bus.
func (b *Bus) Close() error {
	b.d.Close()
	return nil
}
