// Package twi is an asynchronous I²C (TWI) bus master.
//
// Requests are queued and executed from the bus interrupt (or a single
// event dispatcher) while the caller carries on. Each request reports
// through a caller-owned StatusCell: it reads Running once accepted and
// then one terminal value. Callers poll it; nothing blocks except
// submission while the queue is full.
//
//	var st twi.StatusCell
//	d.Send(0x50, buf, &st)
//	for !st.Done() {
//		// other work
//	}
//	if err := st.Err(); err != nil { ... }
//
// Buffers are borrowed, not copied. Do not modify a send buffer or read
// a receive buffer before the status is terminal.
package twi

import (
	"context"

	"asynctwi/errcode"
)

// Driver is one bus master: a request queue plus the protocol state
// machine. HandleEvent is its interrupt entry point.
type Driver struct {
	cfg  Config
	ctrl Controller

	// sub is the submit token: held from reserve to commit, never taken on
	// the event path. A channel so that waiting for it honours a deadline.
	sub chan struct{}
	q   *queue
	m  machine
}

// Ensure the driver receives controller events.
var _ EventHandler = (*Driver)(nil)

// New configures ctrl (bus setup) and returns an idle driver. The bus
// is not enabled until Open.
func New(ctrl Controller, cfg Config) (*Driver, error) {
	cfg = cfg.withDefaults()
	d := &Driver{
		cfg:  cfg,
		ctrl: ctrl,
		sub:  make(chan struct{}, 1),
		q:    newQueue(cfg.QueueSize),
	}
	d.m.init(ctrl, d.q, cfg.OnComplete)
	if err := ctrl.Configure(cfg, d); err != nil {
		return nil, &errcode.E{C: errcode.Of(err), Op: "twi.setup", Err: err}
	}
	return d, nil
}

// Open enables the bus peripheral.
func (d *Driver) Open() { d.ctrl.Enable() }

// Close disables the bus peripheral. No request may be in flight or
// submitted afterwards.
func (d *Driver) Close() { d.ctrl.Disable() }

// Config returns the effective configuration.
func (d *Driver) Config() Config { return d.cfg }

// HandleEvent feeds one bus event to the state machine. Controllers call
// it from their interrupt handler; it must not be called concurrently.
func (d *Driver) HandleEvent(ev Event, data byte) { d.m.handle(ev, data) }

// IsSwamped reports whether the queue has no free slot, i.e. whether the
// next submission would block.
func (d *Driver) IsSwamped() bool { return d.q.Full() }

// Pending is the number of queued requests, including the one in flight.
func (d *Driver) Pending() int { return d.q.Len() }

// Send writes buf to the device at addr.
func (d *Driver) Send(addr uint16, buf []byte, st *StatusCell) {
	t, _ := d.reserve(nil, addr, st)
	t.w = buf
	d.commit(t)
}

// Receive reads len(buf) bytes from the device at addr into buf.
func (d *Driver) Receive(addr uint16, buf []byte, st *StatusCell) {
	t, _ := d.reserve(nil, addr, st)
	t.r = buf
	d.commit(t)
}

// SendAndReceive writes w, then, after a repeated start, reads len(r)
// bytes into r. The send phase always completes before r is touched.
func (d *Driver) SendAndReceive(addr uint16, w, r []byte, st *StatusCell) {
	t, _ := d.reserve(nil, addr, st)
	t.w, t.r = w, r
	d.commit(t)
}

// SendByte writes a single byte. b is copied into the request.
func (d *Driver) SendByte(addr uint16, b byte, st *StatusCell) {
	t, _ := d.reserve(nil, addr, st)
	t.inl[0] = b
	t.w = t.inl[:1]
	d.commit(t)
}

// SendTwoBytes writes v low byte first. v is copied into the request.
func (d *Driver) SendTwoBytes(addr uint16, v uint16, st *StatusCell) {
	t, _ := d.reserve(nil, addr, st)
	t.inl[0] = byte(v)
	t.inl[1] = byte(v >> 8)
	t.w = t.inl[:2]
	d.commit(t)
}

// ReceiveByte reads one byte and stores it in *dst on success.
func (d *Driver) ReceiveByte(addr uint16, dst *byte, st *StatusCell) {
	if dst == nil {
		panic("twi: nil destination")
	}
	t, _ := d.reserve(nil, addr, st)
	t.r = t.inl[:1]
	t.sink8 = dst
	d.commit(t)
}

// ReceiveTwoBytes reads two bytes, low byte first, and stores them in
// *dst on success.
func (d *Driver) ReceiveTwoBytes(addr uint16, dst *uint16, st *StatusCell) {
	if dst == nil {
		panic("twi: nil destination")
	}
	t, _ := d.reserve(nil, addr, st)
	t.r = t.inl[:2]
	t.sink16 = dst
	d.commit(t)
}

// Submit is SendAndReceive with a bounded wait for a free slot. If ctx
// ends first the request is not queued, st is left untouched and an
// error with code errcode.Busy is returned.
func (d *Driver) Submit(ctx context.Context, addr uint16, w, r []byte, st *StatusCell) error {
	t, ok := d.reserve(ctx.Done(), addr, st)
	if !ok {
		return &errcode.E{C: errcode.Busy, Op: "twi.submit", Msg: "queue full", Err: ctx.Err()}
	}
	t.w, t.r = w, r
	d.commit(t)
	return nil
}

// reserve takes the submit token and a free slot, giving up when done
// fires first. On success the token is held until commit.
func (d *Driver) reserve(done <-chan struct{}, addr uint16, st *StatusCell) (*txn, bool) {
	if st == nil {
		panic("twi: nil status cell")
	}
	if addr > 0x7F {
		panic("twi: address is not 7-bit")
	}
	select {
	case d.sub <- struct{}{}:
	default:
		select {
		case d.sub <- struct{}{}:
		case <-done:
			return nil, false
		}
	}
	t, ok := d.q.reserve(done)
	if !ok {
		<-d.sub
		return nil, false
	}
	t.addr = addr
	t.status = st
	return t, true
}

// commit marks the request Running, publishes it and wakes the machine.
func (d *Driver) commit(t *txn) {
	if len(t.w) > MaxTransfer || len(t.r) > MaxTransfer {
		t.reset()
		<-d.sub
		panic("twi: transfer longer than MaxTransfer")
	}
	t.status.store(Running)
	d.q.publish()
	<-d.sub

	d.m.kick()
}
