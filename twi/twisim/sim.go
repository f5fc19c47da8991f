// Package twisim is an in-memory I²C bus for tests and host-side demos.
//
// Bus implements twi.Controller. Commands are answered with events that
// queue up inside the bus; they are delivered to the driver either one
// at a time by Step/Drain (deterministic tests) or by Run, which plays
// the role of the bus interrupt on its own goroutine. Devices are
// attached as Targets by 7-bit address. Every bus operation is appended
// to a trace for inspection.
package twisim

import (
	"context"
	"sync"
	"time"

	"asynctwi/twi"
	"asynctwi/x/conv"
	"asynctwi/x/timex"
)

// Target is a simulated slave device.
type Target interface {
	// Address is called for the address byte; return true to ACK.
	Address(read bool) bool
	// Write receives one data byte; return true to ACK it.
	Write(b byte) bool
	// Read returns the next byte to drive onto the bus.
	Read() byte
	// Stop ends the transfer (stop condition or repeated start).
	Stop()
}

// OpKind is the kind of a traced bus operation.
type OpKind uint8

const (
	OpStart OpKind = iota
	OpRepStart
	OpAddr  // Byte is the address byte; Ack is the slave's answer
	OpWrite // Byte written by the master; Ack is the slave's answer
	OpRead  // Byte driven by the slave; Ack is the master's answer
	OpStop
	OpRelease
	OpFault
)

// Op is one traced operation.
type Op struct {
	Kind OpKind
	Byte byte
	Ack  bool
}

func (o Op) String() string {
	ack := func() string {
		if o.Ack {
			return " ack"
		}
		return " nack"
	}
	switch o.Kind {
	case OpStart:
		return "S"
	case OpRepStart:
		return "Sr"
	case OpAddr:
		return "A " + conv.Hex8(o.Byte) + ack()
	case OpWrite:
		return "W " + conv.Hex8(o.Byte) + ack()
	case OpRead:
		return "R " + conv.Hex8(o.Byte) + ack()
	case OpStop:
		return "P"
	case OpRelease:
		return "release"
	case OpFault:
		return "fault"
	default:
		return "?"
	}
}

// Fault is an injected bus failure.
type Fault uint8

const (
	FaultNone Fault = iota
	FaultArbitration
	FaultBusError
)

type event struct {
	ev   twi.Event
	data byte
}

// Bus is a simulated bus controller with attached targets.
type Bus struct {
	// Realtime delays every event by one byte time at the configured
	// frequency. Set before Configure.
	Realtime bool

	mu      sync.Mutex
	targets map[uint16]Target
	trace   []Op
	enabled bool
	owned   bool // between start and stop/release
	addrNxt bool // next Write is an address byte
	cur     Target
	reading bool
	fault   Fault
	faultAt int // number of Writes to let through before fault fires

	h      twi.EventHandler
	hz     uint32
	events chan event
}

// Ensure compile-time conformance with twi.Controller
var _ twi.Controller = (*Bus)(nil)

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		targets: make(map[uint16]Target),
		events:  make(chan event, 8),
	}
}

// Attach places t at the 7-bit address addr.
func (b *Bus) Attach(addr uint16, t Target) {
	b.mu.Lock()
	b.targets[addr&0x7F] = t
	b.mu.Unlock()
}

// Detach removes whatever target sits at addr.
func (b *Bus) Detach(addr uint16) {
	b.mu.Lock()
	delete(b.targets, addr&0x7F)
	b.mu.Unlock()
}

// Inject arms fault f. It fires on the Write command issued after
// `after` further Writes have gone through (0 = the next one).
func (b *Bus) Inject(f Fault, after int) {
	b.mu.Lock()
	b.fault = f
	b.faultAt = after
	b.mu.Unlock()
}

// Trace returns a copy of the operations seen so far.
func (b *Bus) Trace() []Op {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Op(nil), b.trace...)
}

// ResetTrace clears the trace.
func (b *Bus) ResetTrace() {
	b.mu.Lock()
	b.trace = b.trace[:0]
	b.mu.Unlock()
}

// ---- twi.Controller ----

func (b *Bus) Configure(cfg twi.Config, h twi.EventHandler) error {
	b.mu.Lock()
	b.h = h
	b.hz = cfg.Frequency
	b.mu.Unlock()
	return nil
}

func (b *Bus) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

func (b *Bus) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.owned = false
	b.cur = nil
	b.mu.Unlock()
}

func (b *Bus) Start() {
	b.mu.Lock()
	if !b.enabled {
		b.trace = append(b.trace, Op{Kind: OpFault})
		b.mu.Unlock()
		b.post(twi.EvBusError, 0)
		return
	}
	ev := twi.EvStart
	if b.owned {
		if b.cur != nil {
			b.cur.Stop()
		}
		ev = twi.EvRepStart
		b.trace = append(b.trace, Op{Kind: OpRepStart})
	} else {
		b.trace = append(b.trace, Op{Kind: OpStart})
	}
	b.owned = true
	b.addrNxt = true
	b.cur = nil
	b.mu.Unlock()
	b.post(ev, 0)
}

func (b *Bus) Write(v byte) {
	b.mu.Lock()
	if f := b.takeFault(); f != FaultNone {
		b.trace = append(b.trace, Op{Kind: OpFault, Byte: v})
		ev := twi.EvBusError
		if f == FaultArbitration {
			ev = twi.EvArbLost
			b.owned = false
			b.cur = nil
		}
		b.mu.Unlock()
		b.post(ev, 0)
		return
	}
	if !b.owned {
		b.trace = append(b.trace, Op{Kind: OpFault, Byte: v})
		b.mu.Unlock()
		b.post(twi.EvBusError, 0)
		return
	}

	if b.addrNxt {
		b.addrNxt = false
		read := v&1 != 0
		t := b.targets[uint16(v>>1)]
		ack := t != nil && t.Address(read)
		b.trace = append(b.trace, Op{Kind: OpAddr, Byte: v, Ack: ack})
		b.reading = read
		if ack {
			b.cur = t
		}
		b.mu.Unlock()
		switch {
		case read && ack:
			b.post(twi.EvAddrReadAck, 0)
		case read:
			b.post(twi.EvAddrReadNack, 0)
		case ack:
			b.post(twi.EvAddrWriteAck, 0)
		default:
			b.post(twi.EvAddrWriteNack, 0)
		}
		return
	}

	if b.reading {
		b.trace = append(b.trace, Op{Kind: OpFault, Byte: v})
		b.mu.Unlock()
		b.post(twi.EvBusError, 0)
		return
	}
	ack := b.cur != nil && b.cur.Write(v)
	b.trace = append(b.trace, Op{Kind: OpWrite, Byte: v, Ack: ack})
	b.mu.Unlock()
	if ack {
		b.post(twi.EvDataWriteAck, 0)
	} else {
		b.post(twi.EvDataWriteNack, 0)
	}
}

func (b *Bus) Read(ack bool) {
	b.mu.Lock()
	if b.cur == nil || !b.reading {
		b.trace = append(b.trace, Op{Kind: OpFault})
		b.mu.Unlock()
		b.post(twi.EvBusError, 0)
		return
	}
	v := b.cur.Read()
	b.trace = append(b.trace, Op{Kind: OpRead, Byte: v, Ack: ack})
	b.mu.Unlock()
	if ack {
		b.post(twi.EvDataReadAck, v)
	} else {
		b.post(twi.EvDataReadNack, v)
	}
}

func (b *Bus) Stop() {
	b.mu.Lock()
	if b.cur != nil {
		b.cur.Stop()
	}
	b.cur = nil
	b.owned = false
	b.addrNxt = false
	b.trace = append(b.trace, Op{Kind: OpStop})
	b.mu.Unlock()
	b.post(twi.EvStop, 0)
}

func (b *Bus) Release() {
	b.mu.Lock()
	if b.cur != nil {
		b.cur.Stop()
	}
	b.cur = nil
	b.owned = false
	b.addrNxt = false
	b.trace = append(b.trace, Op{Kind: OpRelease})
	b.mu.Unlock()
}

// caller holds lock
func (b *Bus) takeFault() Fault {
	if b.fault == FaultNone {
		return FaultNone
	}
	if b.faultAt > 0 {
		b.faultAt--
		return FaultNone
	}
	f := b.fault
	b.fault = FaultNone
	return f
}

func (b *Bus) post(ev twi.Event, data byte) {
	select {
	case b.events <- event{ev: ev, data: data}:
	default:
		// The driver has at most one command outstanding.
		panic("twisim: event queue overflow")
	}
}

// ---- dispatch ----

// Step delivers one pending event, if any, on the calling goroutine.
func (b *Bus) Step() bool {
	select {
	case e := <-b.events:
		b.deliver(e)
		return true
	default:
		return false
	}
}

// Drain steps until no event is pending and returns how many were
// delivered.
func (b *Bus) Drain() int {
	n := 0
	for b.Step() {
		n++
	}
	return n
}

// Run delivers events as they arrive until ctx is cancelled. It must be
// the only dispatcher.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-b.events:
			b.deliver(e)
		}
	}
}

func (b *Bus) deliver(e event) {
	b.mu.Lock()
	h, hz, rt := b.h, b.hz, b.Realtime
	b.mu.Unlock()
	if h == nil {
		return
	}
	if rt {
		time.Sleep(timex.ByteTime(hz))
	}
	h.HandleEvent(e.ev, e.data)
}
